package cli

import (
	"context"
	"strings"
	"time"

	"filechat/internal/history"
	"filechat/internal/render"
)

type HistoryCmd struct {
	Query    string `short:"q" long:"query" description:"case-insensitive text to search for"`
	Category string `short:"c" long:"category" default:"all" description:"all, with-files or text-only"`
	Clear    bool   `long:"clear" description:"delete the whole history on the service"`

	rt *Runner
}

func (c *HistoryCmd) Execute(_ []string) error {
	category, err := history.ParseCategory(strings.ReplaceAll(c.Category, "-", "_"))
	if err != nil {
		return err
	}
	a, err := c.rt.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sc, ok, err := a.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errNotSignedIn
	}

	if c.Clear {
		if err := a.History.Clear(ctx, sc); err != nil {
			c.rt.printf("%s\n", history.ClearErrorText)
			return err
		}
		c.rt.printf("History cleared\n")
		return nil
	}

	loadErr := a.History.Load(ctx, sc)
	view := a.History.View(c.Query, category)
	if view.Error != "" {
		c.rt.printf("%s\n", view.Error)
	}
	if loadErr != nil && len(view.Records) == 0 {
		return loadErr
	}
	if len(view.Records) == 0 {
		c.rt.printf("No conversations found\n")
		return nil
	}
	now := time.Now()
	for _, r := range view.Records {
		c.rt.printf("#%d  %s\n", r.ID, render.When(now, r.CreatedAt.Time))
		if r.UserMessage != "" {
			c.rt.printf("  you: %s\n", r.UserMessage)
		}
		for _, f := range r.FilesInfo {
			c.rt.printf("  %s %s\n", render.FileIcon(f.Type), f.Filename)
		}
		c.rt.printf("  assistant: %s\n", r.BotResponse)
	}
	c.rt.printf("%d of %d conversations\n", len(view.Records), view.Total)
	return nil
}
