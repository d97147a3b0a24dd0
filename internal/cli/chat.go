package cli

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"

	"filechat/internal/app"
	"filechat/internal/attachment"
	"filechat/internal/log"
	"filechat/internal/render"
)

const chatHelp = `Commands:
  /attach <path or glob>...  stage files for the next message
  /files                     list staged files
  /remove <n>                unstage file n (as numbered by /files)
  /clear                     unstage every file
  /send                      send the staged files without text
  /quit                      leave the chat`

type ChatCmd struct {
	Message string   `short:"m" long:"message" description:"send one message and exit"`
	Attach  []string `short:"a" long:"attach" description:"file, glob or afs URL to attach (repeatable)"`

	rt *Runner
}

func (c *ChatCmd) Execute(_ []string) error {
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
	s := &chatSession{rt: c.rt, app: a, token: sc.AuthToken}

	if len(c.Attach) > 0 {
		if err := s.attach(ctx, c.Attach); err != nil {
			return err
		}
	}
	if c.Message != "" || len(c.Attach) > 0 {
		return s.send(ctx, c.Message)
	}
	return s.loop(ctx)
}

type chatSession struct {
	rt    *Runner
	app   *app.App
	token string
}

func (s *chatSession) loop(ctx context.Context) error {
	for _, m := range s.app.Transcript.Snapshot() {
		s.rt.printf("%s\n", render.Line(m))
	}
	s.rt.printf("Type /help for commands.\n")

	scanner := bufio.NewScanner(s.rt.in)
	for {
		s.rt.printf("> ")
		if !scanner.Scan() {
			s.rt.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := s.send(ctx, line); err != nil {
				log.Debugf("chat: %v", err)
			}
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		args := strings.Fields(rest)
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			s.rt.printf("%s\n", chatHelp)
		case "/attach":
			if len(args) == 0 {
				s.rt.printf("usage: /attach <path or glob>...\n")
				continue
			}
			if err := s.attach(ctx, args); err != nil {
				s.rt.printf("%v\n", err)
			}
		case "/files":
			s.listFiles()
		case "/remove":
			s.remove(args)
		case "/clear":
			s.app.Stage.Clear()
			s.rt.printf("Attachments cleared\n")
		case "/send":
			if err := s.send(ctx, ""); err != nil {
				log.Debugf("chat: %v", err)
			}
		default:
			s.rt.printf("unknown command %s, try /help\n", cmd)
		}
	}
}

func (s *chatSession) attach(ctx context.Context, patterns []string) error {
	rejected, err := s.app.Picker.Pick(ctx, patterns...)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		s.rt.printf("skipped %s: %s\n", r.Name, r.Reason)
	}
	s.rt.printf("%d file(s) attached\n", s.app.Stage.Len())
	return nil
}

func (s *chatSession) listFiles() {
	files := s.app.Stage.Snapshot()
	if len(files) == 0 {
		s.rt.printf("No files attached\n")
		return
	}
	for i, f := range files {
		s.rt.printf("%d. %s %s (%s)\n", i+1, render.FileIcon(f.MimeType), f.Name, render.FileSize(f.SizeBytes))
	}
}

func (s *chatSession) remove(args []string) {
	if len(args) != 1 {
		s.rt.printf("usage: /remove <n>\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		s.rt.printf("usage: /remove <n>\n")
		return
	}
	if err := s.app.Stage.RemoveAt(n - 1); err != nil {
		if errors.Is(err, attachment.ErrIndexOutOfRange) {
			s.rt.printf("no attached file %d\n", n)
			return
		}
		s.rt.printf("%v\n", err)
		return
	}
	s.rt.printf("%d file(s) attached\n", s.app.Stage.Len())
}

// send submits text with the staged files and prints the reply once the cycle
// resolves. A failed cycle prints the fallback reply and returns its cause.
func (s *chatSession) send(ctx context.Context, text string) error {
	cycle, err := s.app.Pipeline.SubmitStaged(ctx, s.token, text)
	if err != nil {
		s.rt.printf("%v\n", err)
		return err
	}
	reply, err := cycle.Wait(ctx)
	if err != nil {
		return err
	}
	s.rt.printf("%s\n", render.Line(reply))
	return cycle.Err()
}
