// Package cli is the filechat command line: account commands, history search,
// an interactive chat loop and the local gateway server.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"filechat/internal/app"
	"filechat/internal/config"
)

var errNotSignedIn = errors.New("not signed in: run `filechat login` first")

// Options is the root command. Sub-commands reach shared state through rt.
type Options struct {
	Config string `short:"f" long:"config" env:"FILECHAT_CONFIG" description:"config file (JSON or YAML)"`

	Register RegisterCmd `command:"register" description:"Create an account on the assistant service"`
	Login    LoginCmd    `command:"login" description:"Sign in and remember the session"`
	Logout   LogoutCmd   `command:"logout" description:"Forget the saved session"`
	History  HistoryCmd  `command:"history" description:"List or clear past conversations"`
	Chat     ChatCmd     `command:"chat" description:"Chat with the assistant, attaching files"`
	Serve    ServeCmd    `command:"serve" description:"Start the local gateway for the browser UI"`
}

// Runner carries the streams and config path shared by every command.
type Runner struct {
	in   io.Reader
	out  io.Writer
	opts *Options
}

func NewRunner(in io.Reader, out io.Writer) *Runner {
	r := &Runner{in: in, out: out, opts: &Options{}}
	r.opts.Register.rt = r
	r.opts.Login.rt = r
	r.opts.Logout.rt = r
	r.opts.History.rt = r
	r.opts.Chat.rt = r
	r.opts.Serve.rt = r
	return r
}

// Run parses args and executes the selected command.
func Run(args []string) error {
	return NewRunner(os.Stdin, os.Stdout).Run(args)
}

func (r *Runner) Run(args []string) error {
	parser := flags.NewParser(r.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "filechat"
	_, err := parser.ParseArgs(args)
	var ferr *flags.Error
	if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
		fmt.Fprintln(r.out, ferr.Message)
		return nil
	}
	return err
}

// loadConfig reads the -f file, falls back to ./config.json when present, and
// to built-in defaults otherwise.
func (r *Runner) loadConfig() (*config.Config, error) {
	if r.opts.Config != "" {
		return config.Load(r.opts.Config)
	}
	if _, err := os.Stat("config.json"); err == nil {
		return config.Load("")
	}
	return config.Default(), nil
}

func (r *Runner) open() (*app.App, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
