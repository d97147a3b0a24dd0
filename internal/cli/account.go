package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"filechat/internal/session"
)

type RegisterCmd struct {
	Username string `short:"u" long:"username" required:"true" description:"account name"`
	Password string `short:"p" long:"password" description:"password (prompted when omitted)"`
	Email    string `short:"e" long:"email" description:"optional e-mail address"`

	rt *Runner
}

func (c *RegisterCmd) Execute(_ []string) error {
	password, err := c.rt.password(c.Password)
	if err != nil {
		return err
	}
	a, err := c.rt.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Sessions.Register(context.Background(), c.Username, password, c.Email); err != nil {
		c.rt.printf("%s\n", session.FailureText(err))
		return err
	}
	c.rt.printf("%s\n", session.RegisteredText)
	return nil
}

type LoginCmd struct {
	Username string `short:"u" long:"username" required:"true" description:"account name"`
	Password string `short:"p" long:"password" description:"password (prompted when omitted)"`

	rt *Runner
}

func (c *LoginCmd) Execute(_ []string) error {
	password, err := c.rt.password(c.Password)
	if err != nil {
		return err
	}
	a, err := c.rt.open()
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.Sessions.Login(context.Background(), c.Username, password)
	if err != nil {
		c.rt.printf("%s\n", session.FailureText(err))
		return err
	}
	c.rt.printf("Signed in as %s\n", sc.CurrentUser.Username)
	return nil
}

type LogoutCmd struct {
	rt *Runner
}

func (c *LogoutCmd) Execute(_ []string) error {
	a, err := c.rt.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if _, ok, err := a.Restore(ctx); err != nil {
		return err
	} else if !ok {
		c.rt.printf("Not signed in\n")
		return nil
	}
	if err := a.Sessions.Logout(ctx); err != nil {
		return err
	}
	c.rt.printf("Signed out\n")
	return nil
}

// password returns the flag value or reads one line from the input stream.
func (r *Runner) password(given string) (string, error) {
	if given != "" {
		return given, nil
	}
	r.printf("Password: ")
	line, err := bufio.NewReader(r.in).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", fmt.Errorf("password is required")
	}
	return line, nil
}
