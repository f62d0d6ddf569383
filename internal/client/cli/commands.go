package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/filex"
	"github.com/dmitrijs2005/authsession/internal/netx"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *App) ask(value *string, prompt string) error {
	if *value != "" {
		return nil
	}
	v, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return err
	}
	*value = v
	return nil
}

func (a *App) ping(ctx context.Context, _ []string) error {
	if err := a.client.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "OK")
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	var username, email string
	fs := newFlagSet("register")
	fs.StringVar(&username, "u", "", "username")
	fs.StringVar(&email, "e", "", "email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.ask(&username, "Enter username"); err != nil {
		return err
	}
	if err := a.ask(&email, "Enter email"); err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	id, err := a.client.Register(ctx, username, email, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered %s (id %d)\n", username, id)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	var username, device string
	fs := newFlagSet("login")
	fs.StringVar(&username, "u", "", "username")
	fs.StringVar(&device, "d", "", "device description")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.ask(&username, "Enter username"); err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	var deviceInfo *string
	if device != "" {
		deviceInfo = &device
	}

	resp, err := a.client.Login(ctx, username, password, deviceInfo)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", resp.Username)
	return nil
}

func (a *App) refresh(ctx context.Context, _ []string) error {
	if err := a.client.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Access token refreshed")
	return nil
}

func (a *App) sessions(ctx context.Context, _ []string) error {
	list, err := a.client.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No active sessions")
		return nil
	}

	current := a.client.CurrentToken()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tTOKEN\tDEVICE\tCREATED\tLAST USED")
	for _, s := range list {
		marker := ""
		if s.Token == current {
			marker = "*"
		}
		device := "-"
		if s.DeviceInfo != nil {
			device = *s.DeviceInfo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, s.Token, device,
			s.CreatedAt.Local().Format(time.DateTime), s.LastUsedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *App) logout(ctx context.Context, _ []string) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) logoutAll(ctx context.Context, _ []string) error {
	if err := a.client.LogoutAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "All sessions ended")
	return nil
}

var errTokenRequired = errors.New("usage: revoke <token>")

func (a *App) revoke(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errTokenRequired
	}
	if err := a.client.Revoke(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Session revoked")
	return nil
}

// download is a test seam for netx.DownloadPresignedURL.
var download = netx.DownloadPresignedURL

func (a *App) export(ctx context.Context, args []string) error {
	var output string
	fs := newFlagSet("export")
	fs.StringVar(&output, "o", "", "save the export to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.client.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported to %s\n%s\n", resp.Key, resp.URL)

	if output == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := download(ctx, resp.URL, &buf); err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(output, buf.Bytes(), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved to %s\n", output)
	return nil
}
