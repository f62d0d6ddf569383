package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/authsession/internal/api"
	"github.com/dmitrijs2005/authsession/internal/client/client"
	"github.com/dmitrijs2005/authsession/internal/client/config"
	"github.com/dmitrijs2005/authsession/internal/client/repositories/credentials"
	"github.com/dmitrijs2005/authsession/internal/flagx"
)

// Client is the subset of client.GRPCClient the commands use.
type Client interface {
	Ping(ctx context.Context) error
	Register(ctx context.Context, username, email string, password []byte) (int64, error)
	Login(ctx context.Context, username string, password []byte, deviceInfo *string) (*api.AuthResponse, error)
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	Sessions(ctx context.Context) ([]api.Session, error)
	Revoke(ctx context.Context, token string) error
	Export(ctx context.Context) (*api.ExportSessionsResponse, error)
	Username() string
	CurrentToken() string
	Close() error
}

type App struct {
	client  Client
	db      *sql.DB
	timeout time.Duration
	reader  *bufio.Reader
	out     io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	db, err := client.InitDatabase(ctx, c.StorePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing local store: %w", err)
	}

	store := client.NewTokenStore(credentials.NewSQLiteRepository(db))
	apiClient, err := client.NewGRPCClient(ctx, c.ServerEndpointAddr, store)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		client:  apiClient,
		db:      db,
		timeout: c.RequestTimeout,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

func (a *App) Close() error {
	err := a.client.Close()
	if a.db != nil {
		if cerr := a.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type command struct {
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"ping":       {"ping", (*App).ping},
	"register":   {"register [-u username] [-e email]", (*App).register},
	"login":      {"login [-u username] [-d device]", (*App).login},
	"refresh":    {"refresh", (*App).refresh},
	"sessions":   {"sessions", (*App).sessions},
	"logout":     {"logout", (*App).logout},
	"logout-all": {"logout-all", (*App).logoutAll},
	"revoke":     {"revoke <token>", (*App).revoke},
	"export":     {"export [-o file]", (*App).export},
}

// Run executes the subcommand named in args. Global flags have already been
// consumed by config.LoadConfig and are ignored here.
func (a *App) Run(ctx context.Context, args []string) error {
	name, rest := flagx.SplitCommand(args)
	if name == "" || name == "help" {
		a.usage()
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command %q", name)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	return cmd.run(a, ctx, config.StripGlobalFlags(rest))
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "Usage: authsession [-a addr] [-f store] [-w seconds] [-c config.json] <command> [flags]")
	fmt.Fprintln(a.out, "Commands:")
	for _, name := range []string{"ping", "register", "login", "refresh", "sessions", "logout", "logout-all", "revoke", "export"} {
		fmt.Fprintf(a.out, "  %s\n", commands[name].usage)
	}
}
