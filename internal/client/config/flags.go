package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/authsession/internal/flagx"
)

var globalFlags = []string{"-a", "-f", "-w"}

func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.StorePath, "f", cfg.StorePath, "path of the local session database")
	timeout := fs.Int("w", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(flagx.FilterArgs(args, globalFlags)); err != nil {
		return err
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
	return nil
}

// StripGlobalFlags returns args without the flags handled by this package, so
// subcommands can parse the remainder strictly.
func StripGlobalFlags(args []string) []string {
	handled := map[string]bool{"-c": true, "-config": true, "--config": true}
	for _, f := range globalFlags {
		handled[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, _, inline := strings.Cut(args[i], "=")
		if !handled[name] {
			out = append(out, args[i])
			continue
		}
		if !inline && i+1 < len(args) {
			i++
		}
	}
	return out
}
