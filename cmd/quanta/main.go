package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/UkemeSkywalker/Quanta/internal/config"
	"github.com/UkemeSkywalker/Quanta/internal/logging"
	"github.com/UkemeSkywalker/Quanta/internal/session"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// cli holds the state shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE.
type cli struct {
	cfgPath  string
	logLevel string
	logFile  string
	apiURL   string
	wsURL    string
	clientID string
	token    string

	cfg      *config.Config
	logger   zerolog.Logger
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zerolog.Nop(), closeLog: func() error { return nil }}

	root := &cobra.Command{
		Use:   "quanta",
		Short: "Quanta research workflow client and reference backend",
		Long: `Quanta follows multi-agent research workflows over a WebSocket session
that reconnects on its own, keeps a heartbeat and resubscribes to the
followed workflow after every reconnect.

Run "quanta serve" for a local backend, then "quanta watch <query>".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.closeLog()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "quanta.yaml", "path to the YAML config file")
	pf.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&c.logFile, "log-file", "", "write logs to this file")
	pf.StringVar(&c.apiURL, "api-url", "", "backend HTTP base URL")
	pf.StringVar(&c.wsURL, "url", "", "WebSocket base URL (derived from --api-url when empty)")
	pf.StringVar(&c.clientID, "client-id", "", "client id used in the socket path")
	pf.StringVar(&c.token, "token", "", "auth token (if the backend requires it)")

	root.AddCommand(
		newServeCmd(c),
		newWatchCmd(c),
		newSubmitCmd(c),
		newStatusCmd(c),
		newHealthCmd(c),
		newConfigCmd(c),
	)
	return root
}

// setup resolves the config (defaults, file, environment, flags) and builds
// the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.Client.APIURL = c.apiURL
	}
	if flags.Changed("url") {
		cfg.Client.URL = c.wsURL
	}
	if flags.Changed("client-id") {
		cfg.Client.ClientID = c.clientID
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = c.logFile
	}
	cfg.EnsureClientID()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	// The TUI owns the terminal, so watch only logs to a file.
	opts := logging.Options{Service: "quanta-" + cmd.Name(), Level: cfg.Log.Level, File: cfg.Log.File}
	if cmd.Name() != "watch" {
		opts.Out = cmd.ErrOrStderr()
	}
	logger, closer, err := logging.New(opts)
	if err != nil {
		return err
	}
	c.logger, c.closeLog = logger, closer
	return nil
}

// sessionOptions maps the client config onto session manager options.
func sessionOptions(cc config.ClientConfig, url string, logger zerolog.Logger) session.Options {
	opts := session.DefaultOptions(url)
	opts.ReconnectInterval = cc.ReconnectInterval
	opts.MaxReconnectAttempts = cc.MaxReconnectAttempts
	opts.PingInterval = cc.PingInterval
	opts.Logger = logger
	return opts
}
