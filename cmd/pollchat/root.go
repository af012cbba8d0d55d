package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/gateway"
	"github.com/vovakirdan/pollchat/internal/log"
	"github.com/vovakirdan/pollchat/internal/poller"
	"github.com/vovakirdan/pollchat/internal/session"
)

type rootOptions struct {
	configPath string
	logLevel   string
	username   string
	password   string

	cfg    config.Config
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pollchat",
		Short: "Client for the long-polling chat service",
		Long: strings.TrimSpace(`
pollchat logs in to the chat service, follows its event stream over HTTP
long-polling and sends messages. Settings come from pollchat.yaml and
POLLCHAT_* environment variables; flags override both.
`),
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVarP(&opts.username, "username", "u", "", "account username (overrides config)")
	flags.StringVarP(&opts.password, "password", "p", "", "account password (overrides config)")

	cmd.AddCommand(
		newFollowCmd(opts),
		newShowCmd(opts),
		newSendCmd(opts),
		newGroupCmd(opts),
		newContactCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	bootLogger := log.New("warn", "console")
	cfg, path, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(config.Config{
		LogLevel: o.logLevel,
		Client:   config.ClientConfig{Username: o.username, Password: o.password},
	})
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid client config in %s: %w", path, err)
	}
	if cfg.Client.Username == "" {
		return fmt.Errorf("username is required (set client.username in %s or pass --username)", path)
	}

	o.cfg = cfg
	o.logger = log.New(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// newSession builds a session from the loaded client config.
func (o *rootOptions) newSession() (*session.Session, error) {
	c := o.cfg.Client
	gw, err := gateway.NewHTTP(gateway.HTTPConfig{
		BaseURL:        c.BaseURL,
		RequestTimeout: c.RequestTimeout,
		PollTimeout:    c.PollTimeout,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, err
	}
	return session.New(gw, session.Config{
		Username:        c.Username,
		Password:        c.Password,
		FetchTimeout:    c.FetchTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
		Poll: poller.Options{
			InitialBackoff:   c.InitialBackoff,
			MaxBackoff:       c.MaxBackoff,
			FailureThreshold: c.FailureThreshold,
			DedupeWindow:     c.DedupeWindow,
		},
		Logger: o.logger,
	})
}

// withSession logs in, runs fn and logs out again.
func (o *rootOptions) withSession(ctx context.Context, fn func(*session.Session) error) error {
	s, err := o.newSession()
	if err != nil {
		return err
	}
	if err := s.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		if err := s.Logout(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Msg("logout failed")
		}
	}()
	return fn(s)
}
