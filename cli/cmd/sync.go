package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bundlesync/cli/config"
	"github.com/pithecene-io/bundlesync/log"
)

// SyncCommand returns the sync command, which keeps the remote bundle in
// step with the project tree until interrupted.
func SyncCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		// Server flags
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Bundle service base URL",
			EnvVars: []string{"BUNDLESYNC_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Session token sent with every request",
			EnvVars: []string{"BUNDLESYNC_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "Request body encoding: json or msgpack",
			Value: "json",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
			Value: 30 * time.Second,
		},
		// Project flags
		&cli.StringFlag{
			Name:  "root",
			Usage: "Project directory to watch",
			Value: ".",
		},
		&cli.StringFlag{
			Name:  "project",
			Usage: "Project name (default: base name of --root)",
		},
		&cli.StringSliceFlag{
			Name:  "ignore",
			Usage: "Glob pattern to ignore (repeatable)",
		},
		&cli.StringFlag{
			Name:  "max-file-size",
			Usage: "Skip files larger than this (e.g. 1MB)",
			Value: "1MB",
		},
		&cli.DurationFlag{
			Name:  "debounce",
			Usage: "Quiet period before file events are applied",
			Value: 300 * time.Millisecond,
		},
		// Loop flags
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Delay between sync cycles",
			Value: 5 * time.Second,
		},
		&cli.StringFlag{
			Name:  "max-payload",
			Usage: "Maximum cumulative size of one upload chunk (e.g. 4MB)",
			Value: "4MB",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum concurrent chunk uploads",
			Value: 10,
		},
		&cli.DurationFlag{
			Name:  "request-delay",
			Usage: "Pause before each chunk upload",
		},
		&cli.BoolFlag{
			Name:  "test-mode",
			Usage: "Disable the request delay",
		},
		// Notify flags
		&cli.StringFlag{
			Name:  "notify-type",
			Usage: "Bundle-ready notifier: webhook or redis (empty disables)",
		},
		&cli.StringFlag{
			Name:  "notify-url",
			Usage: "Webhook endpoint or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "notify-channel",
			Usage: "Redis channel or list key",
		},
		&cli.StringFlag{
			Name:  "notify-mode",
			Usage: "Redis delivery mode: publish or queue",
		},
		&cli.StringFlag{
			Name:    "notify-secret",
			Usage:   "HMAC secret for webhook signatures",
			EnvVars: []string{"BUNDLESYNC_NOTIFY_SECRET"},
		},
		&cli.DurationFlag{
			Name:  "notify-timeout",
			Usage: "Per-attempt notifier timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "notify-retries",
			Usage: "Notifier retry attempts",
			Value: 3,
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
	}
	flags = append(flags, stateFlags()...)
	flags = append(flags, archiveFlags()...)

	return &cli.Command{
		Name:   "sync",
		Usage:  "Watch the project and keep its remote bundle up to date",
		Flags:  flags,
		Action: syncAction,
	}
}

func syncAction(c *cli.Context) error {
	cfg, err := resolveSyncConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	session := log.Session{
		SessionID: uuid.NewString(),
		Project:   cfg.Project.Name,
	}
	logger, err := log.NewLoggerAt(session, c.String("log-level"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal", map[string]any{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	d, err := newDaemon(ctx, cfg, session, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start: %v", err), exitConfigError)
	}
	if err := d.run(ctx); err != nil {
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	return nil
}

// resolveSyncConfig merges flags over the config file, fills defaults and
// validates the result.
func resolveSyncConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	cfg.Server.URL = resolveString(c, "server-url", cfg.Server.URL)
	cfg.Server.Token = resolveString(c, "token", cfg.Server.Token)
	cfg.Server.Encoding = resolveString(c, "encoding", cfg.Server.Encoding)
	cfg.Server.Timeout.Duration = resolveDuration(c, "timeout", cfg.Server.Timeout.Duration)

	cfg.Project.Root = resolveString(c, "root", cfg.Project.Root)
	cfg.Project.Name = resolveString(c, "project", cfg.Project.Name)
	cfg.Project.Ignore = resolveStrings(c, "ignore", cfg.Project.Ignore)
	if cfg.Project.MaxFileSize, err = resolveSize(c, "max-file-size", cfg.Project.MaxFileSize); err != nil {
		return nil, err
	}
	cfg.Project.Debounce.Duration = resolveDuration(c, "debounce", cfg.Project.Debounce.Duration)

	cfg.Sync.Interval.Duration = resolveDuration(c, "interval", cfg.Sync.Interval.Duration)
	if cfg.Sync.MaxPayload, err = resolveSize(c, "max-payload", cfg.Sync.MaxPayload); err != nil {
		return nil, err
	}
	cfg.Sync.Concurrency = resolveInt(c, "concurrency", cfg.Sync.Concurrency)
	cfg.Sync.RequestDelay.Duration = resolveDuration(c, "request-delay", cfg.Sync.RequestDelay.Duration)
	cfg.Sync.TestMode = resolveBool(c, "test-mode", cfg.Sync.TestMode)

	cfg.Notify.Type = resolveString(c, "notify-type", cfg.Notify.Type)
	cfg.Notify.URL = resolveString(c, "notify-url", cfg.Notify.URL)
	cfg.Notify.Channel = resolveString(c, "notify-channel", cfg.Notify.Channel)
	cfg.Notify.Mode = resolveString(c, "notify-mode", cfg.Notify.Mode)
	cfg.Notify.Secret = resolveString(c, "notify-secret", cfg.Notify.Secret)
	cfg.Notify.Timeout.Duration = resolveDuration(c, "notify-timeout", cfg.Notify.Timeout.Duration)
	if c.IsSet("notify-retries") || cfg.Notify.Retries == nil {
		retries := c.Int("notify-retries")
		cfg.Notify.Retries = &retries
	}

	resolveState(c, cfg)
	resolveArchive(c, cfg)

	cfg.ApplyDefaults()
	if cfg.Project.Name == "" {
		abs, err := filepath.Abs(cfg.Project.Root)
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		cfg.Project.Name = filepath.Base(abs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
