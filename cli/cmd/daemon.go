package cmd

import (
	"context"
	"fmt"

	"github.com/pithecene-io/bundlesync/adapter"
	"github.com/pithecene-io/bundlesync/adapter/redis"
	"github.com/pithecene-io/bundlesync/adapter/webhook"
	"github.com/pithecene-io/bundlesync/archive"
	"github.com/pithecene-io/bundlesync/bundle"
	"github.com/pithecene-io/bundlesync/cli/config"
	"github.com/pithecene-io/bundlesync/log"
	"github.com/pithecene-io/bundlesync/metrics"
	"github.com/pithecene-io/bundlesync/scheduler"
	"github.com/pithecene-io/bundlesync/state"
	"github.com/pithecene-io/bundlesync/transport"
	"github.com/pithecene-io/bundlesync/upload"
	"github.com/pithecene-io/bundlesync/watcher"
)

// daemon is the wired sync process: watcher, engine and scheduler over
// one state store, plus the optional notifier and archive.
type daemon struct {
	logger    *log.Logger
	store     state.Store
	watcher   *watcher.Watcher
	engine    *bundle.Engine
	scheduler *scheduler.Scheduler
	collector *metrics.Collector
	closers   []func() error
}

func newDaemon(ctx context.Context, cfg *config.Config, session log.Session, logger *log.Logger) (_ *daemon, err error) {
	d := &daemon{logger: logger}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}
	d.store = store
	d.closers = append(d.closers, closeStore)

	if err := initState(ctx, store, cfg.Server.Token); err != nil {
		return nil, err
	}

	encoding, err := transport.ParseEncoding(cfg.Server.Encoding)
	if err != nil {
		return nil, err
	}
	client, err := transport.NewHTTPClient(transport.Config{
		BaseURL:  cfg.Server.URL,
		Timeout:  cfg.Server.Timeout.Duration,
		Encoding: encoding,
		Headers:  cfg.Server.Headers,
	})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, client.Close)

	arch, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	archiveBackend := ""
	if arch != nil {
		archiveBackend = arch.Backend()
	}
	d.collector = metrics.NewCollector(session.Project, cfg.State.Backend, archiveBackend)

	d.watcher, err = watcher.New(watcher.Config{
		Root:        cfg.Project.Root,
		Ignore:      cfg.Project.Ignore,
		MaxFileSize: int64(cfg.Project.MaxFileSize),
		Debounce:    cfg.Project.Debounce.Duration,
		Store:       store,
		// The scheduler's first cycle usually finds nothing because the
		// scan has not finished; start another as soon as it has.
		OnInitialScan: func() { d.scheduler.Restart() },
		Logger:        logger.Named("watcher"),
	})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.watcher.Close)

	delay := cfg.Sync.RequestDelay.Duration
	if cfg.Sync.TestMode {
		delay = 0
	}
	queue := upload.NewQueue(client, upload.QueueConfig{
		Concurrency: cfg.Sync.Concurrency,
		Delay:       delay,
	}, logger.Named("upload"))

	engineCfg := &bundle.Config{
		Store:      store,
		Files:      d.watcher,
		Transport:  client,
		Queue:      queue,
		MaxPayload: int64(cfg.Sync.MaxPayload),
		Collector:  d.collector,
		Session:    session,
		Logger:     logger.Named("bundle"),
	}
	trigger, err := openTrigger(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if trigger != nil {
		engineCfg.Trigger = trigger
		d.closers = append(d.closers, trigger.Close)
	}
	if arch != nil {
		engineCfg.Ledger = arch
	}
	d.engine, err = bundle.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	d.scheduler = scheduler.New(func(ctx context.Context) {
		d.engine.Cycle(ctx)
	}, cfg.Sync.Interval.Duration, logger.Named("scheduler"))

	logger.Info("sync configured", map[string]any{
		"root":        d.watcher.Root(),
		"server":      cfg.Server.URL,
		"encoding":    string(encoding),
		"interval_ms": d.scheduler.Delay().Milliseconds(),
		"state":       cfg.State.Backend,
		"notify":      cfg.Notify.Type,
		"archive":     archiveBackend,
	})
	return d, nil
}

// run starts watching and cycling, and blocks until ctx is done. It then
// lets the in-flight cycle and pending notifications finish.
func (d *daemon) run(ctx context.Context) error {
	defer d.close()

	if err := d.watcher.Start(ctx); err != nil {
		return err
	}
	d.scheduler.Start(ctx)

	<-ctx.Done()
	d.logger.Info("shutting down", nil)

	d.scheduler.Stop()
	d.scheduler.Wait()
	d.engine.Wait()

	snap := d.collector.Snapshot()
	d.logger.Info("session summary", map[string]any{
		"cycles":           d.scheduler.Cycles(),
		"cycles_started":   snap.CyclesStarted,
		"cycles_failed":    snap.CyclesFailed,
		"bundles_created":  snap.BundlesCreated,
		"bundles_extended": snap.BundlesExtended,
		"chunks_uploaded":  snap.ChunksUploaded,
		"chunks_failed":    snap.ChunksFailed,
		"files_uploaded":   snap.FilesUploaded,
	})
	return nil
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	d.closers = nil
}

// initState clears the upload flag a crashed predecessor may have left set
// and stores the session token. Flags owned by other subsystems are left
// alone.
func initState(ctx context.Context, store state.Store, token string) error {
	if err := store.SetMany(ctx, map[string]string{
		state.KeyUploading:    "false",
		state.KeySessionToken: token,
	}); err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}
	return nil
}

// openStore opens the configured state store.
func openStore(cfg config.StateConfig) (state.Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		s, err := state.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// openArchive opens the configured archive, or returns nil when disabled.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (*archive.Archive, error) {
	if cfg.Backend == "" {
		return nil, nil
	}
	return archive.Open(ctx, archive.Config{
		Backend:      cfg.Backend,
		Path:         cfg.Path,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	})
}

// openTrigger builds the configured notifier, or returns nil when disabled.
func openTrigger(cfg config.NotifyConfig) (*adapter.Trigger, error) {
	retries := 0
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	var a adapter.Adapter
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		wh, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		a = wh
	case "redis":
		rd, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Mode:    cfg.Mode,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		a = rd
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
	return adapter.NewTrigger(a, adapter.DefaultSignalTimeout), nil
}
