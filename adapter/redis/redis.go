// Package redis notifies an analyzer through Redis when a bundle is ready.
//
// Two delivery modes are supported. "publish" sends the JSON event with
// PUBLISH on a channel, for listeners that are online. "queue" LPUSHes it
// onto a list, for analyzer workers that BRPOP and must not miss events;
// the list is trimmed to MaxLen entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/bundlesync/adapter"
)

// Delivery modes.
const (
	ModePublish = "publish"
	ModeQueue   = "queue"
)

// DefaultChannel is the default channel (publish) or list key (queue).
const DefaultChannel = "bundlesync:bundle_ready"

// DefaultTimeout is the default per-attempt timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultMaxLen bounds the queue list.
const DefaultMaxLen = 1000

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel or list key (default: bundlesync:bundle_ready).
	Channel string
	// Mode is publish (default) or queue.
	Mode string
	// MaxLen bounds the list in queue mode (default 1000).
	MaxLen int64
	// Timeout is the per-attempt timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
}

// Adapter delivers bundle-ready events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePublish
	case ModePublish, ModeQueue:
	default:
		return nil, fmt.Errorf("redis adapter: unknown mode %q (want %s or %s)", cfg.Mode, ModePublish, ModeQueue)
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish delivers the event according to the configured mode.
func (a *Adapter) Publish(ctx context.Context, event *adapter.BundleReadyEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if a.config.Mode == ModeQueue {
			return a.enqueue(attemptCtx, body)
		}
		return a.client.Publish(attemptCtx, a.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) enqueue(ctx context.Context, body []byte) error {
	pipe := a.client.TxPipeline()
	pipe.LPush(ctx, a.config.Channel, body)
	pipe.LTrim(ctx, a.config.Channel, 0, a.config.MaxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
