package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents a bundlesync.yaml configuration file.
// All values are optional and act as defaults for bundlesync sync flags.
// CLI flags always override config values.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Project ProjectConfig `yaml:"project"`
	Sync    SyncConfig    `yaml:"sync"`
	State   StateConfig   `yaml:"state"`
	Notify  NotifyConfig  `yaml:"notify"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig describes the remote bundle service.
type ServerConfig struct {
	URL      string            `yaml:"url"`
	Token    string            `yaml:"token"`
	Timeout  Duration          `yaml:"timeout"`
	Encoding string            `yaml:"encoding"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// ProjectConfig describes the watched project tree.
type ProjectConfig struct {
	Name        string   `yaml:"name"`
	Root        string   `yaml:"root"`
	Ignore      []string `yaml:"ignore"`
	MaxFileSize ByteSize `yaml:"max_file_size"`
	Debounce    Duration `yaml:"debounce"`
}

// SyncConfig tunes the sync loop and the upload queue.
type SyncConfig struct {
	Interval     Duration `yaml:"interval"`
	MaxPayload   ByteSize `yaml:"max_payload"`
	Concurrency  int      `yaml:"concurrency"`
	RequestDelay Duration `yaml:"request_delay"`
	TestMode     bool     `yaml:"test_mode"`
}

// StateConfig selects the state store.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// NotifyConfig selects the bundle-ready notifier. An empty type disables it.
type NotifyConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Mode    string            `yaml:"mode,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig selects the operation ledger. An empty backend disables it.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Defaults returns the configuration used when neither the file nor a flag
// sets a value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout:  Duration{30 * time.Second},
			Encoding: "json",
		},
		Project: ProjectConfig{
			Root:        ".",
			MaxFileSize: 1 << 20,
			Debounce:    Duration{300 * time.Millisecond},
		},
		Sync: SyncConfig{
			Interval:    Duration{5 * time.Second},
			MaxPayload:  4 << 20,
			Concurrency: 10,
		},
		State: StateConfig{Backend: "memory"},
	}
}

// ApplyDefaults fills zero values from Defaults.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	if c.Server.Timeout.Duration == 0 {
		c.Server.Timeout = d.Server.Timeout
	}
	if c.Server.Encoding == "" {
		c.Server.Encoding = d.Server.Encoding
	}
	if c.Project.Root == "" {
		c.Project.Root = d.Project.Root
	}
	if c.Project.MaxFileSize == 0 {
		c.Project.MaxFileSize = d.Project.MaxFileSize
	}
	if c.Project.Debounce.Duration == 0 {
		c.Project.Debounce = d.Project.Debounce
	}
	if c.Sync.Interval.Duration == 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.MaxPayload == 0 {
		c.Sync.MaxPayload = d.Sync.MaxPayload
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = d.Sync.Concurrency
	}
	if c.State.Backend == "" {
		c.State.Backend = d.State.Backend
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	}
	switch c.Server.Encoding {
	case "", "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("server.encoding must be json or msgpack, got %q", c.Server.Encoding))
	}
	if c.Sync.Interval.Duration < 0 {
		errs = append(errs, errors.New("sync.interval must not be negative"))
	}
	if c.Sync.MaxPayload < 0 {
		errs = append(errs, errors.New("sync.max_payload must not be negative"))
	}
	if c.Sync.Concurrency < 0 {
		errs = append(errs, errors.New("sync.concurrency must not be negative"))
	}
	if c.Sync.RequestDelay.Duration < 0 {
		errs = append(errs, errors.New("sync.request_delay must not be negative"))
	}
	switch c.State.Backend {
	case "", "memory":
	case "sqlite":
		if c.State.Path == "" {
			errs = append(errs, errors.New("state.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend must be memory or sqlite, got %q", c.State.Backend))
	}
	switch c.Notify.Type {
	case "":
	case "webhook", "redis":
		if c.Notify.URL == "" {
			errs = append(errs, fmt.Errorf("notify.url is required for the %s notifier", c.Notify.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.type must be webhook or redis, got %q", c.Notify.Type))
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "fs", "s3":
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("archive.path is required for the %s backend", c.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be fs, s3 or memory, got %q", c.Archive.Backend))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ByteSize is a size in bytes that accepts plain integers or
// suffixed strings ("512KB", "4MB", "1GiB") in YAML.
type ByteSize int64

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
	{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	{"B", 1},
}

// ParseByteSize parses a size such as "4MB" or "1048576".
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(raw, u.suffix) {
			mult = u.mult
			raw = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(n * mult), nil
}

// UnmarshalYAML parses a plain integer or a suffixed size string.
func (b *ByteSize) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
