package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bundlesync/cli/config"
)

// loadConfig loads --config, or ./bundlesync.yaml when present.
// A missing default file yields an empty config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Precedence for every setting: explicit flag, then config file, then the
// flag default.

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

func resolveStrings(c *cli.Context, name string, fromConfig []string) []string {
	if c.IsSet(name) || len(fromConfig) == 0 {
		return c.StringSlice(name)
	}
	return fromConfig
}

// resolveSize parses a size flag such as "4MB". The flag is a string so the
// same suffixes work on the command line and in the config file.
func resolveSize(c *cli.Context, name string, fromConfig config.ByteSize) (config.ByteSize, error) {
	if !c.IsSet(name) && fromConfig != 0 {
		return fromConfig, nil
	}
	size, err := config.ParseByteSize(c.String(name))
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return size, nil
}

// resolveState merges the state store flags into cfg.
func resolveState(c *cli.Context, cfg *config.Config) {
	cfg.State.Backend = resolveString(c, "state-backend", cfg.State.Backend)
	cfg.State.Path = resolveString(c, "state-path", cfg.State.Path)
}

// resolveArchive merges the archive flags into cfg.
func resolveArchive(c *cli.Context, cfg *config.Config) {
	cfg.Archive.Backend = resolveString(c, "archive-backend", cfg.Archive.Backend)
	cfg.Archive.Path = resolveString(c, "archive-path", cfg.Archive.Path)
	cfg.Archive.Region = resolveString(c, "archive-region", cfg.Archive.Region)
	cfg.Archive.Endpoint = resolveString(c, "archive-endpoint", cfg.Archive.Endpoint)
	cfg.Archive.S3PathStyle = resolveBool(c, "archive-s3-path-style", cfg.Archive.S3PathStyle)
}
