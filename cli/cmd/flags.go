// Package cmd provides CLI commands for the bundlesync binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	exitSuccess      = 0
	exitRuntimeError = 1
	exitConfigError  = 2
)

// Shared flags.
var (
	// ConfigFlag points at a bundlesync.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./bundlesync.yaml if present)",
		EnvVars: []string{"BUNDLESYNC_CONFIG"},
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ReadOnlyFlags returns the shared flags for commands that only report.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		FormatFlag,
		NoColorFlag,
	}
}

func stateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "state-backend",
			Usage: "State store: memory or sqlite",
			Value: "memory",
		},
		&cli.StringFlag{
			Name:  "state-path",
			Usage: "SQLite database path (sqlite backend)",
		},
	}
}

func archiveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "archive-backend",
			Usage: "Operation archive: fs, s3 or memory (empty disables)",
		},
		&cli.StringFlag{
			Name:  "archive-path",
			Usage: "Archive location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "archive-region",
			Usage: "AWS region for the s3 archive (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "archive-endpoint",
			Usage: "Custom S3 endpoint (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "archive-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}
