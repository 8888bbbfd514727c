package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bundlesync/archive"
	"github.com/pithecene-io/bundlesync/cli/render"
	"github.com/pithecene-io/bundlesync/types"
)

// HistoryRow is one archived bundle operation as shown by history.
type HistoryRow struct {
	Timestamp  time.Time `json:"timestamp"`
	Project    string    `json:"project"`
	Op         string    `json:"op"`
	Outcome    string    `json:"outcome"`
	BundleID   string    `json:"bundle_id"`
	Files      int       `json:"files"`
	Removed    int       `json:"removed"`
	Chunks     int       `json:"chunks"`
	Failed     int       `json:"chunks_failed"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum records to show (0 for all)",
			Value:   20,
		},
		&cli.StringFlag{
			Name:  "project",
			Usage: "Only show this project",
		},
		&cli.StringFlag{
			Name:  "op",
			Usage: "Only show this operation: create, check or extend",
		},
	)
	return &cli.Command{
		Name:   "history",
		Usage:  "List archived bundle operations, newest first",
		Flags:  append(flags, archiveFlags()...),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	resolveArchive(c, cfg)

	switch cfg.Archive.Backend {
	case "":
		return cli.Exit("no archive configured (set --archive-backend or archive.backend)", exitConfigError)
	case archive.BackendMemory:
		return cli.Exit("the memory archive does not outlive the sync process", exitConfigError)
	}

	arch, err := openArchive(c.Context, cfg.Archive)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	records, err := arch.Recent(c.Context, c.Int("limit"), archive.Filter{
		Project: c.String("project"),
		Op:      c.String("op"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	return r.Render(historyRows(records))
}

func historyRows(records []types.OperationRecord) []HistoryRow {
	rows := make([]HistoryRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, HistoryRow{
			Timestamp:  rec.Timestamp,
			Project:    rec.Project,
			Op:         rec.Op,
			Outcome:    rec.Outcome,
			BundleID:   rec.BundleID,
			Files:      rec.Files,
			Removed:    rec.Removed,
			Chunks:     rec.Chunks,
			Failed:     rec.Failed,
			DurationMs: rec.Duration,
			Error:      rec.Error,
		})
	}
	return rows
}
