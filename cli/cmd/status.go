package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/bundlesync/cli/render"
	"github.com/pithecene-io/bundlesync/state"
)

// StatusResponse is the response for the status command.
type StatusResponse struct {
	StateBackend string   `json:"state_backend"`
	BundleID     string   `json:"bundle_id"`
	HasToken     bool     `json:"has_token"`
	Busy         bool     `json:"busy"`
	ActiveFlags  []string `json:"active_flags"`
	Scanning     bool     `json:"scanning"`
	Uploading    bool     `json:"uploading"`
	Analyzing    bool     `json:"analyzing"`
	Testing      bool     `json:"testing"`
}

// StatusCommand returns the status command. It reads the state store of a
// sync process; only the sqlite backend outlives that process.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the stored bundle and busy flags",
		Flags:  append(ReadOnlyFlags(), stateFlags()...),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	resolveState(c, cfg)

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer func() { _ = closeStore() }()

	resp, err := readStatus(c.Context, store)
	if err != nil {
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	resp.StateBackend = cfg.State.Backend
	if resp.StateBackend == "" {
		resp.StateBackend = "memory"
	}
	return r.Render(resp)
}

func readStatus(ctx context.Context, store state.Store) (*StatusResponse, error) {
	bundleID, err := state.BundleID(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("read bundle id: %w", err)
	}
	token, err := state.SessionToken(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("read session token: %w", err)
	}
	busy, err := state.Busy(ctx, store)
	if err != nil {
		return nil, err
	}
	active := busy.Active()
	if active == nil {
		active = []string{}
	}
	return &StatusResponse{
		BundleID:    bundleID,
		HasToken:    token != "",
		Busy:        busy.Any(),
		ActiveFlags: active,
		Scanning:    busy.Scanning,
		Uploading:   busy.Uploading,
		Analyzing:   busy.Analyzing,
		Testing:     busy.Testing,
	}, nil
}
