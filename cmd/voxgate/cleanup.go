package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/voxgate/pkg/config"
)

// CleanupCmd deletes terminal jobs once, for cron-driven deployments that
// disable the in-process cleanup loop.
type CleanupCmd struct {
	DaysOld int `name:"days-old" help:"Delete terminal jobs last updated more than this many days ago." default:"30"`
}

func (c *CleanupCmd) Run(cli *CLI) error {
	if c.DaysOld < 0 {
		return fmt.Errorf("--days-old must be non-negative")
	}
	ctx := context.Background()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if cfg.Jobs.Backend != config.BackendSQL {
		return fmt.Errorf("cleanup needs jobs.backend: sql, got %q", cfg.Jobs.Backend)
	}

	s, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	n, err := s.tracker.Cleanup(ctx, time.Duration(c.DaysOld)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Deleted %d job(s) older than %d day(s)\n", n, c.DaysOld)
	return nil
}
