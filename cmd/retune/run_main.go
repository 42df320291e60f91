package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonquant/retune/internal/deploy"
	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/history"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recalibration pipeline",
		Long: `Run the recalibration pipeline once. With --horizon the pipeline runs for
one horizon; with --all every configured horizon runs independently, in
parallel. --dry-run evaluates triggers, search, and validation but never
reaches deployment.`,
		RunE: runPipeline,
	}
	cmd.Flags().String("horizon", "", "Run a single horizon (7d|15d|30d|90d)")
	cmd.Flags().Bool("all", false, "Run every configured horizon")
	cmd.Flags().Bool("dry-run", false, "Report what would happen without deploying")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	horizonFlag, _ := cmd.Flags().GetString("horizon")
	all, _ := cmd.Flags().GetBool("all")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if (horizonFlag == "") == !all {
		return fmt.Errorf("specify exactly one of --horizon or --all")
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := buildPipeline(settings)
	if err != nil {
		return err
	}

	var horizons []domain.Horizon
	if all {
		horizons = settings.ParsedHorizons()
	} else {
		h, err := domain.ParseHorizon(horizonFlag)
		if err != nil {
			return err
		}
		horizons = []domain.Horizon{h}
	}

	results := p.RunAll(context.Background(), horizons, dryRun, all)

	var failed bool
	for _, res := range results {
		fmt.Println(res.Line())
		if errors.Is(res.Err, deploy.ErrRollbackFailed) {
			// The one state where the active configuration is unknown.
			return fmt.Errorf("horizon %s: %w", res.Horizon, res.Err)
		}
		if res.Outcome == history.OutcomeFailed {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more horizons failed")
	}
	return nil
}
