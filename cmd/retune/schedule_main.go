package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/halcyonquant/retune/internal/sched"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a fixed interval",
		Long: `Run the pipeline for every configured horizon on a fixed interval, for
environments without an external scheduler. Serves /health and /metrics
while running. Stops cleanly on SIGINT/SIGTERM.`,
		RunE: runSchedule,
	}
	cmd.Flags().Bool("dry-run", false, "Evaluate only, never deploy")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := buildPipeline(settings)
	if err != nil {
		return err
	}

	runner := sched.NewRunner(sched.Config{
		Interval:   time.Duration(settings.Schedule.IntervalMinutes) * time.Minute,
		ListenAddr: settings.Schedule.ListenAddr,
		Horizons:   settings.ParsedHorizons(),
		DryRun:     dryRun,
	}, p)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("interval_minutes", settings.Schedule.IntervalMinutes).Msg("Scheduler starting")
	return runner.Start(ctx)
}
