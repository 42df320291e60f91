package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonquant/retune/internal/domain"
)

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <horizon>",
		Short: "Force a rollback to the most recent backup",
		Long: `Restore the most recent backed-up configuration for a horizon outside of
the monitoring flow. A no-op with a clear message when no backup exists.`,
		Args: cobra.ExactArgs(1),
		RunE: runRollback,
	}
}

func runRollback(cmd *cobra.Command, args []string) error {
	h, err := domain.ParseHorizon(args[0])
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := buildPipeline(settings)
	if err != nil {
		return err
	}

	record, err := p.Rollback(context.Background(), h)
	if err != nil {
		return fmt.Errorf("rollback %s: %w", h, err)
	}
	if record == nil {
		fmt.Printf("%s: nothing to roll back (no backup exists)\n", h)
		return nil
	}
	fmt.Printf("%s: rolled back to %s\n", h, record.BackupPath)
	return nil
}
