package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline-run records",
		RunE:  runHistory,
	}
	cmd.Flags().String("horizon", "", "Filter to one horizon")
	cmd.Flags().Int("limit", 10, "Maximum records to show")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	horizonFlag, _ := cmd.Flags().GetString("horizon")
	limit, _ := cmd.Flags().GetInt("limit")

	var h domain.Horizon
	if horizonFlag != "" {
		parsed, err := domain.ParseHorizon(horizonFlag)
		if err != nil {
			return err
		}
		h = parsed
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	log := history.NewFileLog(settings.HistoryPath)

	records, err := log.Tail(h, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no history records")
		return nil
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s %-5s %-12s", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Horizon, rec.Outcome)
		if rec.DryRun {
			line += " (dry-run)"
		}
		if rec.Error != "" {
			line += " error=" + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}
