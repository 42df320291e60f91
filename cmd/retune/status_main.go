package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/halcyonquant/retune/internal/configstore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each horizon's active configuration",
		Long: `Print each horizon's active configuration summary and last optimization
timestamp. Always reflects the last durably-written configuration, never an
in-flight candidate.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store := configstore.NewStore(settings.ConfigDir)

	wide := term.IsTerminal(int(os.Stdout.Fd()))
	if wide {
		fmt.Printf("%-8s %-8s %-8s %-6s %-10s %-10s %-20s\n",
			"HORIZON", "CONTEXT", "SAMPLES", "TEMP", "RMSE", "MAPE", "OPTIMIZED")
	}

	for _, h := range settings.ParsedHorizons() {
		cfg, err := store.Load(h)
		if errors.Is(err, configstore.ErrNotFound) {
			fmt.Printf("%-8s (no active configuration)\n", h)
			continue
		}
		if err != nil {
			return err
		}

		if wide {
			fmt.Printf("%-8s %-8d %-8d %-6.1f %-10.3f %-10.3f %-20s\n",
				h, cfg.ContextLength, cfg.NumSamples, cfg.Temperature,
				cfg.ValidationRMSE, cfg.ValidationMAPE,
				cfg.Timestamp.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("%s ctx=%d samples=%d temp=%.1f rmse=%.3f mape=%.3f optimized=%s\n",
				h, cfg.ContextLength, cfg.NumSamples, cfg.Temperature,
				cfg.ValidationRMSE, cfg.ValidationMAPE,
				cfg.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		}
	}
	return nil
}
