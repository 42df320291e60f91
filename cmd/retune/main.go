package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "retune"
	version = "v1.3.0"
)

var settingsPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Forecast configuration recalibration pipeline",
		Version: version,
		Long: `retune keeps per-horizon forecasting configurations calibrated without
human intervention: it detects performance degradation and input drift,
searches the hyperparameter grid, validates candidates against the active
configuration, and deploys winners with versioned backups and automatic
rollback.`,
	}
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "configs/retune.yaml", "Path to settings file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newScheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
