package main

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/backtest"
	"github.com/halcyonquant/retune/internal/config"
	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/deploy"
	"github.com/halcyonquant/retune/internal/history"
	"github.com/halcyonquant/retune/internal/pipeline"
	"github.com/halcyonquant/retune/internal/search"
	"github.com/halcyonquant/retune/internal/signals"
	"github.com/halcyonquant/retune/internal/trigger"
	"github.com/halcyonquant/retune/internal/validate"
	"github.com/halcyonquant/retune/internal/vcs"
)

// buildPipeline wires every component from the settings file. Optional
// collaborators (performance, drift, redis, postgres, git) degrade to nil
// when unconfigured; the model service is mandatory for pipeline runs.
func buildPipeline(settings *config.Settings) (*pipeline.Pipeline, error) {
	if settings.Services.ModelURL == "" {
		return nil, fmt.Errorf("services.model_url is required to run the pipeline")
	}

	store := configstore.NewStore(settings.ConfigDir)

	oracleConfig := backtest.DefaultClientConfig(settings.Services.ModelURL)
	if settings.Services.BacktestRate > 0 {
		oracleConfig.RatePerSecond = settings.Services.BacktestRate
	}
	var oracle backtest.Oracle = backtest.NewClient(oracleConfig)
	if settings.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		ttl := time.Duration(settings.Redis.TTLMinutes) * time.Minute
		oracle = backtest.NewCachedOracle(oracle, client, ttl)
		log.Info().Str("addr", settings.Redis.Addr).Msg("Backtest score cache enabled")
	}

	var perf trigger.PerformanceProvider
	if settings.Services.PerformanceURL != "" {
		perf = signals.NewPerformanceClient(signals.DefaultClientConfig(settings.Services.PerformanceURL))
	}
	var drift trigger.DriftProvider
	if settings.Services.DriftURL != "" {
		drift = signals.NewDriftClient(signals.DefaultClientConfig(settings.Services.DriftURL))
	}

	severity, err := trigger.ParseSeverity(settings.Trigger.MinDriftSeverity)
	if err != nil {
		return nil, err
	}
	triggers := trigger.NewManager(trigger.Config{
		DegradationThresholdPct: settings.Trigger.DegradationThresholdPct,
		MinDriftSeverity:        severity,
		MaxAgeDays:              settings.Trigger.MaxAgeDays,
	}, perf, drift, store)

	strategy := search.NewGridSearch(search.Config{
		Window:  settings.Search.Window,
		Workers: settings.Search.Workers,
	}, oracle)

	validator := validate.NewValidator(validate.Criteria{
		MinRMSEImprovementPct: settings.Validation.MinRMSEImprovementPct,
		MinMAPEImprovementPct: settings.Validation.MinMAPEImprovementPct,
		MaxStabilityRatio:     settings.Validation.MaxStabilityRatio,
		MaxInferenceRatio:     settings.Validation.MaxInferenceRatio,
		MinCICoverage:         settings.Validation.MinCICoverage,
		MaxAbsBias:            settings.Validation.MaxAbsBias,
	}, oracle, settings.Search.Window)

	var versionControl deploy.VersionControl
	if settings.Git.Enabled {
		versionControl = vcs.NewGitCommitter(settings.Git.RepoDir)
	}
	var prober deploy.HealthProber
	if settings.Services.HealthURL != "" {
		prober = signals.NewHealthClient(signals.DefaultClientConfig(settings.Services.HealthURL))
	}
	deployer := deploy.NewManager(store, versionControl, prober, deploy.MonitorConfig{
		Checks:         settings.Monitor.Checks,
		Interval:       settings.Monitor.Interval(),
		UnhealthyLimit: settings.Monitor.UnhealthyLimit,
		HealthyReset:   settings.Monitor.HealthyReset,
		RMSESpikePct:   settings.Monitor.RMSESpikePct,
	})

	sinks := history.MultiSink{history.NewFileLog(settings.HistoryPath)}
	if settings.Postgres.DSN != "" {
		pg, err := history.NewPostgresSink(settings.Postgres.DSN, 5*time.Second)
		if err != nil {
			log.Warn().Err(err).Msg("History mirror unavailable, continuing with file log only")
		} else {
			sinks = append(sinks, pg)
		}
	}

	series := signals.NewSeriesClient(signals.DefaultClientConfig(settings.Services.ModelURL))

	return pipeline.New(pipeline.Config{
		SeriesLimit: settings.Search.Window * 4,
		RunBudget:   settings.RunBudget(),
	}, store, triggers, strategy, validator, deployer, series, sinks), nil
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	return settings, nil
}
