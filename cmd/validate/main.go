package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"market_validator/internal/bootstrap"
	"market_validator/internal/core"
	"market_validator/internal/diagnostics"
	"market_validator/internal/loader"
	"market_validator/internal/orchestrator"
	"market_validator/internal/parallel"
	"market_validator/internal/policy"
	"market_validator/internal/refbacktest"
	"market_validator/internal/stats"
	"market_validator/internal/synth"
	"market_validator/pkg/decimalutil"
	"market_validator/pkg/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/validate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("validate version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Shutdown(10 * time.Second)

	if app.Cfg.Telemetry.EnableMetrics || app.Cfg.Telemetry.EnableTracing {
		if err := app.EnableTelemetry("market_validator"); err != nil {
			app.Logger.Warn("telemetry setup failed, continuing without it", "error", err)
		}
	}

	if err := app.Run(context.Background(), &runner{cfg: app.Cfg, logger: app.Logger}); err != nil {
		os.Exit(1)
	}
}

// runner is the single Runner the validator's composition root executes:
// load inputs, run the Monte-Carlo validator, report surviving strategies.
type runner struct {
	cfg    *bootstrap.Config
	logger core.ILogger
}

func (r *runner) Run(ctx context.Context) error {
	cfg := r.cfg

	baseSecurity, err := loader.LoadSecurity(cfg.Run.BaseSecurityPath)
	if err != nil {
		return fmt.Errorf("load base security: %w", err)
	}

	strategies, err := loader.LoadPatterns(cfg.Run.PatternsPath)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}

	alpha, err := decimal.NewFromString(cfg.Run.Alpha)
	if err != nil {
		return fmt.Errorf("parse alpha: %w", err)
	}

	exec := parallel.NewPool(parallel.PoolConfig{
		Name:        "validator",
		MaxWorkers:  cfg.Concurrency.WorkerPoolSize,
		MaxCapacity: cfg.Concurrency.WorkerPoolSize * 4,
		IdleTimeout: time.Duration(cfg.Concurrency.IdleTimeoutSec) * time.Second,
	}, r.logger)
	defer exec.Stop()

	statPolicy := policy.NewLogProfitFactorPolicy(uint32(cfg.Algorithm.MinTrades))

	var pValuePolicy policy.PValuePolicy
	switch cfg.Algorithm.PValuePolicy {
	case "wilson":
		pValuePolicy = policy.WilsonPValuePolicy{Confidence: cfg.Algorithm.WilsonConfidence}
	default:
		pValuePolicy = policy.StandardPValuePolicy{}
	}

	algorithm := orchestrator.Fast
	if cfg.Algorithm.Name == "slow" {
		algorithm = orchestrator.Slow
	}

	validator := orchestrator.NewMonteCarloValidator(cfg.Algorithm.NumPermutations, algorithm, orchestrator.Options{
		Exec:            exec,
		StatisticPolicy: statPolicy,
		PValuePolicy:    pValuePolicy,
		NullModel:       synth.N1MaxDestruction,
		WorkerSlots:     cfg.Concurrency.WorkerSlots,
		Logger:          r.logger,
	})

	prototype := refbacktest.New(0)

	if err := validator.Run(ctx, baseSecurity, strategies, prototype, orchestrator.DateRange{}, alpha, cfg.Run.Verbose, cfg.Run.PartitionByFamily); err != nil {
		return fmt.Errorf("validation run: %w", err)
	}

	if stats := exec.Stats(); stats != nil {
		running, _ := stats["running_workers"].(int)
		idle, _ := stats["idle_workers"].(int)
		telemetry.GetGlobalMetrics().SetWorkerPoolStats("validator", int64(running), int64(idle))
	}

	if err := r.writeResults(ctx, validator, strategies); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	return nil
}

type strategyResult struct {
	Name           string `json:"name"`
	Direction      string `json:"direction"`
	Category       string `json:"category,omitempty"`
	AdjustedPValue string `json:"adjusted_p_value"`
	Survived       bool   `json:"survived"`
}

func (r *runner) writeResults(ctx context.Context, validator *orchestrator.MonteCarloValidator, strategies []*core.Strategy) error {
	cfg := r.cfg

	survivors := make(map[uint64]bool)
	for _, s := range validator.SurvivingStrategies() {
		survivors[s.Identity().CombinedHash()] = true
	}

	results := make([]strategyResult, 0, len(strategies))
	snapshots := make([]diagnostics.Snapshot, 0, len(strategies))
	for _, s := range strategies {
		p, ok := validator.AdjustedPValue(s)
		if !ok {
			p = decimal.NewFromInt(1)
		}
		results = append(results, strategyResult{
			Name:           s.Name,
			Direction:      s.Dir.String(),
			Category:       s.Pattern.Category,
			AdjustedPValue: decimalutil.Round(p, 6).String(),
			Survived:       survivors[s.Identity().CombinedHash()],
		})
		snapshots = append(snapshots, diagnostics.SnapshotFrom(s, p))

		count := validator.Aggregator().Count(s, stats.PermutedTestStatistic)
		telemetry.GetGlobalMetrics().SetAggregatorBucketCount(s.Name, int64(count))
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(cfg.Run.OutputPath, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if cfg.Diagnostics.Enabled {
		store, err := diagnostics.Open(cfg.Diagnostics.DBPath)
		if err != nil {
			return fmt.Errorf("open diagnostics store: %w", err)
		}
		defer store.Close()

		if err := store.SaveRun(ctx, snapshots); err != nil {
			return fmt.Errorf("save diagnostics snapshot: %w", err)
		}
	}

	r.logger.Info("validation results written", "path", cfg.Run.OutputPath, "surviving", len(survivors), "total", len(strategies))
	return nil
}
