package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPermutationsCompletedTotal = "market_validator_permutations_completed_total"
	MetricBacktestsRunTotal          = "market_validator_backtests_run_total"
	MetricStrategiesPromotedTotal    = "market_validator_strategies_promoted_total"
	MetricStrategiesSurviving        = "market_validator_strategies_surviving"
	MetricStrategiesActive           = "market_validator_strategies_active"
	MetricExceedanceCountTotal       = "market_validator_exceedance_count_total"
	MetricAggregatorBucketCount      = "market_validator_aggregator_bucket_count"
	MetricWorkerPoolRunning          = "market_validator_worker_pool_running"
	MetricWorkerPoolIdle             = "market_validator_worker_pool_idle"
	MetricAdjustedPValue             = "market_validator_adjusted_pvalue"
	MetricRunDuration                = "market_validator_run_duration_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PermutationsCompletedTotal metric.Int64Counter
	BacktestsRunTotal          metric.Int64Counter
	StrategiesPromotedTotal    metric.Int64Counter
	StrategiesSurviving        metric.Int64ObservableGauge
	StrategiesActive           metric.Int64ObservableGauge
	ExceedanceCountTotal       metric.Int64Counter
	AggregatorBucketCount      metric.Int64ObservableGauge
	WorkerPoolRunning          metric.Int64ObservableGauge
	WorkerPoolIdle             metric.Int64ObservableGauge
	AdjustedPValue             metric.Float64Histogram
	RunDuration                metric.Float64Histogram

	// State for observable gauges
	mu                 sync.RWMutex
	survivingMap       map[string]int64
	activeMap          map[string]int64
	bucketCountMap     map[string]int64
	workerPoolRunning  map[string]int64
	workerPoolIdle     map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			survivingMap:      make(map[string]int64),
			activeMap:         make(map[string]int64),
			bucketCountMap:    make(map[string]int64),
			workerPoolRunning: make(map[string]int64),
			workerPoolIdle:    make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PermutationsCompletedTotal, err = meter.Int64Counter(MetricPermutationsCompletedTotal, metric.WithDescription("Cumulative permutation draws completed across all partitions"))
	if err != nil {
		return err
	}

	m.BacktestsRunTotal, err = meter.Int64Counter(MetricBacktestsRunTotal, metric.WithDescription("Total backtests run on permuted draws; baseline backtests are not counted"))
	if err != nil {
		return err
	}

	m.StrategiesPromotedTotal, err = meter.Int64Counter(MetricStrategiesPromotedTotal, metric.WithDescription("Strategies promoted by the stepwise step-down procedure"))
	if err != nil {
		return err
	}

	m.ExceedanceCountTotal, err = meter.Int64Counter(MetricExceedanceCountTotal, metric.WithDescription("Cumulative exceedance-count increments across all strategy contexts"))
	if err != nil {
		return err
	}

	m.AdjustedPValue, err = meter.Float64Histogram(MetricAdjustedPValue, metric.WithDescription("Distribution of adjusted p-values published for a run"))
	if err != nil {
		return err
	}

	m.RunDuration, err = meter.Float64Histogram(MetricRunDuration, metric.WithDescription("Wall-clock duration of a validation run"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.StrategiesSurviving, err = meter.Int64ObservableGauge(MetricStrategiesSurviving, metric.WithDescription("Strategies surviving at the configured alpha, by partition"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for partition, val := range m.survivingMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("partition", partition)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.StrategiesActive, err = meter.Int64ObservableGauge(MetricStrategiesActive, metric.WithDescription("Strategies in the partition under test, set once per partition"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for partition, val := range m.activeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("partition", partition)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AggregatorBucketCount, err = meter.Int64ObservableGauge(MetricAggregatorBucketCount, metric.WithDescription("Observations accumulated per aggregator bucket"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for bucket, val := range m.bucketCountMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("bucket", bucket)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.WorkerPoolRunning, err = meter.Int64ObservableGauge(MetricWorkerPoolRunning, metric.WithDescription("Currently running workers in a pool"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pool, val := range m.workerPoolRunning {
				obs.Observe(val, metric.WithAttributes(attribute.String("pool", pool)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.WorkerPoolIdle, err = meter.Int64ObservableGauge(MetricWorkerPoolIdle, metric.WithDescription("Currently idle workers in a pool"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pool, val := range m.workerPoolIdle {
				obs.Observe(val, metric.WithAttributes(attribute.String("pool", pool)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetStrategiesSurviving(partition string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.survivingMap[partition] = count
}

func (m *MetricsHolder) SetStrategiesActive(partition string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeMap[partition] = count
}

func (m *MetricsHolder) SetAggregatorBucketCount(bucket string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketCountMap[bucket] = count
}

func (m *MetricsHolder) SetWorkerPoolStats(pool string, running, idle int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workerPoolRunning[pool] = running
	m.workerPoolIdle[pool] = idle
}

func (m *MetricsHolder) GetStrategiesSurviving() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.survivingMap {
		res[k] = v
	}
	return res
}

// RecordPermutationCompleted increments the cumulative permutation-draw
// counter. A no-op before InitMetrics has run (e.g. telemetry disabled),
// since the underlying instrument is nil until then.
func (m *MetricsHolder) RecordPermutationCompleted(ctx context.Context) {
	if m.PermutationsCompletedTotal == nil {
		return
	}
	m.PermutationsCompletedTotal.Add(ctx, 1)
}

// RecordBacktestRun increments the cumulative backtest counter.
func (m *MetricsHolder) RecordBacktestRun(ctx context.Context) {
	if m.BacktestsRunTotal == nil {
		return
	}
	m.BacktestsRunTotal.Add(ctx, 1)
}

// RecordStrategyPromoted increments the step-down promotion counter.
func (m *MetricsHolder) RecordStrategyPromoted(ctx context.Context) {
	if m.StrategiesPromotedTotal == nil {
		return
	}
	m.StrategiesPromotedTotal.Add(ctx, 1)
}

// RecordExceedance increments the cumulative exceedance-count counter by n.
func (m *MetricsHolder) RecordExceedance(ctx context.Context, n int64) {
	if m.ExceedanceCountTotal == nil {
		return
	}
	m.ExceedanceCountTotal.Add(ctx, n)
}

// RecordAdjustedPValue adds one observation to the adjusted-p-value
// histogram, tagged with its partition.
func (m *MetricsHolder) RecordAdjustedPValue(ctx context.Context, partition string, p float64) {
	if m.AdjustedPValue == nil {
		return
	}
	m.AdjustedPValue.Record(ctx, p, metric.WithAttributes(attribute.String("partition", partition)))
}

// RecordRunDuration adds one observation to the run-duration histogram, in
// milliseconds.
func (m *MetricsHolder) RecordRunDuration(ctx context.Context, ms float64) {
	if m.RunDuration == nil {
		return
	}
	m.RunDuration.Record(ctx, ms)
}
