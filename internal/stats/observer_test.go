package stats

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
)

type recordingObserver struct {
	mu      sync.Mutex
	updates int
	metrics int
}

func (r *recordingObserver) Update(*core.BacktestOutcome, decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}

func (r *recordingObserver) UpdateMetric(*core.Strategy, Metric, decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics++
}

func testStrategy(name string) *core.Strategy {
	pattern := core.NewPatternTree(1, decimal.Zero, decimal.Zero, core.Long, 1)
	return core.NewStrategy(pattern, name, core.Long)
}

func TestObserverHub_NotifyReachesAttachedObservers(t *testing.T) {
	hub := NewObserverHub()
	obs := &recordingObserver{}
	hub.Attach(obs)

	strategy := testStrategy("p1")
	outcome := &core.BacktestOutcome{Strategy: strategy}

	hub.Notify(outcome, decimal.NewFromInt(1))
	hub.NotifyMetric(strategy, PermutedTestStatistic, decimal.NewFromInt(1))

	require.Equal(t, 1, obs.updates)
	require.Equal(t, 1, obs.metrics)
}

func TestObserverHub_DetachStopsNotifications(t *testing.T) {
	hub := NewObserverHub()
	obs := &recordingObserver{}
	hub.Attach(obs)
	hub.Detach(obs)

	strategy := testStrategy("p1")
	hub.Notify(&core.BacktestOutcome{Strategy: strategy}, decimal.NewFromInt(1))

	require.Zero(t, obs.updates)
}

func TestObserverHub_MultipleObservers(t *testing.T) {
	hub := NewObserverHub()
	obs1, obs2 := &recordingObserver{}, &recordingObserver{}
	hub.Attach(obs1)
	hub.Attach(obs2)

	strategy := testStrategy("p1")
	hub.Notify(&core.BacktestOutcome{Strategy: strategy}, decimal.NewFromInt(1))

	require.Equal(t, 1, obs1.updates)
	require.Equal(t, 1, obs2.updates)
}

func TestObserverHub_ConcurrentNotify(t *testing.T) {
	hub := NewObserverHub()
	obs := &recordingObserver{}
	hub.Attach(obs)

	strategy := testStrategy("p1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Notify(&core.BacktestOutcome{Strategy: strategy}, decimal.NewFromInt(1))
		}()
	}
	wg.Wait()

	require.Equal(t, 50, obs.updates)
}
