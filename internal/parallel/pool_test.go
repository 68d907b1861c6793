package parallel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
	apperrors "market_validator/pkg/errors"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{})                     {}
func (testLogger) Info(string, ...interface{})                      {}
func (testLogger) Warn(string, ...interface{})                      {}
func (testLogger) Error(string, ...interface{})                     {}
func (testLogger) Fatal(string, ...interface{})                     {}
func (l testLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l testLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func TestSingleThreadExecutor_RunsInOrder(t *testing.T) {
	exec := NewSingleThreadExecutor()
	var order []int
	err := exec.ParallelFor(context.Background(), 5, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSingleThreadExecutor_PropagatesFirstError(t *testing.T) {
	exec := NewSingleThreadExecutor()
	boom := errors.New("boom")
	err := exec.ParallelFor(context.Background(), 5, func(_ context.Context, i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestSingleThreadExecutor_ZeroCountIsNoop(t *testing.T) {
	exec := NewSingleThreadExecutor()
	called := false
	err := exec.ParallelFor(context.Background(), 0, func(_ context.Context, i int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}

// A worker panic must not crash the test binary; it must be recovered and
// surfaced as apperrors.ErrExecutorWorkerPanic.
func TestPool_RecoversWorkerPanic(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 10}, testLogger{})
	defer pool.Stop()

	err := pool.ParallelFor(context.Background(), 4, func(_ context.Context, i int) error {
		if i == 1 {
			panic("synthetic failure")
		}
		return nil
	})
	require.ErrorIs(t, err, apperrors.ErrExecutorWorkerPanic)
}

func TestPool_JoinsAllTasks(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 50}, testLogger{})
	defer pool.Stop()

	results := make([]int, 20)
	err := pool.ParallelFor(context.Background(), 20, func(_ context.Context, i int) error {
		results[i] = i * i
		return nil
	})
	require.NoError(t, err)
	for i, v := range results {
		require.Equal(t, i*i, v)
	}
}
