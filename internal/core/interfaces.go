package core

import "context"

// ILogger defines the interface for structured logging, unchanged in shape
// from the ambient logging stack so pkg/logging's zap-backed implementation
// needs no adaptation beyond its package name.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Backtester is the opaque external collaborator the core never looks
// inside: constructible from a time-frame and date range, cloneable per
// worker, configured with exactly one strategy, and able to report trade
// counts plus a closed-position-history accessor consumed by the statistic
// policy.
type Backtester interface {
	Clone() Backtester
	SetSingleStrategy(strategy *Strategy)
	Backtest(ctx context.Context, sec *Security) (*BacktestOutcome, error)
	NumTrades() uint32
	NumBarsInTrades() uint32
}

// Executor is the pluggable parallel-for abstraction the core depends on.
// ParallelFor uses equal static chunks; ParallelForChunked leaves chunking
// to the implementation. Both must return early with an aggregated error if
// any body invocation panics or the context is canceled, and the caller must
// not partially update shared result state in that case.
type Executor interface {
	ParallelFor(ctx context.Context, n int, body func(ctx context.Context, i int) error) error
	ParallelForChunked(ctx context.Context, n int, body func(ctx context.Context, i int) error) error
}
