package apperrors

import "errors"

// Standardized validator errors (spec §7 error taxonomy)
var (
	ErrPreconditionEmptyPortfolio      = errors.New("precondition: portfolio has no active security")
	ErrPreconditionUnsortedStrategies  = errors.New("precondition: strategy contexts are not sorted descending by baseline statistic")
	ErrPreconditionZeroPermutations    = errors.New("precondition: number of permutations must be at least 1")
	ErrPreconditionMissingBaseline     = errors.New("precondition: baseline strategy not found")
	ErrDataSeriesTooShort              = errors.New("data: baseline time series too short to shuffle")
	ErrExecutorWorkerPanic             = errors.New("executor: worker panic")
	ErrExecutorCancelled               = errors.New("executor: cancelled")
)
