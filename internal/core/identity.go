package core

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// StrategyIdentity centralizes hash computation for a strategy: combined
// hash is the sole source of truth for StatsAggregator storage and lookup
// keys; instance UUID exists only for diagnostics and must differ between
// any two live instances, including clones. Grounded on
// StrategyIdentificationHelper's "single source of truth" comment: prior
// disagreement between write sites and read sites about the hash formula
// silently lost statistics, so every call site goes through CombinedHash.
type StrategyIdentity struct {
	combinedHash uint64
	instanceUUID uuid.UUID
}

func newStrategyIdentity(s *Strategy) *StrategyIdentity {
	return &StrategyIdentity{
		combinedHash: CombinedHash(s.PatternHash(), s.Name),
		instanceUUID: uuid.New(),
	}
}

// CombinedHash computes pattern_hash XOR (hash(name) << 1). It is invariant
// under CloneOnto because pattern and name are preserved by construction.
func CombinedHash(patternHash uint64, name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	nameHash := h.Sum64()
	return patternHash ^ (nameHash << 1)
}

// CombinedHash returns the strategy's storage/lookup key.
func (id *StrategyIdentity) CombinedHash() uint64 { return id.combinedHash }

// InstanceUUID returns the per-instance diagnostics-only identifier.
func (id *StrategyIdentity) InstanceUUID() uuid.UUID { return id.instanceUUID }

// ExtractFrom returns the combined hash and a reference to the pattern
// strategy, or ok=false for a non-pattern strategy. It never panics.
func ExtractFrom(b *BacktestOutcome) (combinedHash uint64, strategy *Strategy, ok bool) {
	if b == nil || b.Strategy == nil {
		return 0, nil, false
	}
	return b.Strategy.Identity().CombinedHash(), b.Strategy, true
}
