package diagnostics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "diagnostics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testStrategy(name string) *core.Strategy {
	pattern := core.NewPatternTree(42, decimal.Zero, decimal.Zero, core.Long, 5)
	return core.NewStrategy(pattern, name, core.Long)
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	strat := testStrategy("s1")
	snap := SnapshotFrom(strat, decimal.NewFromFloat(0.031))

	require.NoError(t, store.SaveRun(context.Background(), []Snapshot{snap}))

	got, ok, err := store.Get(context.Background(), snap.CombinedHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.StrategyName, got.StrategyName)
	require.Equal(t, snap.PatternHash, got.PatternHash)
	require.Equal(t, snap.InstanceUUID, got.InstanceUUID)
	require.True(t, snap.AdjustedPValue.Equal(got.AdjustedPValue))
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.Get(context.Background(), 999)
	require.NoError(t, err)
	require.False(t, ok)
}

// A second SaveRun for the same combined hash overwrites the prior
// snapshot rather than accumulating history.
func TestStore_SaveRunOverwritesPriorSnapshot(t *testing.T) {
	store := newTestStore(t)
	strat := testStrategy("s1")

	first := SnapshotFrom(strat, decimal.NewFromFloat(0.5))
	require.NoError(t, store.SaveRun(context.Background(), []Snapshot{first}))

	second := SnapshotFrom(strat, decimal.NewFromFloat(0.01))
	require.NoError(t, store.SaveRun(context.Background(), []Snapshot{second}))

	got, ok, err := store.Get(context.Background(), first.CombinedHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.AdjustedPValue.Equal(decimal.NewFromFloat(0.01)))
	require.Equal(t, second.InstanceUUID, got.InstanceUUID)
}

func TestStore_SaveRunEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveRun(context.Background(), nil))
}
