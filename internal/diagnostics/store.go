// Package diagnostics provides an optional, write-once snapshot store for
// post-run debugging: for every strategy seen in a validation run, it
// records the last instance UUID observed for that combined hash, the
// pattern hash it derives from, and the adjusted p-value the orchestrator
// ultimately published. Nothing in the hot permutation path depends on this
// package; it is populated once, after a run completes.
//
// Grounded on the repository pattern used throughout the aristath-sentinel
// example's internal/modules/*/repository.go files (a *sql.DB wrapped by a
// typed repository exposing Create/Get/List methods over prepared queries),
// adapted here to a single table with an upsert-by-key write
// path instead of a settings/trade ledger.
package diagnostics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"

	"market_validator/internal/core"
)

// Snapshot is one strategy's final diagnostic record.
type Snapshot struct {
	CombinedHash   uint64
	InstanceUUID   uuid.UUID
	PatternHash    uint64
	StrategyName   string
	AdjustedPValue decimal.Decimal
}

const schema = `
CREATE TABLE IF NOT EXISTS strategy_snapshots (
	combined_hash   TEXT PRIMARY KEY,
	instance_uuid   TEXT NOT NULL,
	pattern_hash    TEXT NOT NULL,
	strategy_name   TEXT NOT NULL,
	adjusted_pvalue TEXT NOT NULL
);
`

// Store persists Snapshots to a SQLite database opened at path. It is safe
// for a single writer at the end of a run; it makes no concurrency claims
// beyond what database/sql itself provides, since snapshot writes only ever
// happen after the permutation sweep has fully joined.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite3 database at path and ensures the
// snapshot table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes one snapshot per strategy, keyed by combined hash. A
// strategy already present from a prior run is overwritten: the store only
// ever reflects the most recent run's outcome, per its write-once-per-run
// contract.
func (s *Store) SaveRun(ctx context.Context, snapshots []Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diagnostics: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_snapshots (combined_hash, instance_uuid, pattern_hash, strategy_name, adjusted_pvalue)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(combined_hash) DO UPDATE SET
			instance_uuid = excluded.instance_uuid,
			pattern_hash = excluded.pattern_hash,
			strategy_name = excluded.strategy_name,
			adjusted_pvalue = excluded.adjusted_pvalue
	`)
	if err != nil {
		return fmt.Errorf("diagnostics: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			fmt.Sprintf("%d", snap.CombinedHash),
			snap.InstanceUUID.String(),
			fmt.Sprintf("%d", snap.PatternHash),
			snap.StrategyName,
			snap.AdjustedPValue.String(),
		); err != nil {
			return fmt.Errorf("diagnostics: upsert snapshot for %s: %w", snap.StrategyName, err)
		}
	}

	return tx.Commit()
}

// Get returns the last recorded snapshot for a combined hash, or
// ok=false if none has ever been written.
func (s *Store) Get(ctx context.Context, combinedHash uint64) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT combined_hash, instance_uuid, pattern_hash, strategy_name, adjusted_pvalue
		FROM strategy_snapshots WHERE combined_hash = ?
	`, fmt.Sprintf("%d", combinedHash))

	var hashStr, instanceStr, patternStr, name, pStr string
	err := row.Scan(&hashStr, &instanceStr, &patternStr, &name, &pStr)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("diagnostics: get snapshot: %w", err)
	}

	snap, err := parseSnapshot(hashStr, instanceStr, patternStr, name, pStr)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func parseSnapshot(hashStr, instanceStr, patternStr, name, pStr string) (Snapshot, error) {
	var hash, pattern uint64
	if _, err := fmt.Sscanf(hashStr, "%d", &hash); err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: parse combined_hash: %w", err)
	}
	if _, err := fmt.Sscanf(patternStr, "%d", &pattern); err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: parse pattern_hash: %w", err)
	}
	instanceUUID, err := uuid.Parse(instanceStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: parse instance_uuid: %w", err)
	}
	p, err := decimal.NewFromString(pStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: parse adjusted_pvalue: %w", err)
	}
	return Snapshot{
		CombinedHash:   hash,
		InstanceUUID:   instanceUUID,
		PatternHash:    pattern,
		StrategyName:   name,
		AdjustedPValue: p,
	}, nil
}

// SnapshotFrom builds a Snapshot from a strategy and its final adjusted
// p-value, reading identity fields through core.StrategyIdentity so the
// store never has to recompute the combined-hash formula itself.
func SnapshotFrom(strategy *core.Strategy, adjustedP decimal.Decimal) Snapshot {
	return Snapshot{
		CombinedHash:   strategy.Identity().CombinedHash(),
		InstanceUUID:   strategy.Identity().InstanceUUID(),
		PatternHash:    strategy.PatternHash(),
		StrategyName:   strategy.Name,
		AdjustedPValue: adjustedP,
	}
}
