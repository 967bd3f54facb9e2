package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const snapshotFormatVersion = 1

// SnapshotManager stores executor checkpoints and reads the operation log
// back for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON form of a core.SnapshotState.
type SnapshotData struct {
	Sequence        int64                `json:"sequence"`
	StateHash       string               `json:"state_hash"`
	Balances        map[string]string    `json:"balances"` // AccountPath -> balance
	SequenceState   map[string]int64     `json:"sequence_state"`
	IdempotencyKeys []string             `json:"idempotency_keys"`
	Status          *core.StrategyStatus `json:"status,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// EncodeSnapshot converts executor state to its stored form.
func EncodeSnapshot(st *core.SnapshotState, at time.Time) *SnapshotData {
	balances := make(map[string]string, len(st.Balances))
	for key, bal := range st.Balances {
		balances[key.AccountPath()] = bal.String()
	}
	return &SnapshotData{
		Sequence:        st.Sequence,
		StateHash:       hex.EncodeToString(st.StateHash[:]),
		Balances:        balances,
		SequenceState:   st.SequenceState,
		IdempotencyKeys: st.IdempotencyKeys,
		Status:          st.Status,
		CreatedAt:       at,
	}
}

// Decode converts the stored form back to executor state.
func (d *SnapshotData) Decode() (*core.SnapshotState, error) {
	st := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]decimal.Decimal, len(d.Balances)),
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
		Status:          d.Status,
	}
	raw, err := hex.DecodeString(d.StateHash)
	if err != nil || len(raw) != len(st.StateHash) {
		return nil, fmt.Errorf("snapshot %d: bad state hash %q", d.Sequence, d.StateHash)
	}
	copy(st.StateHash[:], raw)

	for path, s := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		bal, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: balance %s: %w", d.Sequence, path, err)
		}
		st.Balances[key] = bal
	}
	return st, nil
}

// SaveSnapshot persists a snapshot. It stays unverified until a replay
// reaches the same state.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	hash, err := hex.DecodeString(snap.StateHash)
	if err != nil {
		return fmt.Errorf("snapshot state hash: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO levfarm.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), hash, snapshotFormatVersion, len(data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot loads the most recent snapshot, verified or not.
// Returns nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM levfarm.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after a replay matched it.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE levfarm.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom loads operations from a given sequence for replay.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, sender, strategy, status, error,
		       payload, result, state_hash, prev_hash, timestamp, source_sequence
		FROM levfarm.strategy_operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var o OperationRow
		if err := rows.Scan(
			&o.Sequence, &o.CommandType, &o.IdempotencyKey, &o.Sender, &o.Strategy, &o.Status, &o.Error,
			&o.Payload, &o.Result, &o.StateHash, &o.PrevHash, &o.Timestamp, &o.SourceSequence,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM levfarm.strategy_operations
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
