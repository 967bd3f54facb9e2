package core

import (
	"fmt"

	"LevFarm/internal/event"
	"LevFarm/internal/ledger"

	"github.com/shopspring/decimal"
)

// SnapshotState is a checkpoint of the executor. The simulated world behind
// the strategy is rebuilt by replay, so a snapshot verifies a replay rather
// than replacing it.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]decimal.Decimal
	SequenceState   map[string]int64
	IdempotencyKeys []string
	Status          *StrategyStatus
}

// LoggedCommand is one row of the operation log to replay.
type LoggedCommand struct {
	Sequence  int64
	Command   event.Command
	StateHash [32]byte
}

// Replay re-applies a logged command without emitting outputs and checks
// that it lands on the logged sequence and state hash.
func (e *Executor) Replay(lc LoggedCommand) error {
	e.replaying = true
	defer func() { e.replaying = false }()

	if lc.Sequence != e.sequence {
		return fmt.Errorf("replay: log sequence %d, executor expects %d", lc.Sequence, e.sequence)
	}
	env, err := e.ProcessCommand(lc.Command)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", lc.Sequence, err)
	}
	if env.StateHash != lc.StateHash {
		return fmt.Errorf("replay seq %d: state hash %x, log has %x", lc.Sequence, env.StateHash, lc.StateHash)
	}
	return nil
}

// VerifySnapshot compares a snapshot with the replayed state at the same
// sequence.
func (e *Executor) VerifySnapshot(snap *SnapshotState) error {
	if got := e.GetSequence(); got != snap.Sequence {
		return fmt.Errorf("snapshot at seq %d, executor at %d", snap.Sequence, got)
	}
	if tip := e.hasher.GetPrevHash(); tip != snap.StateHash {
		return fmt.Errorf("snapshot hash %x, replay reached %x", snap.StateHash, tip)
	}
	for key, want := range snap.Balances {
		if got := e.balanceTracker.GetBalance(key); !got.Equal(want) {
			return fmt.Errorf("snapshot balance %s: %s, replay reached %s", key.AccountPath(), want, got)
		}
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Executor) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Executor) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.balanceTracker.Snapshot(),
		SequenceState:   e.sequenceValidator.Partitions(),
		IdempotencyKeys: e.idempotency.lru.Keys(),
		Status:          e.Status(),
	}
}
