package persistence

import (
	"context"
	"fmt"

	"LevFarm/internal/core"
	"LevFarm/internal/event"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// CommandParser rebuilds a command from its logged type and payload.
type CommandParser func(commandType string, payload []byte) (event.Command, error)

// Recover replays the whole operation log into exec, which must sit on a
// freshly deployed world. Every operation must land on its logged state
// hash. When the latest snapshot's sequence is reached the executor is
// checked against it and the snapshot is marked verified. Returns the last
// replayed sequence.
func Recover(ctx context.Context, sm *SnapshotManager, exec *core.Executor, parse CommandParser, logger zerolog.Logger) (int64, error) {
	var snap *core.SnapshotState
	stored, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if stored != nil {
		if snap, err = stored.Decode(); err != nil {
			return 0, err
		}
	}

	verify := func() error {
		if snap == nil || exec.GetSequence() != snap.Sequence {
			return nil
		}
		if err := exec.VerifySnapshot(snap); err != nil {
			return fmt.Errorf("snapshot verification: %w", err)
		}
		if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
			return fmt.Errorf("mark snapshot verified: %w", err)
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot verified")
		return nil
	}

	from := int64(1)
	for {
		ops, err := sm.LoadOperationsFrom(ctx, from, replayPageSize)
		if err != nil {
			return exec.GetSequence(), fmt.Errorf("load operations from %d: %w", from, err)
		}
		for _, op := range ops {
			cmd, err := parse(op.CommandType, op.Payload)
			if err != nil {
				return exec.GetSequence(), fmt.Errorf("parse operation %d: %w", op.Sequence, err)
			}
			lc := core.LoggedCommand{Sequence: op.Sequence, Command: cmd}
			copy(lc.StateHash[:], op.StateHash)
			if err := exec.Replay(lc); err != nil {
				return exec.GetSequence(), err
			}
			if err := verify(); err != nil {
				return exec.GetSequence(), err
			}
		}
		if len(ops) < replayPageSize {
			break
		}
		from = ops[len(ops)-1].Sequence + 1
	}

	if snap != nil && exec.GetSequence() < snap.Sequence {
		return exec.GetSequence(), fmt.Errorf("snapshot at seq %d is ahead of the log (last %d)", snap.Sequence, exec.GetSequence())
	}
	if snap != nil {
		exec.WarmLRU(snap.IdempotencyKeys)
	}
	logger.Info().Int64("sequence", exec.GetSequence()).Msg("replay complete")
	return exec.GetSequence(), nil
}
