package main

import (
	"context"
	"fmt"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/observability"
	"LevFarm/internal/persistence"

	"github.com/rs/zerolog"
)

// logCatchUpTimeout bounds how long a snapshot waits for the persistence
// worker to flush the operations it covers.
const logCatchUpTimeout = 5 * time.Second

type snapshotter struct {
	mgr     *persistence.SnapshotManager
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// runPeriodic snapshots every interval commands. It checks every 10s.
func (s *snapshotter) runPeriodic(ctx context.Context, runner *core.Runner, interval int64) {
	var lastSnapshotSeq int64
	_ = runner.Inspect(ctx, func(e *core.Executor) { lastSnapshotSeq = e.GetSequence() })

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var current int64
			if err := runner.Inspect(ctx, func(e *core.Executor) { current = e.GetSequence() }); err != nil {
				return
			}
			if current-lastSnapshotSeq < interval {
				continue
			}
			seq, err := s.takeLive(ctx, runner)
			if err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = seq
			s.logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// takeLive captures the state on the executor goroutine and saves it.
func (s *snapshotter) takeLive(ctx context.Context, runner *core.Runner) (int64, error) {
	var st *core.SnapshotState
	if err := runner.Inspect(ctx, func(e *core.Executor) { st = e.CreateSnapshotState() }); err != nil {
		return 0, err
	}
	return s.save(ctx, st)
}

// save persists st once the operation log has caught up with it. A snapshot
// taken from live state is verified on the spot.
func (s *snapshotter) save(ctx context.Context, st *core.SnapshotState) (int64, error) {
	if st.Sequence == 0 {
		return 0, nil
	}
	start := time.Now()

	deadline := time.Now().Add(logCatchUpTimeout)
	for {
		latest, err := s.mgr.GetLatestSequence(ctx)
		if err != nil {
			return 0, fmt.Errorf("latest sequence: %w", err)
		}
		if latest >= st.Sequence {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("operation log at %d, snapshot at %d", latest, st.Sequence)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	if err := s.mgr.SaveSnapshot(ctx, persistence.EncodeSnapshot(st, time.Now())); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.mgr.MarkVerified(ctx, st.Sequence); err != nil {
		s.logger.Warn().Err(err).Int64("sequence", st.Sequence).Msg("mark snapshot verified failed")
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	return st.Sequence, nil
}
