package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionWorker updates the status store and the position_projection
// table from executor outputs. The executor feeds it without blocking, so
// it may miss outputs; each row is a full overwrite, so the next one heals
// the gap.
type ProjectionWorker struct {
	db        *sql.DB // nil keeps projections in memory only
	store     *StatusStore
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, store *StatusStore, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		store:     store,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			start := time.Now()
			pw.store.Apply(output)
			if err := pw.UpsertStatus(ctx, output.Status); err != nil {
				// Eventually consistent: the next output overwrites the row.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// UpsertStatus overwrites the strategy's projection row.
func (pw *ProjectionWorker) UpsertStatus(ctx context.Context, st *core.StrategyStatus) error {
	if pw.db == nil || st == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	p := st.Position.Clone()
	_, err = pw.db.ExecContext(ctx, `
		INSERT INTO projections.position_projection
			(strategy, sequence, supplied_collateral, borrowed_a, borrowed_b, pool_tokens, idle_want,
			 collateral_ratio_bps, debt_ratio_a_bps, debt_ratio_b_bps, estimated_total_assets,
			 emergency_exit, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (strategy) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			supplied_collateral = EXCLUDED.supplied_collateral,
			borrowed_a = EXCLUDED.borrowed_a,
			borrowed_b = EXCLUDED.borrowed_b,
			pool_tokens = EXCLUDED.pool_tokens,
			idle_want = EXCLUDED.idle_want,
			collateral_ratio_bps = EXCLUDED.collateral_ratio_bps,
			debt_ratio_a_bps = EXCLUDED.debt_ratio_a_bps,
			debt_ratio_b_bps = EXCLUDED.debt_ratio_b_bps,
			estimated_total_assets = EXCLUDED.estimated_total_assets,
			emergency_exit = EXCLUDED.emergency_exit,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE projections.position_projection.sequence <= EXCLUDED.sequence
	`,
		st.Strategy.Hex(), st.Sequence,
		p.SuppliedCollateral.Dec(), p.BorrowedA.Dec(), p.BorrowedB.Dec(), p.PoolTokens.Dec(), p.IdleWant.Dec(),
		int64(st.CollateralRatioBps), int64(st.DebtRatioABps), int64(st.DebtRatioBBps),
		st.EstimatedTotalAssets.Dec(), st.EmergencyExit, string(raw), st.UpdatedAt,
	)
	return err
}
