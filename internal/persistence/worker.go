package persistence

import (
	"context"
	"database/sql"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
	"LevFarm/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The executor sends on that channel blocking, so if this worker falls
// behind the executor stalls and no operation is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *OperationLogWriter
	inputChan    <-chan core.CoreOutput
	publishChan  chan<- *event.OutcomeEnvelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewOperationLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// PublishTo forwards every envelope to ch once it is durable. Sends never
// block; a full channel drops the envelope.
func (pw *PersistenceWorker) PublishTo(ch chan<- *event.OutcomeEnvelope) {
	pw.publishChan = ch
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	var pending []*event.OutcomeEnvelope
	opBatch := make([]OperationRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*5)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(opBatch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, opBatch, journalBatch); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("operations", len(opBatch)).Msg("flush failed")
		} else {
			pw.publish(pending)
		}
		opBatch = opBatch[:0]
		journalBatch = journalBatch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}
			op, journals := Rows(output)
			opBatch = append(opBatch, op)
			journalBatch = append(journalBatch, journals...)
			pending = append(pending, output.Envelope)

			if len(opBatch) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) publish(envs []*event.OutcomeEnvelope) {
	if pw.publishChan == nil {
		return
	}
	for _, env := range envs {
		select {
		case pw.publishChan <- env:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled, then makes one last attempt.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, ops []OperationRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("operations", len(ops)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), ops, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, ops, journals)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, ops []OperationRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteOperationBatch(ctx, tx, ops); err != nil {
		pw.countError("write_operations")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(ops)))
		pw.metrics.PersistOperationsWritten.Add(float64(len(ops)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(ops[len(ops)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
