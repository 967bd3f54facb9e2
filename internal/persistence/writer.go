package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LevFarm/internal/core"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OperationLogWriter writes operations and journals to Postgres using
// multi-row INSERTs. IDs and sequences are deterministic, so a rewrite after
// a crash is a no-op.
type OperationLogWriter struct {
	db *sql.DB
}

// OperationRow represents a row in levfarm.strategy_operations
type OperationRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Sender         string
	Strategy       string
	Status         string
	Error          *string
	Payload        []byte // JSON-encoded command
	Result         []byte // JSON-encoded result, nil when none
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in levfarm.position_journals
type JournalRow struct {
	JournalID     string
	BatchID       string
	CommandRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string // decimal raw units
	JournalType   string
	Timestamp     int64
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// Rows converts one executor output into its table rows.
func Rows(out core.CoreOutput) (OperationRow, []JournalRow) {
	env := out.Envelope
	op := OperationRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender.Hex(),
		Strategy:       env.Strategy.Hex(),
		Status:         env.Status,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.Error != "" {
		msg := env.Error
		op.Error = &msg
	}
	if len(env.Result) > 0 {
		op.Result = env.Result
	}

	var journals []JournalRow
	if out.Batch != nil {
		journals = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				CommandRef:    j.CommandRef,
				Sequence:      env.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.DebitAccount.Asset.Hex(),
				Amount:        j.Amount.Dec(),
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return op, journals
}

// WriteOperationBatch writes a batch of operations to levfarm.strategy_operations.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, ex execer, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO levfarm.strategy_operations
		(sequence, command_type, idempotency_key, sender, strategy, status, error,
		 payload, result, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	const cols = 13
	values := make([]string, 0, len(ops))
	args := make([]any, 0, len(ops)*cols)

	for i, o := range ops {
		values = append(values, placeholders(i*cols, cols))
		// JSONB takes text; lib/pq would send []byte as bytea.
		var result any
		if o.Result != nil {
			result = string(o.Result)
		}
		args = append(args,
			o.Sequence, o.CommandType, o.IdempotencyKey, o.Sender, o.Strategy, o.Status, o.Error,
			string(o.Payload), result, o.StateHash, o.PrevHash, o.Timestamp, o.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to levfarm.position_journals.
func (w *OperationLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO levfarm.position_journals
		(journal_id, batch_id, command_ref, sequence, debit_account, credit_account,
		 asset, amount, journal_type, timestamp)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.CommandRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
