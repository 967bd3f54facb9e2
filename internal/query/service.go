package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"LevFarm/internal/core"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/projection"

	"github.com/shopspring/decimal"
)

// ErrNoDatabase is returned by queries that only Postgres can answer.
var ErrNoDatabase = errors.New("query: no database configured")

// Inspector runs fn on the goroutine that owns the executor.
type Inspector interface {
	Inspect(ctx context.Context, fn func(*core.Executor)) error
}

// QueryService answers read-only queries. Status and recent history come
// from the projection store, live strategy reads go through the executor
// goroutine and the full log is read from Postgres. db may be nil.
type QueryService struct {
	db        *sql.DB
	store     *projection.StatusStore
	inspector Inspector
}

func NewQueryService(db *sql.DB, store *projection.StatusStore, inspector Inspector) *QueryService {
	return &QueryService{db: db, store: store, inspector: inspector}
}

// GetStatus returns the latest projected status, asking the executor when
// nothing has been projected yet.
func (qs *QueryService) GetStatus(ctx context.Context) (*core.StrategyStatus, error) {
	if st := qs.store.Status(); st != nil {
		return st, nil
	}
	var st *core.StrategyStatus
	if err := qs.inspector.Inspect(ctx, func(e *core.Executor) { st = e.Status() }); err != nil {
		return nil, err
	}
	return st, nil
}

// GetTriggers evaluates the keeper triggers for a call cost in whole want
// tokens.
func (qs *QueryService) GetTriggers(ctx context.Context, callCost decimal.Decimal) (*core.TriggerReport, error) {
	if callCost.IsNegative() {
		return nil, fmt.Errorf("call cost %s is negative", callCost)
	}
	var report core.TriggerReport
	err := qs.inspector.Inspect(ctx, func(e *core.Executor) {
		cost := fpmath.FromDecimal(callCost, int32(e.Strategy().Config().WantDecimals))
		report = e.Triggers(cost)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetHistory returns operations newest first, optionally filtered by
// command type. Without a database only the in-memory window is served.
func (qs *QueryService) GetHistory(ctx context.Context, limit int, commandType string, beforeSeq *int64) (*HistoryResponse, error) {
	if qs.db == nil {
		resp := &HistoryResponse{Operations: make([]OperationEntry, 0)}
		for _, env := range qs.store.Recent(limit, commandType) {
			if beforeSeq != nil && env.Sequence >= *beforeSeq {
				continue
			}
			resp.Operations = append(resp.Operations, FromEnvelope(env))
		}
		if st := qs.store.Status(); st != nil {
			resp.AsOfSequence = st.Sequence
		}
		return resp, nil
	}

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, command_type, idempotency_key, sender, strategy, status,
		       COALESCE(error, ''), payload, COALESCE(result, 'null'::jsonb),
		       encode(state_hash, 'hex'), timestamp, source_sequence
		FROM levfarm.strategy_operations
		WHERE 1 = 1
	`
	args := []any{}
	argIdx := 1

	if commandType != "" {
		query += fmt.Sprintf(" AND command_type = $%d", argIdx)
		args = append(args, commandType)
		argIdx++
	}
	if beforeSeq != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}
	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &HistoryResponse{Operations: make([]OperationEntry, 0), AsOfSequence: asOf}
	for rows.Next() {
		var (
			op              OperationEntry
			payload, result []byte
		)
		if err := rows.Scan(
			&op.Sequence, &op.CommandType, &op.IdempotencyKey, &op.Sender, &op.Strategy, &op.Status,
			&op.Error, &payload, &result, &op.StateHash, &op.Timestamp, &op.SourceSequence,
		); err != nil {
			return nil, err
		}
		op.Payload = payload
		if string(result) != "null" {
			op.Result = result
		}
		resp.Operations = append(resp.Operations, op)
	}
	return resp, rows.Err()
}

// GetJournals returns booked legs newest first, optionally only those of
// sequences below beforeSeq.
func (qs *QueryService) GetJournals(ctx context.Context, limit int, beforeSeq *int64) (*JournalResponse, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT journal_id, batch_id, command_ref, sequence, debit_account,
		       credit_account, asset, amount::text, journal_type, timestamp
		FROM levfarm.position_journals
	`
	args := []any{}
	argIdx := 1
	if beforeSeq != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}
	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &JournalResponse{Journals: make([]JournalEntry, 0), AsOfSequence: asOf}
	for rows.Next() {
		var j JournalEntry
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.CommandRef, &j.Sequence, &j.DebitAccount,
			&j.CreditAccount, &j.Asset, &j.Amount, &j.JournalType, &j.Timestamp,
		); err != nil {
			return nil, err
		}
		resp.Journals = append(resp.Journals, j)
	}
	return resp, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the stored hash chain and compares the journal
// sums in Postgres with the executor's booked balances. Only sequences the
// persistence worker has flushed are compared.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM levfarm.strategy_operations o1
		JOIN levfarm.strategy_operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash <> o2.state_hash
		ORDER BY o1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var (
		memory   map[string]decimal.Decimal
		totals   *LedgerResponse
		memorySq int64
	)
	if err := qs.inspector.Inspect(ctx, func(e *core.Executor) {
		balances := e.Balances()
		memorySq = e.GetSequence()
		memory = make(map[string]decimal.Decimal, len(balances))
		for k, v := range balances {
			memory[k.AccountPath()] = v
		}
		totals = ledgerResponse(balances, memorySq)
	}); err != nil {
		return nil, err
	}
	for _, t := range totals.Totals {
		if t.Total != "0" {
			report.Unbalanced = append(report.Unbalanced, t)
		}
	}

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}
	report.AsOfSequence = asOf
	// The worker lags the executor; drift is only meaningful when caught up.
	if asOf == memorySq {
		stored, err := qs.storedBalances(ctx)
		if err != nil {
			return nil, err
		}
		report.Drift = compareBalances(stored, memory)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.Unbalanced) == 0 && len(report.Drift) == 0
	return report, nil
}

func (qs *QueryService) storedBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, SUM(delta)::text FROM (
			SELECT debit_account AS account, amount AS delta FROM levfarm.position_journals
			UNION ALL
			SELECT credit_account, -amount FROM levfarm.position_journals
		) legs
		GROUP BY account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[string]decimal.Decimal)
	for rows.Next() {
		var account, sum string
		if err := rows.Scan(&account, &sum); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", account, err)
		}
		stored[account] = d
	}
	return stored, rows.Err()
}

func compareBalances(stored, memory map[string]decimal.Decimal) []BalanceDrift {
	var drift []BalanceDrift
	seen := make(map[string]bool, len(stored))
	for account, s := range stored {
		seen[account] = true
		if m := memory[account]; !m.Equal(s) {
			drift = append(drift, BalanceDrift{Account: account, Stored: s.String(), InMemory: m.String()})
		}
	}
	for account, m := range memory {
		if !seen[account] && !m.IsZero() {
			drift = append(drift, BalanceDrift{Account: account, Stored: "0", InMemory: m.String()})
		}
	}
	return drift
}

// --- helpers ---

func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM levfarm.strategy_operations
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
