package query

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"LevFarm/internal/event"
)

// OperationEntry is one row of the operation log.
type OperationEntry struct {
	Sequence       int64           `json:"sequence"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Sender         string          `json:"sender"`
	Strategy       string          `json:"strategy"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
	SourceSequence int64           `json:"source_sequence"`
}

// FromEnvelope converts an executor outcome into its API shape.
func FromEnvelope(env *event.OutcomeEnvelope) OperationEntry {
	return OperationEntry{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Sender:         env.Sender.Hex(),
		Strategy:       env.Strategy.Hex(),
		Status:         env.Status,
		Error:          env.Error,
		Payload:        env.Payload,
		Result:         env.Result,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
}

// JournalEntry is one booked position leg.
type JournalEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CommandRef    string `json:"command_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// HistoryResponse wraps a page of operations with the sequence it was
// read at.
type HistoryResponse struct {
	Operations   []OperationEntry `json:"operations"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// JournalResponse wraps a page of journals.
type JournalResponse struct {
	Journals     []JournalEntry `json:"journals"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool           `json:"is_healthy"`
	AsOfSequence    int64          `json:"as_of_sequence"`
	HashChainBreaks []int64        `json:"hash_chain_breaks,omitempty"`
	Unbalanced      []AssetBalance `json:"unbalanced_assets,omitempty"`
	Drift           []BalanceDrift `json:"balance_drift,omitempty"`
}

// BalanceDrift is an account whose journal sum in Postgres differs from
// the executor's in-memory balance.
type BalanceDrift struct {
	Account  string `json:"account"`
	Stored   string `json:"stored"`
	InMemory string `json:"in_memory"`
}
