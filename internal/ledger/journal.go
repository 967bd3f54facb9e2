package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSupply JournalType = iota
	JournalTypeRedeem
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeProvideLiquidity
	JournalTypeRemoveLiquidity
	JournalTypeIdleIn
	JournalTypeIdleOut
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeSupply:
		return "supply"
	case JournalTypeRedeem:
		return "redeem"
	case JournalTypeBorrow:
		return "borrow"
	case JournalTypeRepay:
		return "repay"
	case JournalTypeProvideLiquidity:
		return "provide_liquidity"
	case JournalTypeRemoveLiquidity:
		return "remove_liquidity"
	case JournalTypeIdleIn:
		return "idle_in"
	case JournalTypeIdleOut:
		return "idle_out"
	default:
		return fmt.Sprintf("JournalType(%d)", int32(t))
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	CommandRef    string // idempotency key of the source command
	Sequence      int64
	DebitAccount  AccountKey   // balance increases
	CreditAccount AccountKey   // balance decreases
	Amount        *uint256.Int // always positive, in the asset's base units
	JournalType   JournalType
	Timestamp     int64 // chain time, epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID    uuid.UUID
	CommandRef string
	Sequence   int64
	Timestamp  int64
	Journals   []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount between two accounts of the same asset, so every entry is balanced
// on its own and so is the batch. An empty batch is valid: commands that
// leave the position untouched still get one.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.CreditAccount.Asset {
			return fmt.Errorf("journal %s moves between assets %s and %s",
				j.JournalID, j.DebitAccount.Asset.Hex(), j.CreditAccount.Asset.Hex())
		}
	}
	return nil
}
