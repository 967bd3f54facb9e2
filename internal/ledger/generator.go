package ledger

import (
	"fmt"

	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// journalNamespace seeds the name-based journal and batch IDs so that a
// replayed command books the same IDs it booked the first time.
var journalNamespace = uuid.MustParse("0b7f4c52-2f4e-4d8e-9d55-6c0f3a1e9b21")

// Assets names the token booked by each position leg.
type Assets struct {
	Want   common.Address
	ShortA common.Address
	ShortB common.Address
	Pool   common.Address
}

// PositionChange is one strategy's position before and after a command.
type PositionChange struct {
	Strategy common.Address
	Assets   Assets
	Before   strategy.Position
	After    strategy.Position
}

type leg struct {
	subType  AccountSubType
	asset    common.Address
	before   *uint256.Int
	after    *uint256.Int
	increase JournalType
	decrease JournalType
}

func (c PositionChange) legs() []leg {
	return []leg{
		{SubTypeCollateral, c.Assets.Want, c.Before.SuppliedCollateral, c.After.SuppliedCollateral, JournalTypeSupply, JournalTypeRedeem},
		{SubTypeDebtA, c.Assets.ShortA, c.Before.BorrowedA, c.After.BorrowedA, JournalTypeBorrow, JournalTypeRepay},
		{SubTypeDebtB, c.Assets.ShortB, c.Before.BorrowedB, c.After.BorrowedB, JournalTypeBorrow, JournalTypeRepay},
		{SubTypePoolTokens, c.Assets.Pool, c.Before.PoolTokens, c.After.PoolTokens, JournalTypeProvideLiquidity, JournalTypeRemoveLiquidity},
		{SubTypeIdle, c.Assets.Want, c.Before.IdleWant, c.After.IdleWant, JournalTypeIdleIn, JournalTypeIdleOut},
	}
}

// JournalGenerator creates balanced journal batches from position changes
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// SetSequence realigns the generator after a snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GeneratePositionChanges books every leg that moved. An increase debits the
// strategy account and credits its counterparty; a decrease does the
// reverse. The strategy account therefore always equals the Position field.
func (jg *JournalGenerator) GeneratePositionChanges(commandRef string, timestamp int64, changes ...PositionChange) (*Batch, error) {
	batchID := uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s:%d", commandRef, jg.sequence)))
	batch := &Batch{
		BatchID:    batchID,
		CommandRef: commandRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
	}

	for _, c := range changes {
		for _, l := range c.legs() {
			before, after := orZero(l.before), orZero(l.after)
			if before.Eq(after) {
				continue
			}
			if l.asset == (common.Address{}) {
				return nil, fmt.Errorf("strategy %s: no asset for %s leg", c.Strategy.Hex(), subTypeNames[l.subType])
			}

			own := NewStrategyAccountKey(c.Strategy, l.subType, l.asset)
			j := Journal{
				JournalID:  uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", len(batch.Journals)))),
				BatchID:    batchID,
				CommandRef: commandRef,
				Sequence:   jg.sequence,
				Timestamp:  timestamp,
			}
			if after.Gt(before) {
				j.DebitAccount, j.CreditAccount = own, own.Counterparty()
				j.Amount = new(uint256.Int).Sub(after, before)
				j.JournalType = l.increase
			} else {
				j.DebitAccount, j.CreditAccount = own.Counterparty(), own
				j.Amount = new(uint256.Int).Sub(before, after)
				j.JournalType = l.decrease
			}
			batch.Journals = append(batch.Journals, j)
		}
	}

	jg.sequence++
	return batch, nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
