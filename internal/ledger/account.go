package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeStrategy AccountScope = iota
	AccountScopeCounterparty
)

// AccountSubType represents which leg of the position the account books
type AccountSubType uint8

const (
	SubTypeCollateral AccountSubType = iota
	SubTypeDebtA
	SubTypeDebtB
	SubTypePoolTokens
	SubTypeIdle
)

var subTypeNames = map[AccountSubType]string{
	SubTypeCollateral: "collateral",
	SubTypeDebtA:      "debt_a",
	SubTypeDebtB:      "debt_b",
	SubTypePoolTokens: "pool_tokens",
	SubTypeIdle:       "idle",
}

// AccountKey is the in-memory key for balance tracking.
// Strategy accounts mirror one Position field each; the counterparty account
// with the same owner, sub-type and asset carries the opposite balance.
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address
	SubType AccountSubType
	Asset   common.Address
}

func NewStrategyAccountKey(owner common.Address, subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeStrategy, Owner: owner, SubType: subType, Asset: asset}
}

func NewCounterpartyAccountKey(owner common.Address, subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeCounterparty, Owner: owner, SubType: subType, Asset: asset}
}

// Counterparty returns the mirror account of k.
func (k AccountKey) Counterparty() AccountKey {
	k.Scope = AccountScopeCounterparty
	return k
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	scope := "strategy"
	if k.Scope == AccountScopeCounterparty {
		scope = "counterparty"
	}
	return fmt.Sprintf("%s:%s:%s:%s", scope, k.Owner.Hex(), k.subTypeName(), k.Asset.Hex())
}

func (k AccountKey) subTypeName() string {
	if name, ok := subTypeNames[k.SubType]; ok {
		return name
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 {
		return AccountKey{}, fmt.Errorf("account path %q: want 4 segments, got %d", path, len(parts))
	}

	var k AccountKey
	switch parts[0] {
	case "strategy":
		k.Scope = AccountScopeStrategy
	case "counterparty":
		k.Scope = AccountScopeCounterparty
	default:
		return AccountKey{}, fmt.Errorf("account path %q: unknown scope %q", path, parts[0])
	}

	if !common.IsHexAddress(parts[1]) || !common.IsHexAddress(parts[3]) {
		return AccountKey{}, fmt.Errorf("account path %q: malformed address", path)
	}
	k.Owner = common.HexToAddress(parts[1])
	k.Asset = common.HexToAddress(parts[3])

	found := false
	for st, name := range subTypeNames {
		if name == parts[2] {
			k.SubType, found = st, true
			break
		}
	}
	if !found {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
	}
	return k, nil
}
