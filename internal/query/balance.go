package query

import (
	"context"
	"sort"

	"LevFarm/internal/core"
	"LevFarm/internal/ledger"

	"github.com/shopspring/decimal"
)

// AccountBalance is one booked account in raw token units.
type AccountBalance struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// AssetBalance sums every account of one asset. A consistent ledger sums
// to zero.
type AssetBalance struct {
	Asset string `json:"asset"`
	Total string `json:"total"`
}

// LedgerResponse is the executor's booked ledger at one sequence.
type LedgerResponse struct {
	Accounts     []AccountBalance `json:"accounts"`
	Totals       []AssetBalance   `json:"totals"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// GetLedgerBalances reads the in-memory ledger on the executor goroutine.
func (qs *QueryService) GetLedgerBalances(ctx context.Context) (*LedgerResponse, error) {
	var (
		balances map[ledger.AccountKey]decimal.Decimal
		seq      int64
	)
	if err := qs.inspector.Inspect(ctx, func(e *core.Executor) {
		balances = e.Balances()
		seq = e.GetSequence()
	}); err != nil {
		return nil, err
	}
	return ledgerResponse(balances, seq), nil
}

func ledgerResponse(balances map[ledger.AccountKey]decimal.Decimal, seq int64) *LedgerResponse {
	resp := &LedgerResponse{AsOfSequence: seq, Accounts: make([]AccountBalance, 0, len(balances))}
	totals := make(map[string]decimal.Decimal)
	for key, bal := range balances {
		asset := key.Asset.Hex()
		totals[asset] = totals[asset].Add(bal)
		if bal.IsZero() {
			continue
		}
		resp.Accounts = append(resp.Accounts, AccountBalance{
			Account: key.AccountPath(),
			Asset:   asset,
			Balance: bal.String(),
		})
	}
	sort.Slice(resp.Accounts, func(i, j int) bool { return resp.Accounts[i].Account < resp.Accounts[j].Account })

	for asset, total := range totals {
		resp.Totals = append(resp.Totals, AssetBalance{Asset: asset, Total: total.String()})
	}
	sort.Slice(resp.Totals, func(i, j int) bool { return resp.Totals[i].Asset < resp.Totals[j].Asset })
	return resp
}
