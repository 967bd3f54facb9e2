package strategy

import (
	"errors"
	"fmt"
	"sync"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrNoObservations = errors.New("no price observations")

// OracleSource quotes base in quote from the lending market oracle.
type OracleSource struct {
	Market LendingMarket
	Base   common.Address
	Quote  common.Address
}

func (o OracleSource) Price() (decimal.Decimal, error) {
	pb, err := o.Market.AssetPrice(o.Base)
	if err != nil {
		return decimal.Zero, err
	}
	pq, err := o.Market.AssetPrice(o.Quote)
	if err != nil {
		return decimal.Zero, err
	}
	return fpmath.ToDecimal(pb, fpmath.WadDecimals).Div(fpmath.ToDecimal(pq, fpmath.WadDecimals)), nil
}

// SpotSource quotes base in quote from the AMM reserves.
type SpotSource struct {
	AMM           AMM
	Base          common.Address
	Quote         common.Address
	BaseDecimals  uint8
	QuoteDecimals uint8
}

func (sp SpotSource) Price() (decimal.Decimal, error) {
	rb, rq, err := sp.AMM.GetReserves(sp.Base, sp.Quote)
	if err != nil {
		return decimal.Zero, err
	}
	if rb.IsZero() {
		return decimal.Zero, fmt.Errorf("spot %s: empty reserves", sp.Base.Hex())
	}
	base := fpmath.ToDecimal(rb, int32(sp.BaseDecimals))
	quote := fpmath.ToDecimal(rq, int32(sp.QuoteDecimals))
	return quote.Div(base), nil
}

// TWAPSource averages the samples taken from another source. Samples are
// taken by calling Observe, usually from the keeper loop.
type TWAPSource struct {
	mu      sync.Mutex
	source  PriceSource
	samples []decimal.Decimal
	next    int
	filled  bool
}

func NewTWAPSource(source PriceSource, window int) *TWAPSource {
	if window < 1 {
		window = 1
	}
	return &TWAPSource{source: source, samples: make([]decimal.Decimal, window)}
}

// Observe records the current price of the wrapped source.
func (t *TWAPSource) Observe() error {
	p, err := t.source.Price()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = p
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.filled = true
	}
	return nil
}

func (t *TWAPSource) Price() (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	if t.filled {
		n = len(t.samples)
	}
	if n == 0 {
		return decimal.Zero, ErrNoObservations
	}
	sum := decimal.Zero
	for _, p := range t.samples[:n] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), nil
}
