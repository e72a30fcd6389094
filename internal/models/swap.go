package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SwapState is the lifecycle state of a swap listing.
type SwapState uint8

// Swap states
const (
	SwapStateCreated SwapState = iota
	SwapStateSold
	SwapStateCanceled
)

func (s SwapState) String() string {
	switch s {
	case SwapStateCreated:
		return "created"
	case SwapStateSold:
		return "sold"
	case SwapStateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Valid state transitions: from -> []to
var ValidSwapTransitions = map[SwapState][]SwapState{
	SwapStateCreated:  {SwapStateSold, SwapStateCanceled},
	SwapStateSold:     {},
	SwapStateCanceled: {},
}

func IsValidSwapTransition(from, to SwapState) bool {
	allowed, ok := ValidSwapTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Price is an amount of a settlement currency, in token base units.
type Price struct {
	Amount   *big.Int       `json:"amount"`
	Currency common.Address `json:"currency"`
}

// Sale is the snapshot taken when a swap settles. It never changes afterwards.
type Sale struct {
	CollateralAmount *big.Int       `json:"collateral_amount"`
	Amount           *big.Int       `json:"amount"`
	Currency         common.Address `json:"currency"`
	Buyer            common.Address `json:"buyer"`
	SoldAt           time.Time      `json:"sold_at"`
}

type Swap struct {
	ID     uint64         `json:"id"`
	Wallet common.Address `json:"wallet"` // custody account
	Seller common.Address `json:"seller"`
	// Buyer is the designated buyer; the zero address marks a public swap.
	Buyer     common.Address `json:"buyer"`
	Ask       Price          `json:"ask"`
	State     SwapState      `json:"state"`
	Sale      Sale           `json:"sale"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s *Swap) IsPublic() bool {
	return s.Buyer == (common.Address{})
}

func (s *Swap) IsOpen() bool {
	return s.State == SwapStateCreated
}

// Clone returns a deep copy so callers never share amounts with the registry.
func (s *Swap) Clone() *Swap {
	c := *s
	c.Ask.Amount = cloneInt(s.Ask.Amount)
	c.Sale.CollateralAmount = cloneInt(s.Sale.CollateralAmount)
	c.Sale.Amount = cloneInt(s.Sale.Amount)
	return &c
}

// SwapView is what queries return. CollateralAmount is read live from the
// custody account unless the swap is sold, in which case it is the sale snapshot.
// Unknown ids produce a zero-valued view with Found=false.
type SwapView struct {
	Swap
	Found            bool     `json:"found"`
	CollateralAmount *big.Int `json:"collateral_amount"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
