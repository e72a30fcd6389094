package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Bid is a buyer's offer on a swap. At most one bid exists per (swap, buyer).
// A zero Buyer marks the empty bid returned for absent entries.
type Bid struct {
	SwapID     uint64         `json:"swap_id"`
	Buyer      common.Address `json:"buyer"`
	Amount     *big.Int       `json:"amount"`
	Currency   common.Address `json:"currency"`
	ExpiryTime time.Time      `json:"expiry_time"`
	PlacedAt   time.Time      `json:"placed_at"`
}

func (b *Bid) IsEmpty() bool {
	return b.Buyer == (common.Address{})
}

// IsLive reports whether the bid is still acceptable at the given instant.
func (b *Bid) IsLive(now time.Time) bool {
	return !b.IsEmpty() && b.ExpiryTime.After(now)
}

// Matches reports whether the bid meets or beats the ask in the ask's currency.
func (b *Bid) Matches(ask Price) bool {
	return b.Currency == ask.Currency && b.Amount.Cmp(ask.Amount) >= 0
}

func (b *Bid) Clone() *Bid {
	c := *b
	c.Amount = cloneInt(b.Amount)
	return &c
}
