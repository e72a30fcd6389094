package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultFeeRatePerMille = 20
	DefaultMaxBidExpiry    = 30 * 24 * time.Hour
)

// DefaultFeeGraceVolume is one million whole tokens at 18 decimals.
var DefaultFeeGraceVolume = new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Settings is the owner-mutable engine configuration.
type Settings struct {
	FeeRatePerMille   uint32         `json:"fee_rate_per_mille"`
	FeeGraceVolume    *big.Int       `json:"fee_grace_volume"`
	FeePaymentAddress common.Address `json:"fee_payment_address"`
	MaxBidExpiry      time.Duration  `json:"max_bid_expiry"`
}

func DefaultSettings(feePaymentAddress common.Address) Settings {
	return Settings{
		FeeRatePerMille:   DefaultFeeRatePerMille,
		FeeGraceVolume:    new(big.Int).Set(DefaultFeeGraceVolume),
		FeePaymentAddress: feePaymentAddress,
		MaxBidExpiry:      DefaultMaxBidExpiry,
	}
}

func (s Settings) Clone() Settings {
	s.FeeGraceVolume = cloneInt(s.FeeGraceVolume)
	return s
}
