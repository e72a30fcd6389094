package dto

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ErrBadAmount  = errors.New("amount must be a decimal or 0x-prefixed integer")
	ErrBadAddress = errors.New("address must be 0x-prefixed 20-byte hex")
)

// Auth

type NonceRequest struct {
	Address string `json:"address"`
}

type VerifyRequest struct {
	Address   string `json:"address"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Swaps

type CreateSwapRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Buyer    string `json:"buyer,omitempty"` // empty for a public swap
}

type UpdateSwapRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type PlaceBidRequest struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExpiryTime int64  `json:"expiry_time"` // unix seconds
}

// Admin

type SetFeeRateRequest struct {
	RatePerMille *uint32 `json:"rate_per_mille"`
}

type SetFeeGraceVolumeRequest struct {
	Volume string `json:"volume"`
}

type SetFeePaymentAddressRequest struct {
	Address string `json:"address"`
}

type SetMaxBidExpiryRequest struct {
	Seconds int64 `json:"seconds"`
}

type CurrencyRequest struct {
	Currency string `json:"currency"`
}

// Dev ledger

type MintRequest struct {
	Currency string `json:"currency"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

type LockRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ApproveRequest struct {
	Currency string `json:"currency"`
	Spender  string `json:"spender,omitempty"` // defaults to the engine
	Amount   string `json:"amount"`
}

type TransferAllRequest struct {
	To string `json:"to"`
}

// ParseAmount reads a non-negative 256-bit integer.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrBadAmount
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, ErrBadAmount
	}
	return v, nil
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return common.HexToAddress(s), nil
}

// ParseOptionalAddress maps an empty string to the zero address.
func ParseOptionalAddress(s string) (common.Address, error) {
	if strings.TrimSpace(s) == "" {
		return common.Address{}, nil
	}
	return ParseAddress(s)
}
