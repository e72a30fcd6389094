package dto

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/models"
)

type NonceResponse struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

type AuthResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// Amounts are rendered as decimal strings; they routinely exceed 2^53.

type PriceResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type SaleResponse struct {
	CollateralAmount string     `json:"collateral_amount"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Buyer            string     `json:"buyer"`
	SoldAt           *time.Time `json:"sold_at,omitempty"`
}

type SwapResponse struct {
	ID               uint64        `json:"id"`
	Found            bool          `json:"found"`
	Wallet           string        `json:"wallet"`
	Seller           string        `json:"seller"`
	Buyer            string        `json:"buyer"`
	Public           bool          `json:"public"`
	Ask              PriceResponse `json:"ask"`
	State            string        `json:"state"`
	CollateralAmount string        `json:"collateral_amount"`
	Sale             *SaleResponse `json:"sale,omitempty"`
	CreatedAt        *time.Time    `json:"created_at,omitempty"`
	UpdatedAt        *time.Time    `json:"updated_at,omitempty"`
}

type BidResponse struct {
	SwapID     uint64 `json:"swap_id"`
	Buyer      string `json:"buyer"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExpiryTime int64  `json:"expiry_time"`
	Live       bool   `json:"live"`
}

type PlaceBidResponse struct {
	Matched  bool          `json:"matched"`
	Replaced bool          `json:"replaced"`
	Bid      BidResponse   `json:"bid"`
	Swap     *SwapResponse `json:"swap,omitempty"`
}

type SwapIDsResponse struct {
	SwapIDs []uint64 `json:"swap_ids"`
}

type SettingsResponse struct {
	FeeRatePerMille     uint32 `json:"fee_rate_per_mille"`
	FeeGraceVolume      string `json:"fee_grace_volume"`
	FeePaymentAddress   string `json:"fee_payment_address"`
	MaxBidExpirySeconds int64  `json:"max_bid_expiry_seconds"`
}

type CurrencyResponse struct {
	Currency string `json:"currency"`
	Allowed  bool   `json:"allowed"`
}

type BalanceResponse struct {
	Holder     string `json:"holder"`
	Currency   string `json:"currency"`
	Balance    string `json:"balance"`
	Restricted string `json:"restricted,omitempty"`
	Allowance  string `json:"allowance,omitempty"`
}

func NewSwapResponse(v models.SwapView) SwapResponse {
	resp := NewSwapResponseFromSwap(&v.Swap)
	resp.Found = v.Found
	resp.CollateralAmount = amountString(v.CollateralAmount)
	if !v.Found {
		resp.CreatedAt, resp.UpdatedAt = nil, nil
	}
	return resp
}

func NewSwapResponseFromSwap(s *models.Swap) SwapResponse {
	resp := SwapResponse{
		ID:     s.ID,
		Found:  true,
		Wallet: s.Wallet.Hex(),
		Seller: s.Seller.Hex(),
		Buyer:  s.Buyer.Hex(),
		Public: s.IsPublic(),
		Ask: PriceResponse{
			Amount:   amountString(s.Ask.Amount),
			Currency: s.Ask.Currency.Hex(),
		},
		State:            s.State.String(),
		CollateralAmount: amountString(s.Sale.CollateralAmount),
		CreatedAt:        timePtr(s.CreatedAt),
		UpdatedAt:        timePtr(s.UpdatedAt),
	}
	if s.State == models.SwapStateSold {
		resp.Sale = &SaleResponse{
			CollateralAmount: amountString(s.Sale.CollateralAmount),
			Amount:           amountString(s.Sale.Amount),
			Currency:         s.Sale.Currency.Hex(),
			Buyer:            s.Sale.Buyer.Hex(),
			SoldAt:           timePtr(s.Sale.SoldAt),
		}
	}
	return resp
}

func NewBidResponse(b *models.Bid, now time.Time) BidResponse {
	resp := BidResponse{
		SwapID:   b.SwapID,
		Buyer:    b.Buyer.Hex(),
		Amount:   amountString(b.Amount),
		Currency: b.Currency.Hex(),
		Live:     b.IsLive(now),
	}
	if !b.ExpiryTime.IsZero() {
		resp.ExpiryTime = b.ExpiryTime.Unix()
	}
	return resp
}

func NewSettingsResponse(s models.Settings) SettingsResponse {
	return SettingsResponse{
		FeeRatePerMille:     s.FeeRatePerMille,
		FeeGraceVolume:      amountString(s.FeeGraceVolume),
		FeePaymentAddress:   s.FeePaymentAddress.Hex(),
		MaxBidExpirySeconds: int64(s.MaxBidExpiry / time.Second),
	}
}

func AddressesHex(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
