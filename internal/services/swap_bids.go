package services

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/events"
	"github.com/swap-desk/backend/internal/models"
	"go.uber.org/zap"
)

// BidResult is the outcome of PlaceBid. A matched bid settled the swap at
// once and was never stored; Swap then holds the sold swap.
type BidResult struct {
	Matched  bool         `json:"matched"`
	Replaced bool         `json:"replaced"`
	Bid      *models.Bid  `json:"bid"`
	Swap     *models.Swap `json:"swap,omitempty"`
}

// PlaceBid stores a bid on an open swap, or settles the swap immediately when
// the bid meets the ask in the ask's currency.
func (s *SwapService) PlaceBid(ctx context.Context, bidder common.Address, id uint64, amount *big.Int, currency common.Address, expiry time.Time) (_ *BidResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("place_bid", &err)

	swap, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(swap); err != nil {
		return nil, err
	}
	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	now := s.now()
	if !expiry.After(now) {
		return nil, ErrExpiryInPast
	}
	if expiry.After(now.Add(s.settings.MaxBidExpiry)) {
		return nil, ErrExpiryTooFar
	}
	if bidder == swap.Seller {
		return nil, ErrSelfBid
	}
	if !swap.IsPublic() && swap.Buyer != bidder {
		return nil, ErrPrivateSwap
	}
	if err := s.requireFunded(ctx, swap); err != nil {
		return nil, err
	}
	if err := s.requireSpendable(ctx, bidder, currency, amount); err != nil {
		return nil, err
	}

	bid := &models.Bid{
		SwapID:     id,
		Buyer:      bidder,
		Amount:     new(big.Int).Set(amount),
		Currency:   currency,
		ExpiryTime: expiry,
		PlacedAt:   now,
	}

	if bid.Matches(swap.Ask) {
		sold, err := s.settle(ctx, swap, models.Price{Amount: bid.Amount, Currency: currency}, bidder, originBidMatch)
		if err != nil {
			return nil, err
		}
		s.recordBid(ctx, bid, true, false)
		return &BidResult{Matched: true, Bid: bid, Swap: sold}, nil
	}

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.SaveBid(ctx, bid)
	}); err != nil {
		return nil, err
	}
	replaced := s.bids.Put(bid)
	s.recordBid(ctx, bid, false, replaced)
	return &BidResult{Replaced: replaced, Bid: bid}, nil
}

// AcceptBid settles a swap on the terms of bidder's live bid.
func (s *SwapService) AcceptBid(ctx context.Context, seller common.Address, id uint64, bidder common.Address) (_ *models.Swap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("accept_bid", &err)

	swap, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if swap.Seller != seller {
		return nil, ErrNotSeller
	}
	if err := requireOpen(swap); err != nil {
		return nil, err
	}
	bid, ok := s.bids.Get(id, bidder)
	if !ok {
		return nil, ErrNoBidExists
	}
	if !bid.IsLive(s.now()) {
		return nil, ErrBidExpired
	}

	sold, err := s.settle(ctx, swap, models.Price{Amount: bid.Amount, Currency: bid.Currency}, bidder, originAcceptBid)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, seller, events.EventBidAccepted, &sold.ID, settlementPayload(sold))
	return sold, nil
}

// CancelBid removes the caller's bid on swap id.
func (s *SwapService) CancelBid(ctx context.Context, bidder common.Address, id uint64) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("cancel_bid", &err)

	if !s.registry.Exists(id) {
		return fmt.Errorf("%w: %d", ErrInvalidSwapID, id)
	}
	bid, ok := s.bids.Get(id, bidder)
	if !ok {
		return ErrNoBidExists
	}

	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		return s.deleteBids(ctx, []*models.Bid{bid})
	}); err != nil {
		return err
	}
	s.bids.Remove(id, bidder)

	if s.metrics != nil {
		s.metrics.BidsCanceled.Inc()
	}
	s.log.Info("bid canceled", zap.Uint64("swap_id", id), zap.String("bidder", bidder.Hex()))
	s.emit(ctx, bidder, events.EventBidCanceled, &id, map[string]any{
		"swap_id": id,
		"bidder":  bidder.Hex(),
	})
	return nil
}

// CancelAllBids removes every bid the caller holds and returns the swap ids
// they were on.
func (s *SwapService) CancelAllBids(ctx context.Context, bidder common.Address) (_ []uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("cancel_all_bids", &err)

	if !s.bids.HasBids(bidder) {
		return nil, ErrNoActiveBids
	}

	var held []*models.Bid
	for _, id := range s.bids.BidderSwaps(bidder) {
		if b, ok := s.bids.Get(id, bidder); ok {
			held = append(held, b)
		}
	}
	if err := s.tx.Run(ctx, func(ctx context.Context) error {
		return s.deleteBids(ctx, held)
	}); err != nil {
		return nil, err
	}
	ids := s.bids.RemoveAllBy(bidder)

	if s.metrics != nil {
		s.metrics.BidsCanceled.Add(float64(len(ids)))
	}
	s.log.Info("all bids canceled", zap.String("bidder", bidder.Hex()), zap.Int("count", len(ids)))
	s.emit(ctx, bidder, events.EventAllBidsCanceled, nil, map[string]any{
		"bidder":   bidder.Hex(),
		"swap_ids": ids,
	})
	return ids, nil
}

// requireSpendable checks that bidder could pay amount of currency through
// the engine right now.
func (s *SwapService) requireSpendable(ctx context.Context, bidder, currency common.Address, amount *big.Int) error {
	token, err := s.currencies.Token(currency)
	if err != nil {
		return err
	}
	bal, err := token.BalanceOf(ctx, bidder)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	allowance, err := token.Allowance(ctx, bidder, s.engine)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return nil
}

func (s *SwapService) recordBid(ctx context.Context, bid *models.Bid, matched, replaced bool) {
	if s.metrics != nil {
		s.metrics.BidsPlaced.WithLabelValues(strconv.FormatBool(matched)).Inc()
	}
	s.log.Info("bid placed",
		zap.Uint64("swap_id", bid.SwapID),
		zap.String("bidder", bid.Buyer.Hex()),
		zap.String("amount", bid.Amount.String()),
		zap.Bool("matched", matched),
	)
	s.emit(ctx, bid.Buyer, events.EventBidPlaced, &bid.SwapID, map[string]any{
		"swap_id":     bid.SwapID,
		"bidder":      bid.Buyer.Hex(),
		"amount":      bid.Amount.String(),
		"currency":    bid.Currency.Hex(),
		"expiry_time": bid.ExpiryTime.Unix(),
		"matched":     matched,
		"replaced":    replaced,
	})
}
