package services

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/models"
)

// SwapBucket names one of the lifecycle buckets.
type SwapBucket string

const (
	BucketOpen      SwapBucket = "open"
	BucketCompleted SwapBucket = "completed"
	BucketCanceled  SwapBucket = "canceled"
)

// GetSwap returns the swap with its collateral amount. Unknown ids give a
// zero view with Found=false, not an error.
func (s *SwapService) GetSwap(ctx context.Context, id uint64) (models.SwapView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.registry.Get(id)
	if !ok {
		var view models.SwapView
		view.Ask.Amount = new(big.Int)
		view.Sale.Amount = new(big.Int)
		view.Sale.CollateralAmount = new(big.Int)
		view.CollateralAmount = new(big.Int)
		return view, nil
	}

	view := models.SwapView{Swap: *swap, Found: true}
	if swap.State == models.SwapStateSold {
		view.CollateralAmount = swap.Sale.CollateralAmount
		return view, nil
	}
	bal, err := s.custody.BalanceOf(ctx, swap.Wallet)
	if err != nil {
		return models.SwapView{}, err
	}
	view.CollateralAmount = bal
	return view, nil
}

// GetBuyerBids returns bidder's bid for each id, in order. Absent bids come
// back as zero-valued entries.
func (s *SwapService) GetBuyerBids(bidder common.Address, ids []uint64) []models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Bid, len(ids))
	for i, id := range ids {
		if b, ok := s.bids.Get(id, bidder); ok {
			out[i] = *b.Clone()
			continue
		}
		out[i].Amount = new(big.Int)
	}
	return out
}

// SwapBids lists the bids stored on a swap, highest first. Expired bids are
// included.
func (s *SwapService) SwapBids(id uint64) []*models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bids.SwapBids(id)
}

// Swaps lists the ids in a lifecycle bucket. ok is false for an unknown bucket.
func (s *SwapService) Swaps(bucket SwapBucket) (ids []uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch bucket {
	case BucketOpen:
		return s.registry.Open(), true
	case BucketCompleted:
		return s.registry.Completed(), true
	case BucketCanceled:
		return s.registry.Canceled(), true
	default:
		return nil, false
	}
}

func (s *SwapService) SellerSwaps(seller common.Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.SellerSwaps(seller)
}

// BuyerSwaps lists swaps reserved for buyer. The zero address lists public swaps.
func (s *SwapService) BuyerSwaps(buyer common.Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.BuyerSwaps(buyer)
}

func (s *SwapService) BidderSwaps(bidder common.Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bids.BidderSwaps(bidder)
}

func (s *SwapService) VolumeTraded() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.volume)
}

func (s *SwapService) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

func (s *SwapService) IsAllowed(currency common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist.IsAllowed(currency)
}

func (s *SwapService) Currencies() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist.List()
}

func (s *SwapService) Owner() common.Address {
	return s.owner
}

// EngineAddress is the spender buyers must approve.
func (s *SwapService) EngineAddress() common.Address {
	return s.engine
}
