package repositories

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/models"
)

// BidBook keeps at most one bid per (swap, bidder) and an index of the swaps
// each bidder has bids on. Expired bids are kept until removed explicitly.
// Not safe for concurrent use.
type BidBook struct {
	bids     map[uint64]map[common.Address]*models.Bid
	byBidder map[common.Address]*idSet
}

func NewBidBook() *BidBook {
	return &BidBook{
		bids:     make(map[uint64]map[common.Address]*models.Bid),
		byBidder: make(map[common.Address]*idSet),
	}
}

// Put inserts or wholesale replaces the bid of bid.Buyer on bid.SwapID.
func (b *BidBook) Put(bid *models.Bid) (replaced bool) {
	perSwap, ok := b.bids[bid.SwapID]
	if !ok {
		perSwap = make(map[common.Address]*models.Bid)
		b.bids[bid.SwapID] = perSwap
	}
	_, replaced = perSwap[bid.Buyer]
	perSwap[bid.Buyer] = bid.Clone()
	indexOf(b.byBidder, bid.Buyer).add(bid.SwapID)
	return replaced
}

// Get returns a copy of the bid, if present.
func (b *BidBook) Get(swapID uint64, bidder common.Address) (*models.Bid, bool) {
	bid, ok := b.bids[swapID][bidder]
	if !ok {
		return nil, false
	}
	return bid.Clone(), true
}

func (b *BidBook) Remove(swapID uint64, bidder common.Address) bool {
	perSwap, ok := b.bids[swapID]
	if !ok {
		return false
	}
	if _, ok := perSwap[bidder]; !ok {
		return false
	}
	delete(perSwap, bidder)
	if len(perSwap) == 0 {
		delete(b.bids, swapID)
	}
	if idx, ok := b.byBidder[bidder]; ok {
		idx.remove(swapID)
		if idx.len() == 0 {
			delete(b.byBidder, bidder)
		}
	}
	return true
}

// RemoveAllBy drops every bid of bidder and returns the affected swap ids.
func (b *BidBook) RemoveAllBy(bidder common.Address) []uint64 {
	idx, ok := b.byBidder[bidder]
	if !ok {
		return nil
	}
	swapIDs := idx.list()
	for _, id := range swapIDs {
		b.Remove(id, bidder)
	}
	return swapIDs
}

// RemoveSwap drops every bid on swapID and returns the affected bidders.
func (b *BidBook) RemoveSwap(swapID uint64) []common.Address {
	perSwap, ok := b.bids[swapID]
	if !ok {
		return nil
	}
	bidders := make([]common.Address, 0, len(perSwap))
	for bidder := range perSwap {
		bidders = append(bidders, bidder)
	}
	sortAddresses(bidders)
	for _, bidder := range bidders {
		b.Remove(swapID, bidder)
	}
	return bidders
}

// BidderSwaps returns the ids of the swaps bidder currently has bids on.
func (b *BidBook) BidderSwaps(bidder common.Address) []uint64 {
	if idx, ok := b.byBidder[bidder]; ok {
		return idx.list()
	}
	return []uint64{}
}

func (b *BidBook) HasBids(bidder common.Address) bool {
	idx, ok := b.byBidder[bidder]
	return ok && idx.len() > 0
}

// SwapBids returns copies of every bid on swapID, highest amount first.
func (b *BidBook) SwapBids(swapID uint64) []*models.Bid {
	perSwap := b.bids[swapID]
	out := make([]*models.Bid, 0, len(perSwap))
	for _, bid := range perSwap {
		out = append(out, bid.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return bytes.Compare(out[i].Buyer.Bytes(), out[j].Buyer.Bytes()) < 0
	})
	return out
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes()) < 0
	})
}
