package repositories

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/swap-desk/backend/internal/models"
)

var (
	ErrSwapNotFound      = errors.New("swap not found")
	ErrInvalidTransition = errors.New("invalid swap state transition")
)

// SwapRegistry owns every swap ever created plus the derived views: the
// open/completed/canceled buckets and the per-seller and per-buyer indexes.
// Ids are dense and never reused. It is not safe for concurrent use; the swap
// service serializes access.
type SwapRegistry struct {
	swaps []*models.Swap

	open      *idSet
	completed *idSet
	canceled  *idSet

	bySeller     map[common.Address]*idSet
	byBuyer      map[common.Address]*idSet // zero address holds public swaps
	openBySeller map[common.Address]uint64
}

func NewSwapRegistry() *SwapRegistry {
	return &SwapRegistry{
		open:         newIDSet(),
		completed:    newIDSet(),
		canceled:     newIDSet(),
		bySeller:     make(map[common.Address]*idSet),
		byBuyer:      make(map[common.Address]*idSet),
		openBySeller: make(map[common.Address]uint64),
	}
}

// NextID is the id the next inserted swap will get.
func (r *SwapRegistry) NextID() uint64 {
	return uint64(len(r.swaps))
}

func (r *SwapRegistry) Exists(id uint64) bool {
	return id < uint64(len(r.swaps))
}

// Get returns a copy of the swap.
func (r *SwapRegistry) Get(id uint64) (*models.Swap, bool) {
	if !r.Exists(id) {
		return nil, false
	}
	return r.swaps[id].Clone(), true
}

// OpenSwapOf returns the id of the seller's swap in Created state, if any.
func (r *SwapRegistry) OpenSwapOf(seller common.Address) (uint64, bool) {
	id, ok := r.openBySeller[seller]
	return id, ok
}

// Insert assigns the next id to s and indexes it as open.
func (r *SwapRegistry) Insert(s *models.Swap) *models.Swap {
	stored := s.Clone()
	stored.ID = r.NextID()
	stored.State = models.SwapStateCreated
	r.swaps = append(r.swaps, stored)

	r.open.add(stored.ID)
	indexOf(r.bySeller, stored.Seller).add(stored.ID)
	indexOf(r.byBuyer, stored.Buyer).add(stored.ID)
	r.openBySeller[stored.Seller] = stored.ID
	return stored.Clone()
}

// Reissue overwrites the ask and designated buyer of an open swap, moving it
// between buyer index entries when the designated buyer changes.
func (r *SwapRegistry) Reissue(id uint64, ask models.Price, buyer common.Address, now time.Time) error {
	s, err := r.openSwap(id)
	if err != nil {
		return err
	}
	if s.Buyer != buyer {
		r.removeFromIndex(r.byBuyer, s.Buyer, id)
		indexOf(r.byBuyer, buyer).add(id)
		s.Buyer = buyer
	}
	s.Ask = clonePrice(ask)
	s.UpdatedAt = now
	return nil
}

// UpdateAsk overwrites the ask of an open swap. Indexes are untouched.
func (r *SwapRegistry) UpdateAsk(id uint64, ask models.Price, now time.Time) error {
	s, err := r.openSwap(id)
	if err != nil {
		return err
	}
	s.Ask = clonePrice(ask)
	s.UpdatedAt = now
	return nil
}

// MarkSold moves an open swap to the completed bucket with its sale snapshot.
func (r *SwapRegistry) MarkSold(id uint64, sale models.Sale, now time.Time) error {
	s, err := r.transition(id, models.SwapStateSold)
	if err != nil {
		return err
	}
	s.Sale = sale
	s.Sale.Amount = cloneAmount(sale.Amount)
	s.Sale.CollateralAmount = cloneAmount(sale.CollateralAmount)
	s.UpdatedAt = now
	r.completed.add(id)
	return nil
}

// MarkCanceled moves an open swap to the canceled bucket.
func (r *SwapRegistry) MarkCanceled(id uint64, now time.Time) error {
	s, err := r.transition(id, models.SwapStateCanceled)
	if err != nil {
		return err
	}
	s.UpdatedAt = now
	r.canceled.add(id)
	return nil
}

// Restore appends a persisted swap. Swaps must be restored in id order.
func (r *SwapRegistry) Restore(s *models.Swap) error {
	if s.ID != r.NextID() {
		return fmt.Errorf("restore swap %d: expected id %d", s.ID, r.NextID())
	}
	stored := s.Clone()
	r.swaps = append(r.swaps, stored)
	indexOf(r.bySeller, stored.Seller).add(stored.ID)
	indexOf(r.byBuyer, stored.Buyer).add(stored.ID)

	switch stored.State {
	case models.SwapStateCreated:
		r.open.add(stored.ID)
		r.openBySeller[stored.Seller] = stored.ID
	case models.SwapStateSold:
		r.completed.add(stored.ID)
	case models.SwapStateCanceled:
		r.canceled.add(stored.ID)
	default:
		return fmt.Errorf("restore swap %d: unknown state %d", s.ID, s.State)
	}
	return nil
}

func (r *SwapRegistry) Open() []uint64      { return r.open.list() }
func (r *SwapRegistry) Completed() []uint64 { return r.completed.list() }
func (r *SwapRegistry) Canceled() []uint64  { return r.canceled.list() }

func (r *SwapRegistry) SellerSwaps(seller common.Address) []uint64 {
	if s, ok := r.bySeller[seller]; ok {
		return s.list()
	}
	return []uint64{}
}

func (r *SwapRegistry) BuyerSwaps(buyer common.Address) []uint64 {
	if s, ok := r.byBuyer[buyer]; ok {
		return s.list()
	}
	return []uint64{}
}

// BucketsOf reports which lifecycle buckets contain id. Exactly one should.
func (r *SwapRegistry) BucketsOf(id uint64) []models.SwapState {
	var out []models.SwapState
	if r.open.has(id) {
		out = append(out, models.SwapStateCreated)
	}
	if r.completed.has(id) {
		out = append(out, models.SwapStateSold)
	}
	if r.canceled.has(id) {
		out = append(out, models.SwapStateCanceled)
	}
	return out
}

func (r *SwapRegistry) openSwap(id uint64) (*models.Swap, error) {
	if !r.Exists(id) {
		return nil, ErrSwapNotFound
	}
	s := r.swaps[id]
	if !s.IsOpen() {
		return nil, fmt.Errorf("%w: swap %d is %s", ErrInvalidTransition, id, s.State)
	}
	return s, nil
}

func (r *SwapRegistry) transition(id uint64, to models.SwapState) (*models.Swap, error) {
	if !r.Exists(id) {
		return nil, ErrSwapNotFound
	}
	s := r.swaps[id]
	if !models.IsValidSwapTransition(s.State, to) {
		return nil, fmt.Errorf("%w: swap %d from %s to %s", ErrInvalidTransition, id, s.State, to)
	}
	s.State = to
	r.open.remove(id)
	if open, ok := r.openBySeller[s.Seller]; ok && open == id {
		delete(r.openBySeller, s.Seller)
	}
	return s, nil
}

func (r *SwapRegistry) removeFromIndex(index map[common.Address]*idSet, key common.Address, id uint64) {
	s, ok := index[key]
	if !ok {
		return
	}
	s.remove(id)
	if s.len() == 0 {
		delete(index, key)
	}
}

func indexOf(index map[common.Address]*idSet, key common.Address) *idSet {
	s, ok := index[key]
	if !ok {
		s = newIDSet()
		index[key] = s
	}
	return s
}

func clonePrice(p models.Price) models.Price {
	return models.Price{Amount: cloneAmount(p.Amount), Currency: p.Currency}
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
