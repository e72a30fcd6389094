package services

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Whitelist is the set of settlement currencies swaps may be priced in. The
// collateral asset and the zero address are never members.
type Whitelist struct {
	collateral common.Address
	members    map[common.Address]struct{}
}

func NewWhitelist(collateral common.Address, currencies ...common.Address) *Whitelist {
	w := &Whitelist{collateral: collateral, members: make(map[common.Address]struct{})}
	for _, c := range currencies {
		w.Add(c)
	}
	return w
}

// Add reports whether currency was admitted.
func (w *Whitelist) Add(currency common.Address) bool {
	if currency == w.collateral || currency == (common.Address{}) {
		return false
	}
	w.members[currency] = struct{}{}
	return true
}

func (w *Whitelist) Remove(currency common.Address) {
	delete(w.members, currency)
}

func (w *Whitelist) IsAllowed(currency common.Address) bool {
	_, ok := w.members[currency]
	return ok
}

func (w *Whitelist) List() []common.Address {
	out := make([]common.Address, 0, len(w.members))
	for c := range w.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0 })
	return out
}
