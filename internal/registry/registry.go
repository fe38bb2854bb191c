// Package registry holds the dense, slot-indexed set of custodied assets.
//
// Slots are positions: a holding's slot is its index in enumeration order.
// Evicting a holding shifts every later holding down by one, so the live
// slots are always 0..Count()-1. A holding's slot only changes when an
// earlier holding is removed.
//
// Registry is not safe for concurrent use. Its owner serializes access.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNotFound is returned for a slot that does not hold a live asset
var ErrNotFound = errors.New("holding not found")

// Holding is one custodied asset plus its admission metadata
type Holding struct {
	Slot      int            `json:"slot"`
	Asset     common.Address `json:"asset"`
	Custodian common.Address `json:"custodian"`
	Value     *uint256.Int   `json:"value"` // attached value when accepted
}

// Copy returns a deep copy of the holding
func (h Holding) Copy() Holding {
	out := h
	if h.Value != nil {
		out.Value = new(uint256.Int).Set(h.Value)
	} else {
		out.Value = new(uint256.Int)
	}
	return out
}

// Registry is an ordered collection of holdings addressed by dense slot index
type Registry struct {
	holdings []Holding
}

func New() *Registry {
	return &Registry{}
}

// Insert appends a holding at the next slot and returns that slot.
// Admission policy is the caller's responsibility.
func (r *Registry) Insert(asset, custodian common.Address, value *uint256.Int) int {
	slot := len(r.holdings)
	v := new(uint256.Int)
	if value != nil {
		v.Set(value)
	}
	r.holdings = append(r.holdings, Holding{
		Slot:      slot,
		Asset:     asset,
		Custodian: custodian,
		Value:     v,
	})
	return slot
}

// EvictAt removes the holding at slot and relabels every later holding down by one
func (r *Registry) EvictAt(slot int) (Holding, error) {
	if slot < 0 || slot >= len(r.holdings) {
		return Holding{}, fmt.Errorf("evict slot %d of %d: %w", slot, len(r.holdings), ErrNotFound)
	}
	evicted := r.holdings[slot]

	copy(r.holdings[slot:], r.holdings[slot+1:])
	r.holdings[len(r.holdings)-1] = Holding{}
	r.holdings = r.holdings[:len(r.holdings)-1]
	for i := slot; i < len(r.holdings); i++ {
		r.holdings[i].Slot = i
	}
	return evicted, nil
}

// LowestPriorityIndex returns the slot with the smallest recorded value among
// the first window holdings. Ties go to the lower slot. It reports false when
// fewer than window holdings are live, meaning a protected slot is still open.
func (r *Registry) LowestPriorityIndex(window int) (int, bool) {
	if window <= 0 || len(r.holdings) < window {
		return 0, false
	}
	lowest := 0
	for i := 1; i < window; i++ {
		if r.holdings[i].Value.Lt(r.holdings[lowest].Value) {
			lowest = i
		}
	}
	return lowest, true
}

// Count returns the number of live holdings
func (r *Registry) Count() int {
	return len(r.holdings)
}

// Get returns a copy of the holding at slot
func (r *Registry) Get(slot int) (Holding, bool) {
	if slot < 0 || slot >= len(r.holdings) {
		return Holding{}, false
	}
	return r.holdings[slot].Copy(), true
}

// IndexOf returns the slot currently holding asset
func (r *Registry) IndexOf(asset common.Address) (int, bool) {
	for i := range r.holdings {
		if r.holdings[i].Asset == asset {
			return i, true
		}
	}
	return 0, false
}

// Values returns a fresh snapshot of all holdings in ascending slot order
func (r *Registry) Values() []Holding {
	out := make([]Holding, len(r.holdings))
	for i, h := range r.holdings {
		out[i] = h.Copy()
	}
	return out
}

// Restore replaces the contents with holdings, relabelling slots densely in the given order
func (r *Registry) Restore(holdings []Holding) {
	r.holdings = make([]Holding, len(holdings))
	for i, h := range holdings {
		h = h.Copy()
		h.Slot = i
		r.holdings[i] = h
	}
}
