package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BookkeepingTransactions is the fixed per-invocation overhead: the caller's
// outbound transaction plus the controller's own.
const BookkeepingTransactions = 2

// Outcome summarises what an invocation did
type Outcome string

const (
	OutcomeAdmitted  Outcome = "admitted"  // deposit inserted without eviction
	OutcomeReplaced  Outcome = "replaced"  // deposit inserted after evicting the lowest bid
	OutcomeRejected  Outcome = "rejected"  // deposit or admin call refused and bounced
	OutcomeWithdrawn Outcome = "withdrawn" // fees or holdings released
	OutcomeRecovered Outcome = "recovered" // bounce accepted
	OutcomeIgnored   Outcome = "ignored"   // bounce for an unknown release
)

// Receipt is the result of processing one envelope
type Receipt struct {
	ID          string         `json:"id"`
	Height      uint64         `json:"height"`
	Kind        MessageKind    `json:"kind"`
	Sender      common.Address `json:"sender"`
	Outcome     Outcome        `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	Slot        *int           `json:"slot,omitempty"` // slot of an admitted deposit
	Releases    []Release      `json:"releases,omitempty"`
	FeeTransfer *FeeTransfer   `json:"fee_transfer,omitempty"`
	Remaining   int            `json:"remaining"` // holdings left after the invocation
	Continue    bool           `json:"continue,omitempty"`
	Profit      *uint256.Int   `json:"profit"` // accumulator after the invocation
}

// Transactions returns the number of transactions the invocation produces
func (r *Receipt) Transactions() int {
	n := BookkeepingTransactions + len(r.Releases)
	if r.FeeTransfer != nil {
		n++
	}
	return n
}

// Outbound extracts what must be delivered for this receipt
func (r *Receipt) Outbound() Outbound {
	out := Outbound{InvocationID: r.ID, FeeTransfer: r.FeeTransfer}
	for _, rel := range r.Releases {
		out.Releases = append(out.Releases, rel.Copy())
	}
	return out
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}
	result := *r
	if r.Slot != nil {
		slot := *r.Slot
		result.Slot = &slot
	}
	if r.Releases != nil {
		result.Releases = make([]Release, len(r.Releases))
		for i, rel := range r.Releases {
			result.Releases[i] = rel.Copy()
		}
	}
	if r.FeeTransfer != nil {
		ft := *r.FeeTransfer
		if ft.Amount != nil {
			ft.Amount = new(uint256.Int).Set(ft.Amount)
		}
		result.FeeTransfer = &ft
	}
	if r.Profit != nil {
		result.Profit = new(uint256.Int).Set(r.Profit)
	}
	return &result
}
