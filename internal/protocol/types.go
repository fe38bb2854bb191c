package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// MessageKind names an inbound message on the wire
type MessageKind string

const (
	KindDeposit     MessageKind = "deposit"
	KindWithdrawFee MessageKind = "withdraw_fees"
	KindWithdrawAll MessageKind = "withdraw_all"
	KindBounce      MessageKind = "bounce"
)

// Message is the closed set of inbound messages a custody controller accepts.
// Only types declared in this package implement it.
type Message interface {
	Kind() MessageKind
	sealed()
}

// DepositNotification announces that the envelope sender (an asset contract)
// now belongs to the controller. Custodian is the previous owner.
type DepositNotification struct {
	QueryID   uint64         `json:"query_id"`
	Custodian common.Address `json:"custodian"`
	Payload   hexutil.Bytes  `json:"payload,omitempty"`
}

// AdminFeeWithdrawal drains the profit accumulator to the administrator
type AdminFeeWithdrawal struct {
	QueryID uint64 `json:"query_id"`
}

// AdminWithdrawAll releases held assets in bounded batches
type AdminWithdrawAll struct {
	QueryID uint64 `json:"query_id"`
}

// BounceNotification reports that a previously sent release could not be delivered
type BounceNotification struct {
	QueryID uint64  `json:"query_id"`
	Release Release `json:"release"`
}

func (DepositNotification) Kind() MessageKind { return KindDeposit }
func (AdminFeeWithdrawal) Kind() MessageKind  { return KindWithdrawFee }
func (AdminWithdrawAll) Kind() MessageKind    { return KindWithdrawAll }
func (BounceNotification) Kind() MessageKind  { return KindBounce }

func (DepositNotification) sealed() {}
func (AdminFeeWithdrawal) sealed()  {}
func (AdminWithdrawAll) sealed()    {}
func (BounceNotification) sealed()  {}

// Envelope wraps an inbound message with the identity of its sender and the
// value attached to it.
type Envelope struct {
	ID      string         `json:"id,omitempty"`
	Sender  common.Address `json:"sender"`
	Value   *uint256.Int   `json:"value"`
	Message Message        `json:"-"`
}

type wireEnvelope struct {
	ID     string          `json:"id,omitempty"`
	Sender common.Address  `json:"sender"`
	Value  *uint256.Int    `json:"value"`
	Kind   MessageKind     `json:"kind"`
	Body   json.RawMessage `json:"body"`
}

// AttachedValue returns the envelope value, treating nil as zero
func (e *Envelope) AttachedValue() *uint256.Int {
	if e.Value == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(e.Value)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Message == nil {
		return nil, fmt.Errorf("envelope %q has no message", e.ID)
	}
	body, err := json.Marshal(e.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		ID:     e.ID,
		Sender: e.Sender,
		Value:  e.Value,
		Kind:   e.Message.Kind(),
		Body:   body,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	msg, err := DecodeMessage(w.Kind, w.Body)
	if err != nil {
		return err
	}
	e.ID = w.ID
	e.Sender = w.Sender
	e.Value = w.Value
	e.Message = msg
	return nil
}

// DecodeMessage decodes a message body of the given kind
func DecodeMessage(kind MessageKind, body json.RawMessage) (Message, error) {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	switch kind {
	case KindDeposit:
		var m DepositNotification
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return m, nil
	case KindWithdrawFee:
		var m AdminFeeWithdrawal
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return m, nil
	case KindWithdrawAll:
		var m AdminWithdrawAll
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return m, nil
	case KindBounce:
		var m BounceNotification
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}

// ReleaseReason explains why an outbound release was produced
type ReleaseReason string

const (
	ReasonRejected    ReleaseReason = "rejected"     // deposit not admitted, returned to sender
	ReasonEvicted     ReleaseReason = "evicted"      // displaced by a higher bid
	ReasonWithdrawAll ReleaseReason = "withdraw_all" // administrative sweep
	ReasonBounced     ReleaseReason = "bounced"      // value returned from an unauthorized call
)

// Release is an outbound notification returning an asset and/or value.
// A zero Asset means the release carries value only.
type Release struct {
	ID        string         `json:"id"`
	Asset     common.Address `json:"asset"`
	Recipient common.Address `json:"recipient"`
	Value     *uint256.Int   `json:"value"`
	Payload   hexutil.Bytes  `json:"payload,omitempty"`
	Reason    ReleaseReason  `json:"reason"`
}

// CarriesAsset reports whether the release transfers an asset
func (r *Release) CarriesAsset() bool {
	return r.Asset != (common.Address{})
}

// Copy returns a deep copy of the release
func (r Release) Copy() Release {
	out := r
	if r.Value != nil {
		out.Value = new(uint256.Int).Set(r.Value)
	}
	if r.Payload != nil {
		out.Payload = append(hexutil.Bytes(nil), r.Payload...)
	}
	return out
}

// FeeTransfer moves the drained profit accumulator to the administrator
type FeeTransfer struct {
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

// Outbound groups everything a single invocation sends out
type Outbound struct {
	InvocationID string       `json:"invocation_id"`
	Releases     []Release    `json:"releases,omitempty"`
	FeeTransfer  *FeeTransfer `json:"fee_transfer,omitempty"`
}

// Empty reports whether there is nothing to deliver
func (o *Outbound) Empty() bool {
	return len(o.Releases) == 0 && o.FeeTransfer == nil
}
