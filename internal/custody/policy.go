package custody

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/slotvault/internal/registry"
)

// Policy names accepted by NewBidPolicy
const (
	PolicyMultiplier = "multiplier"
	PolicyAdditive   = "additive"
)

// DefaultBidFactor makes a bid of ten times the victim's value the threshold
// (0.2 held: 2.0 loses, 2.1 wins).
const DefaultBidFactor = 10

// BidPolicy decides how much a third-party bid must exceed to displace a holding
type BidPolicy interface {
	Name() string
	// Threshold returns the value a bid must strictly exceed to evict a
	// holding recorded at recorded. Overflow saturates at the maximum.
	Threshold(recorded *uint256.Int) *uint256.Int
}

// Clears reports whether bid displaces a holding recorded at recorded
func Clears(p BidPolicy, bid, recorded *uint256.Int) bool {
	return bid.Gt(p.Threshold(recorded))
}

// MultiplierPolicy requires bid > recorded * Factor
type MultiplierPolicy struct {
	Factor uint64
}

func (p MultiplierPolicy) Name() string { return PolicyMultiplier }

func (p MultiplierPolicy) Threshold(recorded *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).MulOverflow(recorded, uint256.NewInt(p.Factor))
	if overflow {
		return maxAmount()
	}
	return out
}

// AdditivePolicy requires bid > recorded + Premium
type AdditivePolicy struct {
	Premium *uint256.Int
}

func (p AdditivePolicy) Name() string { return PolicyAdditive }

func (p AdditivePolicy) Threshold(recorded *uint256.Int) *uint256.Int {
	premium := p.Premium
	if premium == nil {
		premium = new(uint256.Int)
	}
	out, overflow := new(uint256.Int).AddOverflow(recorded, premium)
	if overflow {
		return maxAmount()
	}
	return out
}

// NewBidPolicy builds a policy by name. factor is used by multiplier, premium by additive.
func NewBidPolicy(kind string, factor uint64, premium *uint256.Int) (BidPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", PolicyMultiplier:
		if factor == 0 {
			factor = DefaultBidFactor
		}
		return MultiplierPolicy{Factor: factor}, nil
	case PolicyAdditive:
		if premium == nil {
			return nil, fmt.Errorf("%w: additive policy needs a premium", ErrInvalidConfig)
		}
		return AdditivePolicy{Premium: new(uint256.Int).Set(premium)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown bid policy %q", ErrInvalidConfig, kind)
	}
}

func maxAmount() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// Recipient selects who receives assets released by withdraw-all
type Recipient string

const (
	RecipientAdmin     Recipient = "admin"
	RecipientCustodian Recipient = "custodian"
)

// ParseRecipient accepts "admin" (default) or "custodian"
func ParseRecipient(s string) (Recipient, error) {
	switch Recipient(strings.ToLower(strings.TrimSpace(s))) {
	case "", RecipientAdmin:
		return RecipientAdmin, nil
	case RecipientCustodian:
		return RecipientCustodian, nil
	default:
		return "", fmt.Errorf("%w: unknown withdraw recipient %q", ErrInvalidConfig, s)
	}
}

func (r Recipient) resolve(h registry.Holding, admin common.Address) common.Address {
	if r == RecipientCustodian {
		return h.Custodian
	}
	return admin
}

