// Package custody implements the slot-based custody controller: admission of
// deposited assets into a bounded protected window, bid-driven eviction of the
// lowest holding, the profit accumulator, and batched administrative release.
//
// Every call to Handle is one atomic invocation. Outbound releases are
// returned on the receipt and are never awaited; a failed delivery comes
// back later as a separate BounceNotification.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/sharding-experiment/slotvault/internal/registry"
)

const (
	// DefaultCapacity is the size of the protected window
	DefaultCapacity = 3

	// DefaultBatchLimit is the number of holdings withdraw-all releases per invocation
	DefaultBatchLimit = 250

	// DefaultMaxOutboundActions is the per-invocation outbound budget of the environment
	DefaultMaxOutboundActions = 255

	// continuationActions is the outbound overhead of a withdraw-all batch
	// that must schedule a follow-up invocation.
	continuationActions = 1
)

// Config parameterizes a Controller
type Config struct {
	Admin              common.Address
	Self               common.Address // controller address, authorized to continue withdraw-all
	Capacity           int
	BatchLimit         int
	MaxOutboundActions int
	ForwardFee         *uint256.Int // reserved per eviction refund
	ReleaseValue       *uint256.Int // value attached to each withdraw-all release
	Policy             BidPolicy
	WithdrawTo         Recipient
	SentCacheBytes     int
}

// DefaultConfig returns the reference parameters for admin
func DefaultConfig(admin common.Address) Config {
	return Config{
		Admin:              admin,
		Capacity:           DefaultCapacity,
		BatchLimit:         DefaultBatchLimit,
		MaxOutboundActions: DefaultMaxOutboundActions,
		ForwardFee:         new(uint256.Int),
		ReleaseValue:       new(uint256.Int),
		Policy:             MultiplierPolicy{Factor: DefaultBidFactor},
		WithdrawTo:         RecipientAdmin,
	}
}

// Validate checks that the configuration can be served within the outbound budget
func (c *Config) Validate() error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("%w: admin address is required", ErrInvalidConfig)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("%w: batch limit must be at least 1, got %d", ErrInvalidConfig, c.BatchLimit)
	}
	if c.BatchLimit+continuationActions > c.MaxOutboundActions {
		return fmt.Errorf("%w: batch limit %d plus %d bookkeeping actions exceeds outbound budget %d",
			ErrInvalidConfig, c.BatchLimit, continuationActions, c.MaxOutboundActions)
	}
	if c.Policy == nil {
		return fmt.Errorf("%w: bid policy is required", ErrInvalidConfig)
	}
	return nil
}

// State is the durable part of a Controller
type State struct {
	Holdings []registry.Holding `json:"holdings"`
	Profit   *uint256.Int       `json:"profit"`
	Stranded []protocol.Release `json:"stranded,omitempty"`
}

// Controller owns a holding registry and a profit accumulator
type Controller struct {
	mu       sync.RWMutex
	cfg      Config
	registry *registry.Registry
	profit   *uint256.Int
	stranded []protocol.Release
	sent     *sentReleases
	logger   log.Logger
	newID    func() string
}

// New creates a Controller with an empty registry
func New(cfg Config) (*Controller, error) {
	if cfg.ForwardFee == nil {
		cfg.ForwardFee = new(uint256.Int)
	}
	if cfg.ReleaseValue == nil {
		cfg.ReleaseValue = new(uint256.Int)
	}
	if cfg.WithdrawTo == "" {
		cfg.WithdrawTo = RecipientAdmin
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		registry: registry.New(),
		profit:   new(uint256.Int),
		sent:     newSentReleases(cfg.SentCacheBytes),
		logger:   log.New("component", "custody"),
		newID:    uuid.NewString,
	}, nil
}

// Handle processes one inbound envelope atomically. Rejections are returned
// as errors alongside a complete receipt that carries the bounce.
func (c *Controller) Handle(env protocol.Envelope) (*protocol.Receipt, error) {
	if env.Message == nil {
		return nil, fmt.Errorf("envelope %q has no message", env.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if env.ID == "" {
		env.ID = c.newID()
	}
	receipt := &protocol.Receipt{
		ID:     env.ID,
		Kind:   env.Message.Kind(),
		Sender: env.Sender,
	}

	var err error
	switch msg := env.Message.(type) {
	case protocol.DepositNotification:
		err = c.deposit(&env, msg, receipt)
	case protocol.AdminFeeWithdrawal:
		err = c.withdrawFees(&env, receipt)
	case protocol.AdminWithdrawAll:
		err = c.withdrawAll(&env, receipt)
	case protocol.BounceNotification:
		err = c.bounce(&env, msg, receipt)
	default:
		return nil, fmt.Errorf("unsupported message %T", env.Message)
	}

	receipt.Remaining = c.registry.Count()
	receipt.Profit = new(uint256.Int).Set(c.profit)
	if err != nil {
		receipt.Error = err.Error()
	}
	for _, rel := range receipt.Releases {
		c.sent.remember(rel)
	}
	return receipt, err
}

func (c *Controller) deposit(env *protocol.Envelope, msg protocol.DepositNotification, receipt *protocol.Receipt) error {
	asset := env.Sender
	bid := env.AttachedValue()

	// A holding must name both the asset and its custodian. Without a
	// custodian the refund goes back to the notifying asset.
	if asset == (common.Address{}) || msg.Custodian == (common.Address{}) {
		cause := fmt.Errorf("%w: asset %s custodian %s", ErrInvalidDeposit, asset.Hex(), msg.Custodian.Hex())
		if msg.Custodian == (common.Address{}) {
			msg.Custodian = asset
		}
		return c.reject(receipt, asset, msg, bid, cause)
	}

	if _, held := c.registry.IndexOf(asset); held {
		return c.reject(receipt, asset, msg, bid, fmt.Errorf("%w: %s", ErrAssetHeld, asset.Hex()))
	}

	// Owner deposits and open protected slots are inserted without eviction or profit
	if msg.Custodian == c.cfg.Admin || c.registry.Count() < c.cfg.Capacity {
		slot := c.registry.Insert(asset, msg.Custodian, bid)
		receipt.Outcome = protocol.OutcomeAdmitted
		receipt.Slot = &slot
		c.logger.Info("Deposit admitted", "asset", asset, "custodian", msg.Custodian,
			"slot", slot, "value", protocol.FormatUnits(bid))
		return nil
	}

	victimSlot, ok := c.registry.LowestPriorityIndex(c.cfg.Capacity)
	if !ok {
		return fmt.Errorf("protected window of %d not full with %d holdings", c.cfg.Capacity, c.registry.Count())
	}
	victim, _ := c.registry.Get(victimSlot)

	obligation, overflow := new(uint256.Int).AddOverflow(victim.Value, c.cfg.ForwardFee)
	if overflow || !Clears(c.cfg.Policy, bid, victim.Value) || bid.Lt(obligation) {
		return c.reject(receipt, asset, msg, bid, fmt.Errorf("%w: bid %s against slot %d recorded at %s (%s policy)",
			ErrBidTooLow, protocol.FormatUnits(bid), victimSlot, protocol.FormatUnits(victim.Value), c.cfg.Policy.Name()))
	}

	evicted, err := c.registry.EvictAt(victimSlot)
	if err != nil {
		return err
	}
	margin := new(uint256.Int).Sub(bid, obligation)
	c.profit.Add(c.profit, margin)
	slot := c.registry.Insert(asset, msg.Custodian, bid)

	receipt.Outcome = protocol.OutcomeReplaced
	receipt.Slot = &slot
	receipt.Releases = append(receipt.Releases, protocol.Release{
		ID:        c.newID(),
		Asset:     evicted.Asset,
		Recipient: evicted.Custodian,
		Value:     new(uint256.Int).Set(evicted.Value),
		Reason:    protocol.ReasonEvicted,
	})

	c.logger.Info("Holding replaced", "asset", asset, "evicted", evicted.Asset,
		"victimSlot", victimSlot, "slot", slot, "bid", protocol.FormatUnits(bid),
		"margin", protocol.FormatUnits(margin))
	return nil
}

// reject returns the asset and the full attached value to the depositor
func (c *Controller) reject(receipt *protocol.Receipt, asset common.Address, msg protocol.DepositNotification, value *uint256.Int, cause error) error {
	receipt.Outcome = protocol.OutcomeRejected
	rel := protocol.Release{
		ID:        c.newID(),
		Asset:     asset,
		Recipient: msg.Custodian,
		Value:     new(uint256.Int).Set(value),
		Payload:   msg.Payload,
		Reason:    protocol.ReasonRejected,
	}
	// Nothing to return, or nobody to return it to
	if rel.Recipient != (common.Address{}) && (rel.CarriesAsset() || !value.IsZero()) {
		receipt.Releases = append(receipt.Releases, rel)
	}
	c.logger.Warn("Deposit rejected", "asset", asset, "custodian", msg.Custodian, "err", cause)
	return cause
}

// unauthorized bounces any value attached to a refused admin call
func (c *Controller) unauthorized(env *protocol.Envelope, receipt *protocol.Receipt) error {
	receipt.Outcome = protocol.OutcomeRejected
	if value := env.AttachedValue(); !value.IsZero() {
		receipt.Releases = append(receipt.Releases, protocol.Release{
			ID:        c.newID(),
			Recipient: env.Sender,
			Value:     value,
			Reason:    protocol.ReasonBounced,
		})
	}
	c.logger.Warn("Unauthorized admin call", "kind", env.Message.Kind(), "sender", env.Sender)
	return fmt.Errorf("%w: %s from %s", ErrUnauthorized, env.Message.Kind(), env.Sender.Hex())
}

func (c *Controller) withdrawFees(env *protocol.Envelope, receipt *protocol.Receipt) error {
	if env.Sender != c.cfg.Admin {
		return c.unauthorized(env, receipt)
	}
	amount := new(uint256.Int).Set(c.profit)
	c.profit.Clear()

	receipt.Outcome = protocol.OutcomeWithdrawn
	if !amount.IsZero() {
		receipt.FeeTransfer = &protocol.FeeTransfer{Recipient: c.cfg.Admin, Amount: amount}
	}
	c.logger.Info("Fees withdrawn", "amount", protocol.FormatUnits(amount))
	return nil
}

func (c *Controller) withdrawAll(env *protocol.Envelope, receipt *protocol.Receipt) error {
	self := c.cfg.Self != (common.Address{}) && env.Sender == c.cfg.Self
	if env.Sender != c.cfg.Admin && !self {
		return c.unauthorized(env, receipt)
	}

	drained := 0
	for drained < c.cfg.BatchLimit {
		h, err := c.registry.EvictAt(0)
		if errors.Is(err, registry.ErrNotFound) {
			break
		}
		if err != nil {
			return err
		}
		receipt.Releases = append(receipt.Releases, protocol.Release{
			ID:        c.newID(),
			Asset:     h.Asset,
			Recipient: c.cfg.WithdrawTo.resolve(h, c.cfg.Admin),
			Value:     new(uint256.Int).Set(c.cfg.ReleaseValue),
			Reason:    protocol.ReasonWithdrawAll,
		})
		drained++
	}

	receipt.Outcome = protocol.OutcomeWithdrawn
	receipt.Continue = c.registry.Count() > 0
	c.logger.Info("Withdraw-all batch", "drained", drained, "remaining", c.registry.Count(),
		"continuation", self)
	return nil
}

func (c *Controller) bounce(env *protocol.Envelope, msg protocol.BounceNotification, receipt *protocol.Receipt) error {
	sent, ok := c.sent.lookup(msg.Release.ID)
	source := sent.Recipient
	if sent.CarriesAsset() {
		source = sent.Asset
	}
	if !ok || env.Sender != source {
		receipt.Outcome = protocol.OutcomeIgnored
		c.logger.Debug("Ignoring bounce", "release", msg.Release.ID, "sender", env.Sender)
		return fmt.Errorf("%w: %q from %s", ErrUnknownRelease, msg.Release.ID, env.Sender.Hex())
	}
	c.sent.forget(sent.ID)

	if sent.Value != nil {
		c.profit.Add(c.profit, sent.Value)
	}
	if sent.CarriesAsset() {
		c.stranded = append(c.stranded, sent.Copy())
	}
	receipt.Outcome = protocol.OutcomeRecovered
	c.logger.Info("Release bounced", "release", sent.ID, "asset", sent.Asset,
		"recipient", sent.Recipient, "credited", protocol.FormatUnits(sent.Value))
	return nil
}

// Profit returns the current profit accumulator
func (c *Controller) Profit() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(uint256.Int).Set(c.profit)
}

// Holdings returns held assets in ascending slot order
func (c *Controller) Holdings() []registry.Holding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Values()
}

// Holding returns the holding at slot
func (c *Controller) Holding(slot int) (registry.Holding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.registry.Get(slot)
	if !ok {
		return registry.Holding{}, fmt.Errorf("slot %d: %w", slot, registry.ErrNotFound)
	}
	return h, nil
}

// Count returns the number of held assets
func (c *Controller) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.Count()
}

// Stranded returns assets whose release bounced back
func (c *Controller) Stranded() []protocol.Release {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Release, len(c.stranded))
	for i, rel := range c.stranded {
		out[i] = rel.Copy()
	}
	return out
}

// Config returns the controller configuration
func (c *Controller) Config() Config {
	return c.cfg
}

// Snapshot captures the durable state
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stranded := make([]protocol.Release, len(c.stranded))
	for i, rel := range c.stranded {
		stranded[i] = rel.Copy()
	}
	return State{
		Holdings: c.registry.Values(),
		Profit:   new(uint256.Int).Set(c.profit),
		Stranded: stranded,
	}
}

// Restore replaces the durable state. Outstanding releases are forgotten,
// so bounces for releases sent before the restore are ignored.
func (c *Controller) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Restore(s.Holdings)
	c.profit = new(uint256.Int)
	if s.Profit != nil {
		c.profit.Set(s.Profit)
	}
	c.stranded = nil
	for _, rel := range s.Stranded {
		c.stranded = append(c.stranded, rel.Copy())
	}
	c.sent.reset()
}
