// Package node hosts a custody controller: it serializes invocations,
// numbers them in a ledger, persists a snapshot after each one, hands
// outbound releases to a dispatcher, and serves the HTTP API.
package node

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/sharding-experiment/slotvault/config"
	"github.com/sharding-experiment/slotvault/internal/custody"
	"github.com/sharding-experiment/slotvault/internal/network"
	"github.com/sharding-experiment/slotvault/internal/protocol"
)

// maxContinuations caps self-continued withdraw-all rounds per request
const maxContinuations = 1 << 16

// Dispatcher delivers outbound releases without blocking the invocation
type Dispatcher interface {
	Dispatch(out protocol.Outbound) error
}

// Node runs one controller instance
type Node struct {
	mu           sync.Mutex // serializes invocations
	controller   *custody.Controller
	ledger       *Ledger
	store        *StateStore
	outbox       Dispatcher
	autoContinue bool
	self         common.Address
	router       *mux.Router
	logger       log.Logger
	closeOnce    sync.Once
}

// ControllerConfig translates file configuration into controller parameters
func ControllerConfig(cfg *config.Config) (custody.Config, error) {
	if err := cfg.Validate(); err != nil {
		return custody.Config{}, err
	}
	forwardFee, _ := cfg.ForwardFeeAmount()
	releaseValue, _ := cfg.ReleaseValueAmount()
	premium, _ := cfg.PremiumAmount()

	policy, err := custody.NewBidPolicy(cfg.BidPolicy.Kind, cfg.BidPolicy.Factor, premium)
	if err != nil {
		return custody.Config{}, err
	}
	recipient, err := custody.ParseRecipient(cfg.WithdrawRecipient)
	if err != nil {
		return custody.Config{}, err
	}

	return custody.Config{
		Admin:              cfg.AdminAddress(),
		Self:               cfg.SelfAddress(),
		Capacity:           cfg.Capacity,
		BatchLimit:         cfg.BatchLimit,
		MaxOutboundActions: cfg.MaxOutboundActions,
		ForwardFee:         forwardFee,
		ReleaseValue:       releaseValue,
		Policy:             policy,
		WithdrawTo:         recipient,
	}, nil
}

// New builds a node from cfg. When outbox is nil, releases go to the HTTP
// outbox at cfg.OutboxURL, or are kept in memory if no URL is set.
func New(cfg *config.Config, outbox Dispatcher) (*Node, error) {
	ccfg, err := ControllerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoContinue && ccfg.Self == (common.Address{}) {
		return nil, fmt.Errorf("%w: auto_continue requires a self address", config.ErrInvalid)
	}

	controller, err := custody.New(ccfg)
	if err != nil {
		return nil, err
	}
	store, err := NewStateStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	if outbox == nil {
		if cfg.OutboxURL != "" {
			outbox = network.NewHTTPOutbox(cfg.OutboxURL, network.NewHTTPClient(cfg.Network, 10*time.Second))
		} else {
			outbox = NewMemoryOutbox(0)
		}
	}

	n := &Node{
		controller:   controller,
		ledger:       NewLedger(0),
		store:        store,
		outbox:       outbox,
		autoContinue: cfg.AutoContinue,
		self:         ccfg.Self,
		router:       mux.NewRouter(),
		logger:       log.New("component", "node"),
	}

	if err := n.recover(); err != nil {
		store.Close()
		return nil, err
	}
	n.setupRoutes()
	return n, nil
}

// recover restores the last persisted snapshot
func (n *Node) recover() error {
	snap, ok, err := n.store.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	n.controller.Restore(snap.State)
	n.ledger.SetHeight(snap.Height)
	n.logger.Info("Recovered snapshot", "height", snap.Height, "holdings", len(snap.State.Holdings),
		"profit", protocol.FormatUnits(snap.State.Profit))
	return nil
}

// Submit processes env as one invocation. With auto-continue enabled, an
// unfinished withdraw-all is followed by self-addressed invocations until
// the registry is empty. The returned receipt is the one for env.
func (n *Node) Submit(env protocol.Envelope) (*protocol.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	receipt, err := n.invoke(env)
	if receipt == nil || !n.autoContinue {
		return receipt, err
	}

	next := receipt
	for i := 0; next.Continue && i < maxContinuations; i++ {
		cont, cerr := n.invoke(protocol.Envelope{
			Sender:  n.self,
			Message: protocol.AdminWithdrawAll{QueryID: uint64(i + 1)},
		})
		if cerr != nil || cont == nil {
			n.logger.Error("Withdraw-all continuation failed", "after", next.ID, "err", cerr)
			break
		}
		next = cont
	}
	return receipt, err
}

func (n *Node) invoke(env protocol.Envelope) (*protocol.Receipt, error) {
	receipt, err := n.controller.Handle(env)
	if receipt == nil {
		return nil, err
	}

	height := n.ledger.Append(receipt)
	if serr := n.store.Save(Snapshot{Height: height, State: n.controller.Snapshot()}); serr != nil {
		n.logger.Error("Failed to persist snapshot", "height", height, "err", serr)
	}
	if derr := n.outbox.Dispatch(receipt.Outbound()); derr != nil {
		n.logger.Warn("Failed to dispatch outbound", "invocation", receipt.ID, "err", derr)
	}

	n.logger.Debug("Invocation processed", "height", height, "id", receipt.ID, "kind", receipt.Kind,
		"outcome", receipt.Outcome, "txs", receipt.Transactions())
	return receipt, err
}

// Controller exposes the hosted controller for read-only queries
func (n *Node) Controller() *custody.Controller {
	return n.controller
}

// Ledger returns the invocation ledger
func (n *Node) Ledger() *Ledger {
	return n.ledger
}

// Close releases the store and the outbox. Safe to call more than once.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if closer, ok := n.outbox.(io.Closer); ok {
			err = closer.Close()
		}
		err = errors.Join(err, n.store.Close())
	})
	return err
}

// MemoryOutbox keeps dispatched outbound messages in memory
type MemoryOutbox struct {
	mu        sync.Mutex
	sent      []protocol.Outbound
	retention int
}

// NewMemoryOutbox keeps at most retention invocations (1024 when <= 0)
func NewMemoryOutbox(retention int) *MemoryOutbox {
	if retention <= 0 {
		retention = 1024
	}
	return &MemoryOutbox{retention: retention}
}

func (m *MemoryOutbox) Dispatch(out protocol.Outbound) error {
	if out.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, out)
	if len(m.sent) > m.retention {
		m.sent = m.sent[len(m.sent)-m.retention:]
	}
	return nil
}

// Releases returns every retained release in dispatch order
func (m *MemoryOutbox) Releases() []protocol.Release {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Release
	for _, o := range m.sent {
		for _, rel := range o.Releases {
			out = append(out, rel.Copy())
		}
	}
	return out
}

// FeeTransfers returns every retained fee transfer in dispatch order
func (m *MemoryOutbox) FeeTransfers() []protocol.FeeTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.FeeTransfer
	for _, o := range m.sent {
		if o.FeeTransfer != nil {
			out = append(out, *o.FeeTransfer)
		}
	}
	return out
}
