package node

import (
	"sync"

	"github.com/sharding-experiment/slotvault/internal/protocol"
)

// DefaultLedgerRetention is how many receipts the ledger keeps in memory
const DefaultLedgerRetention = 4096

// Ledger numbers processed invocations and keeps their receipts
type Ledger struct {
	mu        sync.RWMutex
	height    uint64
	receipts  map[string]*protocol.Receipt
	order     []string
	retention int
}

func NewLedger(retention int) *Ledger {
	if retention <= 0 {
		retention = DefaultLedgerRetention
	}
	return &Ledger{
		receipts:  make(map[string]*protocol.Receipt),
		retention: retention,
	}
}

// Append assigns the next height to r and stores a copy
func (l *Ledger) Append(r *protocol.Receipt) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.height++
	r.Height = l.height
	if _, exists := l.receipts[r.ID]; !exists {
		l.order = append(l.order, r.ID)
	}
	// Store a copy to avoid aliasing caller's data
	l.receipts[r.ID] = r.DeepCopy()

	for len(l.order) > l.retention {
		delete(l.receipts, l.order[0])
		l.order = l.order[1:]
	}
	return l.height
}

// Get returns a copy of the receipt for id
func (l *Ledger) Get(id string) *protocol.Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.receipts[id].DeepCopy()
}

// Height returns the height of the last processed invocation
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// SetHeight sets the height after recovery
func (l *Ledger) SetHeight(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height = h
}
