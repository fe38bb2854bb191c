package node

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sharding-experiment/slotvault/internal/custody"
)

const (
	// StateStoreCacheMB is the LevelDB block cache size in MB.
	// The store holds a single small snapshot.
	StateStoreCacheMB = 16

	// StateStoreHandles is the maximum number of open file handles for LevelDB
	StateStoreHandles = 16
)

var snapshotKey = []byte("custody:snapshot")

// Snapshot is the persisted controller state at a ledger height
type Snapshot struct {
	Height uint64        `json:"height"`
	State  custody.State `json:"state"`
}

// StateStore persists controller snapshots.
// Each Save replaces the previous snapshot in a single write.
type StateStore struct {
	db     ethdb.Database
	mu     sync.RWMutex
	closed bool
	logger log.Logger
}

// NewStateStore opens a LevelDB store at path, or an in-memory store when path is empty
func NewStateStore(path string) (*StateStore, error) {
	logger := log.New("component", "store")
	var db ethdb.Database

	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", path, err)
		}
		ldb, err := leveldb.New(path, StateStoreCacheMB, StateStoreHandles, "", false)
		if err != nil {
			return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
		}
		db = rawdb.NewDatabase(ldb)
		logger.Info("Opened persistent storage", "path", path)
	} else {
		db = rawdb.NewMemoryDatabase()
		logger.Info("Using in-memory storage (no path specified)")
	}

	return &StateStore{db: db, logger: logger}, nil
}

// Save writes snap, replacing the previous snapshot
func (s *StateStore) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store closed")
	}
	if err := s.db.Put(snapshotKey, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or false when none was saved
func (s *StateStore) Load() (*Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("state store closed")
	}

	has, err := s.db.Has(snapshotKey)
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	if !has {
		return nil, false, nil
	}
	data, err := s.db.Get(snapshotKey)
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, true, nil
}

// Close closes the underlying database. Safe to call more than once.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
