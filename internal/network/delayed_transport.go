package network

import (
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// DelayConfig specifies latency simulation parameters
type DelayConfig struct {
	Enabled  bool          `json:"enabled"`
	MinDelay time.Duration `json:"min_delay"` // e.g., 10ms
	MaxDelay time.Duration `json:"max_delay"` // e.g., 100ms
}

// DelayedRoundTripper wraps http.RoundTripper with configurable delays.
// Safe for concurrent use by the outbox workers.
type DelayedRoundTripper struct {
	base   http.RoundTripper
	config DelayConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewDelayedRoundTripper creates a new DelayedRoundTripper.
// If base is nil, http.DefaultTransport is used.
func NewDelayedRoundTripper(base http.RoundTripper, config DelayConfig) *DelayedRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DelayedRoundTripper{
		base:   base,
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RoundTrip delays the request, giving up early if its context ends
func (d *DelayedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if d.config.Enabled {
		timer := time.NewTimer(d.calculateDelay())
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}
	}
	return d.base.RoundTrip(req)
}

// calculateDelay returns a random delay within the configured range
func (d *DelayedRoundTripper) calculateDelay() time.Duration {
	min := d.config.MinDelay
	max := d.config.MaxDelay

	if max > min {
		d.mu.Lock()
		jitter := d.rng.Int63n(int64(max - min))
		d.mu.Unlock()
		return min + time.Duration(jitter)
	}
	return min
}
