package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOutboxQueue is the number of invocations that may wait for delivery
	DefaultOutboxQueue = 256

	// DefaultOutboxParallelism bounds concurrent deliveries per invocation
	DefaultOutboxParallelism = 8

	deliveryTimeout = 5 * time.Second
)

// ErrOutboxClosed is returned by Dispatch after Close
var ErrOutboxClosed = errors.New("outbox closed")

// HTTPOutbox delivers outbound releases and fee transfers to a transport
// endpoint. Dispatch never waits for delivery; a release the transport
// cannot deliver comes back later as a bounce on the node API.
type HTTPOutbox struct {
	baseURL     string
	client      *http.Client
	parallelism int
	queue       chan protocol.Outbound
	wg          sync.WaitGroup
	closeOnce   sync.Once
	mu          sync.RWMutex
	closed      bool
	logger      log.Logger
}

// NewHTTPOutbox starts an outbox posting to baseURL+"/release" and baseURL+"/fee"
func NewHTTPOutbox(baseURL string, client *http.Client) *HTTPOutbox {
	if client == nil {
		client = &http.Client{Timeout: deliveryTimeout}
	}
	o := &HTTPOutbox{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		parallelism: DefaultOutboxParallelism,
		queue:       make(chan protocol.Outbound, DefaultOutboxQueue),
		logger:      log.New("component", "outbox", "url", baseURL),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Dispatch queues out for delivery without waiting
func (o *HTTPOutbox) Dispatch(out protocol.Outbound) error {
	if out.Empty() {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- out:
		return nil
	default:
		return fmt.Errorf("outbox queue full, dropping %d releases of %s", len(out.Releases), out.InvocationID)
	}
}

// Close stops accepting work, flushes what is queued and waits for the worker
func (o *HTTPOutbox) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
		o.wg.Wait()
	})
	return nil
}

func (o *HTTPOutbox) run() {
	defer o.wg.Done()
	for out := range o.queue {
		if err := o.deliver(context.Background(), out); err != nil {
			o.logger.Warn("Delivery failed", "invocation", out.InvocationID, "err", err)
		}
	}
}

// deliver sends every item of one invocation, at most parallelism at a time.
// One failed item does not cancel the others.
func (o *HTTPOutbox) deliver(ctx context.Context, out protocol.Outbound) error {
	var g errgroup.Group
	g.SetLimit(o.parallelism)

	for _, rel := range out.Releases {
		rel := rel // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			if err := o.post(ctx, "/release", rel); err != nil {
				o.logger.Warn("Release not delivered", "release", rel.ID, "asset", rel.Asset, "err", err)
				return err
			}
			return nil
		})
	}
	if out.FeeTransfer != nil {
		ft := *out.FeeTransfer
		g.Go(func() error {
			return o.post(ctx, "/fee", ft)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	o.logger.Debug("Delivered", "invocation", out.InvocationID, "releases", len(out.Releases),
		"fee", out.FeeTransfer != nil)
	return nil
}

func (o *HTTPOutbox) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: transport returned %d", path, resp.StatusCode)
	}
	return nil
}
