// Package synchronizer keeps a cart session in step with writes made to the same
// durable key by other execution contexts. Reconciliation is last-writer-wins:
// every well-formed external value replaces local state wholesale.
package synchronizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/metrics"
	"github.com/fjod/pharmacy-cart/internal/persistence"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

// ApplyFunc receives the replacement contents of the cart.
type ApplyFunc func(ctx context.Context, items []domain.CartLineItem)

type Synchronizer struct {
	watcher storage.Watcher
	key     string
	apply   ApplyFunc
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

func New(watcher storage.Watcher, key string, apply ApplyFunc, logg *logger.Logger, m *metrics.Metrics) *Synchronizer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Synchronizer{
		watcher: watcher,
		key:     key,
		apply:   apply,
		logger:  logg,
		metrics: m,
	}
}

// Start subscribes to the key and returns once the subscription is established.
// Changes are applied on a background goroutine until Stop is called or ctx is done.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	changes, err := s.watcher.Watch(watchCtx, s.key)
	if err != nil {
		cancel()
		return fmt.Errorf("watch %s failed: %w", s.key, err)
	}

	s.running = true
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	go s.run(s.logger.WithField(watchCtx, "cart_key", s.key), changes, s.doneCh)
	return nil
}

// Stop ends the subscription and waits for the event loop to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.doneCh
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Synchronizer) run(ctx context.Context, changes <-chan storage.Change, done chan struct{}) {
	defer close(done)
	s.logger.Debug(ctx, "synchronizer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(ctx, "synchronizer stopped")
			return
		case change, ok := <-changes:
			if !ok {
				s.logger.Debug(ctx, "change feed closed")
				return
			}
			s.handle(ctx, change)
		}
	}
}

func (s *Synchronizer) handle(ctx context.Context, change storage.Change) {
	if change.Deleted {
		s.metrics.ObserveSync(metrics.SyncApplied)
		s.apply(ctx, []domain.CartLineItem{})
		return
	}

	items, dropped, err := persistence.Decode(change.New)
	if err != nil {
		s.metrics.ObserveSync(metrics.SyncIgnored)
		s.logger.Warn(ctx, "ignoring unreadable external cart change", err)
		return
	}
	if dropped > 0 {
		s.metrics.ObserveDropped(dropped)
		s.logger.Warn(s.logger.WithField(ctx, "dropped", dropped), "ignored malformed entries in external cart change", nil)
	}

	s.metrics.ObserveSync(metrics.SyncApplied)
	s.apply(ctx, items)
}
