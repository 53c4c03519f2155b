// Package service owns live cart sessions: the in-memory state of one cart,
// its durable record, and the subscription that keeps it in step with other
// contexts writing the same record.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/metrics"
	"github.com/fjod/pharmacy-cart/internal/persistence"
	"github.com/fjod/pharmacy-cart/internal/reducer"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/internal/synchronizer"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

var (
	ErrSessionClosed = errors.New("cart session closed")
	// ErrLoadFailed is returned by Mount when the store could not be read.
	// The session is still ready, holding an empty cart in memory only.
	ErrLoadFailed = errors.New("cart load failed")
)

const defaultSaveTimeout = 5 * time.Second

type SessionOptions struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// Session is the state of one cart. All dispatches are serialized, so actions
// apply in call order. Writes to the durable record are debounced and carry the
// state as it is when the timer fires.
type Session struct {
	store     storage.Store
	adapter   *persistence.Adapter
	debouncer *persistence.Debouncer
	logger    *logger.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	mu     sync.Mutex
	state  domain.CartState
	closed bool
	syncer *synchronizer.Synchronizer

	mountOnce sync.Once
	mountErr  error
	saveMu    sync.Mutex
}

func NewSession(store storage.Store, key string, opts SessionOptions) *Session {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := opts.SaveTimeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	return &Session{
		store:     store,
		adapter:   persistence.NewAdapter(store, key, logg, opts.Metrics),
		debouncer: persistence.NewDebouncer(opts.Debounce),
		logger:    logg,
		metrics:   opts.Metrics,
		timeout:   timeout,
		state:     domain.CartState{Items: []domain.CartLineItem{}},
	}
}

func (s *Session) Key() string {
	return s.adapter.Key()
}

// Mount loads the durable record, marks the session ready and subscribes to
// external changes when the store offers a change feed. Only the first call
// does any work; later calls return its result. An absent or unreadable record
// yields an empty cart. A failed read, including one caused by ctx ending,
// still leaves the session ready but returns ErrLoadFailed, so callers that
// share sessions can discard it instead of letting it overwrite the record.
func (s *Session) Mount(ctx context.Context) error {
	s.mountOnce.Do(func() {
		s.mountErr = s.mount(ctx)
	})
	return s.mountErr
}

func (s *Session) mount(ctx context.Context) error {
	ctx = s.logger.WithField(ctx, "cart_key", s.Key())

	items, loadErr := s.adapter.Read(ctx)
	if loadErr != nil {
		loadErr = fmt.Errorf("%w: %w", ErrLoadFailed, loadErr)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = reducer.Reduce(s.state, reducer.Initialize{Items: items})
	s.metrics.ObserveAction(reducer.Initialize{}.Name())
	s.mu.Unlock()

	watcher, ok := s.store.(storage.Watcher)
	if !ok {
		s.logger.Debug(ctx, "store has no change feed, running without synchronizer")
		return loadErr
	}

	syncer := synchronizer.New(watcher, s.Key(), s.applyExternal, s.logger, s.metrics)
	if err := syncer.Start(ctx); err != nil {
		if errors.Is(err, storage.ErrWatchUnsupported) {
			s.logger.Debug(ctx, "store has no change feed, running without synchronizer")
		} else {
			s.logger.Warn(ctx, "failed to subscribe to cart changes", err)
		}
		return loadErr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		syncer.Stop()
		return ErrSessionClosed
	}
	s.syncer = syncer
	s.mu.Unlock()
	return loadErr
}

// applyExternal replaces local state with a value another context persisted.
// The record already holds that value, so any pending local save is dropped.
// A persist that already took its snapshot is not stopped: it writes the older
// local items over the external value, and this session and the record then
// disagree until the next local mutation. That is the last-writer-wins trade-off.
func (s *Session) applyExternal(ctx context.Context, items []domain.CartLineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = reducer.Reduce(s.state, reducer.Initialize{Items: items})
	s.metrics.ObserveAction(reducer.Initialize{}.Name())
	if s.debouncer.Cancel() {
		s.logger.Debug(ctx, "external cart change superseded pending save")
	}
}

func (s *Session) dispatch(action reducer.Action) domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = reducer.Reduce(s.state, action)
	s.metrics.ObserveAction(action.Name())
	if s.state.Initialized && !s.closed {
		s.debouncer.Schedule(s.persist)
	}
	return s.state.Clone()
}

func (s *Session) persist() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	items := domain.CloneItems(s.state.Items)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.adapter.Save(ctx, items)
}

func (s *Session) AddItem(item domain.CartLineItem) domain.CartState {
	return s.dispatch(reducer.Add{Item: item})
}

func (s *Session) RemoveItem(id string) domain.CartState {
	return s.dispatch(reducer.Remove{ID: id})
}

func (s *Session) Clear() domain.CartState {
	return s.dispatch(reducer.Clear{})
}

func (s *Session) SetQuantity(id string, quantity float64) domain.CartState {
	return s.dispatch(reducer.UpdateQuantity{ID: id, Quantity: quantity})
}

func (s *Session) Increase(id string, delta float64) domain.CartState {
	return s.dispatch(reducer.Increase{ID: id, Delta: delta})
}

// Decrease lowers the quantity by delta but never removes the entry.
func (s *Session) Decrease(id string, delta float64) domain.CartState {
	return s.dispatch(reducer.Decrease{ID: id, Delta: delta})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Session) Items() []domain.CartLineItem {
	return s.Snapshot().Items
}

func (s *Session) Total() decimal.Decimal {
	return s.Snapshot().Total()
}

func (s *Session) ItemCount() int {
	return s.Snapshot().ItemCount()
}

// SavePending reports whether a debounced save is waiting or still writing.
func (s *Session) SavePending() bool {
	return s.debouncer.Pending()
}

func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Initialized
}

// Flush writes the current state immediately, replacing any pending save.
// It is a no-op before the session is ready.
func (s *Session) Flush(ctx context.Context) error {
	s.debouncer.Cancel()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.state.Initialized {
		s.mu.Unlock()
		return nil
	}
	items := domain.CloneItems(s.state.Items)
	s.mu.Unlock()

	return s.adapter.Save(ctx, items)
}

// Close stops the synchronizer and drops any pending save without writing it.
// It waits for a save that is already in progress.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	syncer := s.syncer
	s.syncer = nil
	s.mu.Unlock()

	s.debouncer.Cancel()
	if syncer != nil {
		syncer.Stop()
	}

	// Wait out a persist that is already running.
	s.saveMu.Lock()
	s.saveMu.Unlock() //nolint:staticcheck
}
