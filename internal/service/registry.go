package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

var (
	ErrOwnerRequired  = errors.New("cart owner is required")
	ErrRegistryClosed = errors.New("cart registry closed")
)

const (
	DefaultBaseKey      = "cart"
	DefaultMountTimeout = 5 * time.Second
	maxSweepInterval    = time.Minute
)

type RegistryOptions struct {
	BaseKey         string
	FlushOnShutdown bool
	// MountTimeout bounds the first load of a session. It is applied on a
	// context detached from the caller, so a caller going away does not fail the load.
	MountTimeout time.Duration
	// IdleTimeout evicts sessions nobody asked for in that long. Zero keeps them until Close.
	IdleTimeout time.Duration
	// SweepInterval defaults to half of IdleTimeout, capped at one minute.
	SweepInterval time.Duration
	Session       SessionOptions
}

type registryEntry struct {
	session  *Session
	lastUsed time.Time
}

// Registry holds one live session per cart owner.
type Registry struct {
	store        storage.Store
	baseKey      string
	flush        bool
	mountTimeout time.Duration
	idle         time.Duration
	opts         SessionOptions
	logger       *logger.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*registryEntry
	closed   bool
	sfg      singleflight.Group // coalesces concurrent mounts of the same owner

	stopSweep chan struct{}
	wg        sync.WaitGroup
}

func NewRegistry(store storage.Store, opts RegistryOptions) *Registry {
	base := opts.BaseKey
	if base == "" {
		base = DefaultBaseKey
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = logger.Nop()
	}
	mountTimeout := opts.MountTimeout
	if mountTimeout <= 0 {
		mountTimeout = DefaultMountTimeout
	}
	r := &Registry{
		store:        store,
		baseKey:      base,
		flush:        opts.FlushOnShutdown,
		mountTimeout: mountTimeout,
		idle:         opts.IdleTimeout,
		opts:         opts.Session,
		logger:       opts.Session.Logger,
		now:          time.Now,
		sessions:     make(map[string]*registryEntry),
		stopSweep:    make(chan struct{}),
	}

	if r.idle > 0 {
		interval := opts.SweepInterval
		if interval <= 0 {
			interval = min(r.idle/2, maxSweepInterval)
		}
		r.wg.Add(1)
		go r.sweepLoop(interval)
	}
	return r
}

// Key returns the durable key of owner's cart.
func (r *Registry) Key(owner string) string {
	return r.baseKey + ":" + owner
}

// lookup returns owner's session and marks it as used.
func (r *Registry) lookup(owner string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	e, ok := r.sessions[owner]
	if !ok {
		return nil, false, nil
	}
	e.lastUsed = r.now()
	return e.session, true, nil
}

// Session returns owner's live session, mounting it on first use.
// A session whose load failed is closed rather than kept, and the error wraps ErrLoadFailed.
func (r *Registry) Session(ctx context.Context, owner string) (*Session, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if s, ok, err := r.lookup(owner); err != nil || ok {
		return s, err
	}

	v, err, _ := r.sfg.Do(owner, func() (interface{}, error) {
		if s, ok, err := r.lookup(owner); err != nil || ok {
			return s, err
		}

		mountCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.mountTimeout)
		defer cancel()

		s := NewSession(r.store, r.Key(owner), r.opts)
		if err := s.Mount(mountCtx); err != nil {
			s.Close()
			return nil, fmt.Errorf("mount cart %s failed: %w", owner, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			s.Close()
			return nil, ErrRegistryClosed
		}
		r.sessions[owner] = &registryEntry{session: s, lastUsed: r.now()}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// ClearOwner empties owner's cart. A live session is cleared and flushed;
// otherwise the durable record is deleted, which other contexts observe as an empty cart.
func (r *Registry) ClearOwner(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	s, ok, err := r.lookup(owner)
	if err != nil {
		return err
	}
	if ok {
		s.Clear()
		return s.Flush(ctx)
	}
	if err := r.store.Delete(ctx, r.Key(owner)); err != nil {
		return fmt.Errorf("delete cart %s failed: %w", owner, err)
	}
	return nil
}

// Release closes owner's session without flushing it.
func (r *Registry) Release(owner string) {
	r.mu.Lock()
	e, ok := r.sessions[owner]
	delete(r.sessions, owner)
	r.mu.Unlock()
	if ok {
		e.session.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopSweep:
			return
		}
	}
}

// evictIdle closes sessions unused for longer than the idle timeout.
// A session with a save still pending is kept until the save has run.
func (r *Registry) evictIdle() {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var evicted []*Session
	for owner, e := range r.sessions {
		if e.lastUsed.After(cutoff) || e.session.SavePending() {
			continue
		}
		delete(r.sessions, owner)
		evicted = append(evicted, e.session)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	if len(evicted) > 0 {
		r.logger.Debug(r.logger.WithField(context.Background(), "sessions", len(evicted)), "evicted idle cart sessions")
	}
}

// Close stops idle eviction and closes every session. Pending saves are flushed
// first only when the registry was built with FlushOnShutdown; otherwise they are dropped.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	close(r.stopSweep)
	r.wg.Wait()

	var errs []error
	for owner, e := range sessions {
		if r.flush {
			if err := e.session.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush cart %s: %w", owner, err))
			}
		}
		e.session.Close()
	}
	r.logger.Info(r.logger.WithField(ctx, "sessions", len(sessions)), "cart registry closed")
	return errors.Join(errs...)
}
