// Package storage provides the durable key-value stores a cart session persists to,
// together with change feeds that report writes made by other execution contexts.
package storage

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound         = errors.New("key not found")
	ErrWatchUnsupported = errors.New("store does not support change notifications")
)

// Store is a durable key-value store holding raw serialized values.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Watcher is implemented by stores that can report changes to a key made by
// another context. A context never observes its own writes. The returned channel
// is closed once ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan Change, error)
}

// Change describes one external modification of a key.
type Change struct {
	Key     string
	Old     []byte
	New     []byte
	Deleted bool
}

// subscription is a single-slot mailbox: a change that has not been received yet
// is replaced by a newer one, so a slow reader only ever sees the latest write.
type subscription struct {
	mu     sync.Mutex
	ch     chan Change
	closed bool
}

func newSubscription() *subscription {
	return &subscription{ch: make(chan Change, 1)}
}

func (s *subscription) offer(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- c:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
