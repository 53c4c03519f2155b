package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process durable store shared by several contexts.
// Each Open call returns a store acting as a separate context, so writes made
// through one store are reported to watchers opened through the others.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
	subs   map[*subscription]memoryWatch
}

type memoryWatch struct {
	origin string
	key    string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string][]byte),
		subs:   make(map[*subscription]memoryWatch),
	}
}

// Open returns a store bound to a new context.
func (b *MemoryBackend) Open() *MemoryStore {
	return &MemoryStore{backend: b, origin: uuid.NewString()}
}

// MemoryStore is one context's view of a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend
	origin  string
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.values[key]
	b.values[key] = cloneBytes(value)
	b.notify(s.origin, Change{Key: key, Old: cloneBytes(old), New: cloneBytes(value)})
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.values[key]
	if !ok {
		return nil
	}
	delete(b.values, key)
	b.notify(s.origin, Change{Key: key, Old: old, Deleted: true})
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	sub := newSubscription()
	b := s.backend

	b.mu.Lock()
	b.subs[sub] = memoryWatch{origin: s.origin, key: key}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// notify must be called with b.mu held.
func (b *MemoryBackend) notify(origin string, c Change) {
	for sub, w := range b.subs {
		if w.origin == origin || w.key != c.Key {
			continue
		}
		sub.offer(c)
	}
}
