package storage

import (
	"context"
	"errors"

	"github.com/fjod/pharmacy-cart/pkg/circuitbreaker"
	"github.com/fjod/pharmacy-cart/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerStore fails fast while the wrapped store keeps erroring, so a dead
// backend does not stall every save. A missing key is not a failure.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[[]byte]
}

func NewBreakerStore(name string, inner Store, logg *logger.Logger) *BreakerStore {
	return &BreakerStore{
		inner: inner,
		cb: circuitbreaker.New[[]byte](circuitbreaker.Options{
			Name: name,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}, logg),
	}
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Get(ctx, key)
	})
}

func (b *BreakerStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.cb.Execute(func() ([]byte, error) {
		return nil, b.inner.Set(ctx, key, value)
	})
	return err
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() ([]byte, error) {
		return nil, b.inner.Delete(ctx, key)
	})
	return err
}

// Watch passes through to the wrapped store when it supports change notifications.
func (b *BreakerStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	w, ok := b.inner.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.Watch(ctx, key)
}
