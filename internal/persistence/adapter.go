package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/metrics"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

// Adapter reads and writes one cart record in a durable store.
// Storage failures are logged and never returned to the cart's consumers.
type Adapter struct {
	store   storage.Store
	key     string
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAdapter(store storage.Store, key string, logg *logger.Logger, m *metrics.Metrics) *Adapter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Adapter{
		store:   store,
		key:     key,
		logger:  logg,
		metrics: m,
	}
}

func (a *Adapter) Key() string {
	return a.key
}

// Load returns the stored cart. An absent record yields an empty cart.
// A record that is not a list is deleted and an empty cart is returned.
// A failed read is logged and also yields an empty cart.
func (a *Adapter) Load(ctx context.Context) []domain.CartLineItem {
	items, _ := a.Read(ctx)
	return items
}

// Read is Load that also reports a failed read of the store, including a
// cancelled ctx. Absent and unreadable records are not errors. The returned
// items are always non-nil.
func (a *Adapter) Read(ctx context.Context) ([]domain.CartLineItem, error) {
	ctx = a.logger.WithField(ctx, "cart_key", a.key)

	data, err := a.store.Get(ctx, a.key)
	if errors.Is(err, storage.ErrNotFound) {
		a.metrics.ObserveLoad(metrics.LoadMissing)
		return []domain.CartLineItem{}, nil
	}
	if err != nil {
		a.metrics.ObserveLoad(metrics.LoadError)
		a.logger.Error(ctx, "failed to read stored cart", err)
		return []domain.CartLineItem{}, fmt.Errorf("read cart %s: %w", a.key, err)
	}

	items, dropped, err := Decode(data)
	if err != nil {
		a.metrics.ObserveLoad(metrics.LoadCorrupt)
		a.logger.Warn(ctx, "discarding unreadable stored cart", err)
		if delErr := a.store.Delete(ctx, a.key); delErr != nil {
			a.logger.Error(ctx, "failed to delete unreadable stored cart", delErr)
		}
		return []domain.CartLineItem{}, nil
	}

	if dropped > 0 {
		a.metrics.ObserveDropped(dropped)
		a.logger.Warn(a.logger.WithField(ctx, "dropped", dropped), "ignored malformed cart entries", nil)
	}
	a.metrics.ObserveLoad(metrics.LoadOK)
	return items, nil
}

// Save writes items as the new record. The error is logged before it is returned.
func (a *Adapter) Save(ctx context.Context, items []domain.CartLineItem) error {
	ctx = a.logger.WithField(ctx, "cart_key", a.key)

	data, err := Encode(items)
	if err == nil {
		err = a.store.Set(ctx, a.key, data)
	}
	a.metrics.ObserveSave(err)
	if err != nil {
		a.logger.Error(ctx, "failed to persist cart", err)
		return err
	}
	a.logger.Debug(a.logger.WithField(ctx, "items", len(items)), "cart persisted")
	return nil
}
