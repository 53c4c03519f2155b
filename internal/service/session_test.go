package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/persistence"
	"github.com/fjod/pharmacy-cart/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDebounce = 40 * time.Millisecond

// countingStore records every write and hides any change feed of the wrapped store.
type countingStore struct {
	storage.Store

	mu     sync.Mutex
	writes [][]byte
	gets   int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	c.mu.Unlock()
	return c.Store.Set(ctx, key, value)
}

func (c *countingStore) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *countingStore) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func (c *countingStore) getCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

func newCounting() *countingStore {
	return &countingStore{Store: storage.NewMemoryBackend().Open()}
}

func mounted(t *testing.T, store storage.Store) *Session {
	t.Helper()
	s := NewSession(store, "cart", SessionOptions{Debounce: testDebounce})
	require.NoError(t, s.Mount(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func item(id string, price float64, qty int) domain.CartLineItem {
	return domain.CartLineItem{ID: id, Name: "item " + id, Price: price, Quantity: qty}
}

func decode(t *testing.T, data []byte) []domain.CartLineItem {
	t.Helper()
	items, dropped, err := persistence.Decode(data)
	require.NoError(t, err)
	require.Zero(t, dropped)
	return items
}

func TestSession_MountLoadsStoredCart(t *testing.T) {
	store := storage.NewMemoryBackend().Open()
	require.NoError(t, store.Set(context.Background(), "cart", []byte(`[{"id":"A","name":"Aspirin","price":2.5,"quantity":2}]`)))

	s := NewSession(store, "cart", SessionOptions{Debounce: testDebounce})
	defer s.Close()
	assert.False(t, s.IsReady())

	require.NoError(t, s.Mount(context.Background()))
	assert.True(t, s.IsReady())
	assert.Equal(t, 2, s.ItemCount())
	assert.Equal(t, "5", s.Total().String())
}

func TestSession_MountCorruptRecordStartsEmpty(t *testing.T) {
	store := storage.NewMemoryBackend().Open()
	require.NoError(t, store.Set(context.Background(), "cart", []byte(`{"oops"`)))

	s := mounted(t, store)
	assert.True(t, s.IsReady())
	assert.Empty(t, s.Items())

	_, err := store.Get(context.Background(), "cart")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSession_MountDoesNotWrite(t *testing.T) {
	store := newCounting()
	mounted(t, store)

	time.Sleep(3 * testDebounce)
	assert.Zero(t, store.writeCount())
}

func TestSession_AddAndMergeScenario(t *testing.T) {
	s := mounted(t, newCounting())

	s.AddItem(item("A", 100, 1))
	state := s.AddItem(item("A", 100, 2))

	require.Len(t, state.Items, 1)
	assert.Equal(t, 3, state.Items[0].Quantity)
	assert.Equal(t, "300", s.Total().String())
}

func TestSession_DecreaseFloorScenario(t *testing.T) {
	s := mounted(t, newCounting())
	s.AddItem(item("B", 10, 1))

	state := s.Decrease("B", 5)
	require.Len(t, state.Items, 1)
	assert.Equal(t, 1, state.Items[0].Quantity)
}

func TestSession_DebounceCoalescesWrites(t *testing.T) {
	store := newCounting()
	s := mounted(t, store)

	s.AddItem(item("A", 1, 1))
	s.AddItem(item("B", 2, 1))
	s.Increase("A", 2)

	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, store.writeCount())

	items := decode(t, store.lastWrite())
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "B", items[1].ID)
}

func TestSession_NoWriteBeforeReady(t *testing.T) {
	store := newCounting()
	s := NewSession(store, "cart", SessionOptions{Debounce: testDebounce})
	defer s.Close()

	state := s.AddItem(item("A", 1, 1))
	assert.False(t, state.Initialized)

	time.Sleep(3 * testDebounce)
	assert.Zero(t, store.writeCount())
}

func TestSession_CloseDropsPendingSave(t *testing.T) {
	store := newCounting()
	s := NewSession(store, "cart", SessionOptions{Debounce: testDebounce})
	require.NoError(t, s.Mount(context.Background()))

	s.AddItem(item("A", 1, 1))
	s.Close()

	time.Sleep(3 * testDebounce)
	assert.Zero(t, store.writeCount())
	assert.ErrorIs(t, s.Flush(context.Background()), ErrSessionClosed)
}

func TestSession_FlushWritesImmediately(t *testing.T) {
	store := newCounting()
	s := mounted(t, store)

	s.AddItem(item("A", 1, 4))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, store.writeCount())

	time.Sleep(3 * testDebounce)
	assert.Equal(t, 1, store.writeCount(), "flush replaces the pending save")
	assert.Equal(t, 4, decode(t, store.lastWrite())[0].Quantity)
}

func TestSession_FlushBeforeReadyIsNoop(t *testing.T) {
	store := newCounting()
	s := NewSession(store, "cart", SessionOptions{Debounce: testDebounce})
	defer s.Close()

	require.NoError(t, s.Flush(context.Background()))
	assert.Zero(t, store.writeCount())
}

func TestSession_CrossContextSync(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	seed := backend.Open()
	require.NoError(t, seed.Set(ctx, "cart", []byte(`[{"id":"C","name":"Cream","price":5,"quantity":1}]`)))

	tab1 := mounted(t, backend.Open())
	tab2 := mounted(t, backend.Open())

	tab2.AddItem(domain.CartLineItem{ID: "C", Name: "Cream", Price: 5, Quantity: 1})

	require.Eventually(t, func() bool {
		items := tab1.Items()
		return len(items) == 1 && items[0].Quantity == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, tab1.IsReady())
}

func TestSession_ExternalChangeOverwritesLocalAndCancelsSave(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	tab1 := NewSession(backend.Open(), "cart", SessionOptions{Debounce: 300 * time.Millisecond})
	require.NoError(t, tab1.Mount(ctx))
	defer tab1.Close()
	tab2 := mounted(t, backend.Open())

	tab1.AddItem(item("LOCAL", 1, 1))
	tab2.AddItem(item("REMOTE", 1, 1))
	require.NoError(t, tab2.Flush(ctx))

	require.Eventually(t, func() bool {
		items := tab1.Items()
		return len(items) == 1 && items[0].ID == "REMOTE"
	}, time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	stored, err := backend.Open().Get(ctx, "cart")
	require.NoError(t, err)
	items := decode(t, stored)
	require.Len(t, items, 1)
	assert.Equal(t, "REMOTE", items[0].ID)
}

func TestSession_RemoveClearAndSetQuantity(t *testing.T) {
	s := mounted(t, newCounting())
	s.AddItem(item("A", 1, 1))
	s.AddItem(item("B", 1, 1))

	state := s.SetQuantity("A", 7)
	assert.Equal(t, 7, state.Items[0].Quantity)

	state = s.RemoveItem("A")
	require.Len(t, state.Items, 1)
	assert.Equal(t, "B", state.Items[0].ID)

	state = s.Clear()
	assert.Empty(t, state.Items)
	assert.True(t, state.Initialized)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s := mounted(t, newCounting())
	s.AddItem(item("A", 1, 1))

	items := s.Items()
	items[0].Quantity = 99
	assert.Equal(t, 1, s.Items()[0].Quantity)
}
