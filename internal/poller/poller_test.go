package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/service"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

type fakeReader struct {
	messages chan kafkaGo.Message
	mu       sync.Mutex
	closed   bool
}

func newFakeReader(msgs ...kafkaGo.Message) *fakeReader {
	ch := make(chan kafkaGo.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &fakeReader{messages: ch}
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	select {
	case <-ctx.Done():
		return kafkaGo.Message{}, ctx.Err()
	case m := <-f.messages:
		return m, nil
	}
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type recordingClearer struct {
	mu     sync.Mutex
	owners []string
	err    error
}

func (r *recordingClearer) ClearOwner(_ context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, owner)
	return r.err
}

func (r *recordingClearer) cleared() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.owners...)
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		owner   string
		wantErr bool
	}{
		{"valid", `{"checkout_id":"ch1","user_id":"123","total_amount":"1"}`, "123", false},
		{"trims owner", `{"user_id":" 42 "}`, "42", false},
		{"not json", `user 1`, "", true},
		{"missing user", `{"checkout_id":"ch1"}`, "", true},
		{"numeric user", `{"user_id":7}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &recordingClearer{}
			p := NewPollerWithReader(newFakeReader(), carts, logger.Nop())

			err := p.handleMessage(context.Background(), kafkaGo.Message{Value: []byte(tt.value)})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
				assert.Empty(t, carts.cleared())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.owner}, carts.cleared())
		})
	}
}

func TestHandleMessage_ClearFailure(t *testing.T) {
	carts := &recordingClearer{err: errors.New("store down")}
	p := NewPollerWithReader(newFakeReader(), carts, nil)

	err := p.handleMessage(context.Background(), kafkaGo.Message{Value: []byte(`{"user_id":"1"}`)})
	assert.ErrorContains(t, err, "store down")
}

func TestRun_SkipsBadMessagesAndStopsOnCancel(t *testing.T) {
	reader := newFakeReader(
		kafkaGo.Message{Value: []byte(`garbage`)},
		kafkaGo.Message{Value: []byte(`{"user_id":"alice"}`)},
		kafkaGo.Message{Value: []byte(`{"user_id":"bob"}`)},
	)
	carts := &recordingClearer{}
	p := NewPollerWithReader(reader, carts, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(carts.cleared()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, carts.cleared())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	p.Close()
	assert.True(t, reader.closed)
}

func TestRun_ClearsLiveSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryBackend().Open()
	registry := service.NewRegistry(store, service.RegistryOptions{})
	defer registry.Close(context.Background())

	s, err := registry.Session(ctx, "123")
	require.NoError(t, err)
	s.AddItem(domain.CartLineItem{ID: "A", Name: "Aspirin", Price: 1, Quantity: 2})

	p := NewPollerWithReader(newFakeReader(kafkaGo.Message{Value: []byte(`{"user_id":"123"}`)}), registry, nil)
	go p.Run(ctx)

	require.Eventually(t, func() bool { return len(s.Items()) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		value, err := store.Get(ctx, registry.Key("123"))
		return err == nil && string(value) == "[]"
	}, time.Second, 5*time.Millisecond)
}
