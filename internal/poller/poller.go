// Package poller empties a customer's cart once their checkout completes.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/pharmacy-cart/pkg/logger"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "pharmacy-cart"

	retryDelay = time.Second
)

var ErrInvalidEvent = errors.New("invalid checkout event")

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type CartClearer interface {
	ClearOwner(ctx context.Context, owner string) error
}

type Options struct {
	Brokers []string
	Topic   string
	GroupID string
}

// CheckoutEvent is the part of the checkout outbox payload the cart cares about.
type CheckoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	reader MessageReader
	carts  CartClearer
	logger *logger.Logger
}

func NewPoller(carts CartClearer, logg *logger.Logger, opts Options) *Poller {
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	group := opts.GroupID
	if group == "" {
		group = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    topic,
		GroupID:  group,
		MaxBytes: 10e6, // 10MB
	})
	return NewPollerWithReader(reader, carts, logg)
}

func NewPollerWithReader(reader MessageReader, carts CartClearer, logg *logger.Logger) *Poller {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Poller{reader: reader, carts: carts, logger: logg}
}

// Run consumes checkout events until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error(ctx, "error reading checkout message", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		if err := p.handleMessage(ctx, m); err != nil {
			msgCtx := p.logger.WithFields(ctx, map[string]any{
				"topic":     m.Topic,
				"partition": m.Partition,
				"offset":    m.Offset,
			})
			p.logger.Warn(msgCtx, "skipping checkout message", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error(context.Background(), "error closing checkout reader", err)
	}
}

func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	var event CheckoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	owner := strings.TrimSpace(event.UserID)
	if owner == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}

	ctx = p.logger.WithFields(ctx, map[string]any{
		"cart_owner":  owner,
		"checkout_id": event.CheckoutID,
	})
	if err := p.carts.ClearOwner(ctx, owner); err != nil {
		return fmt.Errorf("clear cart failed: %w", err)
	}
	p.logger.Info(ctx, "cart cleared after checkout")
	return nil
}
