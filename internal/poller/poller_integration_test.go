package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/fjod/pharmacy-cart/internal/service"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

func setupKafka(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_ClearsStoredCartOnCheckout(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := setupKafka(t)
	createTopic(t, broker, DefaultTopic)

	store := storage.NewMemoryBackend().Open()
	registry := service.NewRegistry(store, service.RegistryOptions{})
	defer registry.Close(context.Background())
	require.NoError(t, store.Set(ctx, registry.Key("123"), []byte(`[{"id":"A","name":"Aspirin","price":1,"quantity":1}]`)))

	p := NewPoller(registry, logger.Nop(), Options{Brokers: []string{broker}})
	defer p.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  DefaultTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	payload, err := json.Marshal(map[string]any{
		"checkout_id":  "chId",
		"user_id":      "123",
		"total_amount": "1",
		"completed_at": time.Time{},
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteMessages(ctx, kafkaGo.Message{
		Key:     []byte("chId"),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte("checkout")}},
	}))
	require.NoError(t, w.Close())

	go p.Run(ctx)
	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, registry.Key("123"))
		return errors.Is(err, storage.ErrNotFound)
	}, 30*time.Second, 500*time.Millisecond)
}
