package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures expiry of cart records. A zero TTL keeps records forever.
type RedisOptions struct {
	TTL    time.Duration
	Jitter time.Duration
}

// RedisStore keeps values in plain redis keys and announces every write on a
// pub/sub channel so other service instances can follow along.
type RedisStore struct {
	client *redis.Client
	origin string
	ttl    time.Duration
	jitter time.Duration
}

// changeEnvelope is the pub/sub payload published after each write.
type changeEnvelope struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Old     []byte `json:"old,omitempty"`
	New     []byte `json:"new,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func NewRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: client,
		origin: uuid.NewString(),
		ttl:    opts.TTL,
		jitter: opts.Jitter,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	var old *redis.StringCmd
	var set *redis.StatusCmd
	_, _ = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		old = pipe.Get(ctx, key)
		set = pipe.Set(ctx, key, value, r.expiry())
		return nil
	})
	if err := set.Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	prev, _ := old.Bytes()
	return r.publish(ctx, changeEnvelope{Origin: r.origin, Key: key, Old: prev, New: value})
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	var old *redis.StringCmd
	var del *redis.IntCmd
	_, _ = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		old = pipe.Get(ctx, key)
		del = pipe.Del(ctx, key)
		return nil
	})
	if err := del.Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	prev, errOld := old.Bytes()
	if errors.Is(errOld, redis.Nil) {
		return nil
	}
	return r.publish(ctx, changeEnvelope{Origin: r.origin, Key: key, Old: prev, Deleted: true})
}

// Watch subscribes to the key's change channel. The subscription is confirmed
// before Watch returns, so no write made afterwards is missed.
func (r *RedisStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	pubsub := r.client.Subscribe(ctx, changesChannel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	sub := newSubscription()
	messages := pubsub.Channel()

	go func() {
		defer sub.close()
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env changeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				if env.Origin == r.origin || env.Key != key {
					continue
				}
				sub.offer(Change{Key: env.Key, Old: env.Old, New: env.New, Deleted: env.Deleted})
			}
		}
	}()

	return sub.ch, nil
}

func (r *RedisStore) publish(ctx context.Context, env changeEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal change failed: %w", err)
	}
	if err := r.client.Publish(ctx, changesChannel(env.Key), payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *RedisStore) expiry() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	if r.jitter <= 0 {
		return r.ttl
	}
	return r.ttl + time.Duration(rand.Int63n(int64(r.jitter)))
}

func changesChannel(key string) string {
	return fmt.Sprintf("%s:changes", key)
}
