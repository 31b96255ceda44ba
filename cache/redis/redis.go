package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adeilh/tripdesk/cache"
)

// Store implements cache.Store and cache.Bus on top of a go-redis client.
// Several processes pointing at the same server and prefix share token
// storage the way browser tabs share localStorage.
type Store struct {
	opts   Options
	client goredis.UniversalClient
	owned  bool
}

// NewStore builds a Redis-backed store with its own client.
func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{opts: cfg, client: goredis.NewClient(cfg.clientOptions()), owned: true}
}

// NewStoreWithClient wraps an existing client; Close leaves it open.
func NewStoreWithClient(client goredis.UniversalClient, opts Options) *Store {
	return &Store{opts: opts.withDefaults(), client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(k string) string {
	return s.opts.Prefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("redis: GET %s: %w", key, err)
	}
	return payload, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: SET %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis: DEL %s: %w", key, err)
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// Publish encodes the event as JSON on the configured channel.
func (s *Store) Publish(ctx context.Context, ev cache.Event) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.opts.Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: PUBLISH: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning so
// that events published afterwards are never missed.
func (s *Store) Subscribe(ctx context.Context) (<-chan cache.Event, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ps := s.client.Subscribe(ctx, s.opts.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: SUBSCRIBE: %w", err)
	}

	out := make(chan cache.Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev cache.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
