// Package memory provides in-process implementations of cache.Store and
// cache.Bus. A single Store shared by several token stores behaves like one
// browser profile shared by several tabs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/adeilh/tripdesk/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a mutex guarded map honoring TTLs lazily on read.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{items: make(map[string]entry), now: time.Now}
}

// SetNowFunc allows injecting a deterministic clock (useful for tests).
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.mu.Lock()
	s.now = fn
	s.mu.Unlock()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.items[key]
	now := s.now()
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return cache.ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Bus delivers events to every live subscriber of the same process.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan cache.Event]struct{}
	buffer int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan cache.Event]struct{}), buffer: 16}
}

// Publish never blocks on a slow subscriber; events that do not fit in a
// subscriber buffer are dropped for that subscriber.
func (b *Bus) Publish(ctx context.Context, ev cache.Event) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan cache.Event, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ch := make(chan cache.Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
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
