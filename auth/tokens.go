package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/adeilh/tripdesk/cache"
	"github.com/adeilh/tripdesk/logger"
)

// TokenChange is delivered to local subscribers whenever the token is set or
// cleared. Token is empty when Cleared is true.
type TokenChange struct {
	Token   string
	Cleared bool
}

type TokenStoreOptions struct {
	// Bus receives one event per written or removed key so that other
	// instances sharing the store can react. Optional.
	Bus cache.Bus
	// Origin identifies this instance on the bus; a random id is used when
	// empty.
	Origin string
	Logger logger.Logger
}

// TokenStore holds the current access token in memory, backed by a
// cache.Store under several legacy-compatible key names.
type TokenStore struct {
	store  cache.Store
	bus    cache.Bus
	origin string
	log    logger.Logger

	mu     sync.RWMutex
	cached string

	subsMu sync.Mutex
	subs   map[int]func(TokenChange)
	nextID int
}

func NewTokenStore(store cache.Store, opts TokenStoreOptions) *TokenStore {
	origin := strings.TrimSpace(opts.Origin)
	if origin == "" {
		origin = uuid.NewString()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &TokenStore{
		store:  store,
		bus:    opts.Bus,
		origin: origin,
		log:    log,
		subs:   make(map[int]func(TokenChange)),
	}
}

// Origin returns the id this store stamps on published events.
func (s *TokenStore) Origin() string { return s.origin }

// Bus returns the configured bus, if any.
func (s *TokenStore) Bus() cache.Bus { return s.bus }

// Get returns the cached token, falling back to persistent storage.
func (s *TokenStore) Get(ctx context.Context) (string, bool) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != "" {
		return cached, true
	}

	token, ok := s.Stored(ctx)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	if s.cached == "" {
		s.cached = token
	}
	s.mu.Unlock()
	return token, true
}

// Stored reads persistent storage only, checking each alias key in priority
// order until one yields a non-empty value.
func (s *TokenStore) Stored(ctx context.Context) (string, bool) {
	token, err := s.readStored(ctx)
	if err != nil {
		s.log.Warn("token storage read failed", "error", err)
	}
	return token, token != ""
}

// readStored returns the first non-empty alias value. The error is non-nil
// when no token was found and at least one key could not be read, so an
// empty result with a nil error means storage really holds no token.
func (s *TokenStore) readStored(ctx context.Context) (string, error) {
	var errs []error
	for _, key := range tokenKeys() {
		value, err := s.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				errs = append(errs, fmt.Errorf("auth: read %s: %w", key, err))
			}
			continue
		}
		if token := strings.TrimSpace(string(value)); token != "" {
			return token, nil
		}
	}
	return "", errors.Join(errs...)
}

// Set writes token under every alias key, caches it and notifies
// subscribers. An empty token is ignored.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	var errs []error
	for _, key := range tokenKeys() {
		if err := s.store.Set(ctx, key, []byte(token), 0); err != nil {
			errs = append(errs, fmt.Errorf("auth: store %s: %w", key, err))
		}
	}

	s.mu.Lock()
	s.cached = token
	s.mu.Unlock()

	s.notify(TokenChange{Token: token})
	s.publish(ctx, tokenKeys(), false)
	return errors.Join(errs...)
}

// Clear removes every known key. Storage is fully cleared before
// subscribers or other instances hear about it.
func (s *TokenStore) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range clearKeys() {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrNotFound) {
			errs = append(errs, fmt.Errorf("auth: clear %s: %w", key, err))
		}
	}

	s.Forget()
	s.notify(TokenChange{Cleared: true})
	s.publish(ctx, clearKeys(), true)
	return errors.Join(errs...)
}

// Forget drops the in-memory copy so the next Get re-reads storage.
func (s *TokenStore) Forget() {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

// Subscribe registers fn for local token changes and returns a function that
// removes it.
func (s *TokenStore) Subscribe(fn func(TokenChange)) func() {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *TokenStore) notify(change TokenChange) {
	s.subsMu.Lock()
	fns := make([]func(TokenChange), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (s *TokenStore) publish(ctx context.Context, keys []string, deleted bool) {
	if s.bus == nil {
		return
	}
	for _, key := range keys {
		ev := cache.Event{Key: key, Deleted: deleted, Origin: s.origin}
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.log.Warn("token change publish failed", "key", key, "error", err)
		}
	}
}
