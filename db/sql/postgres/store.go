// Package postgres stores tokens in a PostgreSQL key/value table and fans
// change events out with LISTEN/NOTIFY, so several processes sharing one
// database behave like tabs sharing localStorage.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/adeilh/tripdesk/cache"
)

// Store implements cache.Store and cache.Bus.
type Store struct {
	db    *sql.DB
	opts  Options
	owned bool

	nowMu sync.RWMutex
	now   func() time.Time
}

// NewStore connects, applies the schema and returns a ready store.
func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	cfg, err := buildOptions(opts...)
	if err != nil {
		return nil, err
	}
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, Schema(cfg.Table)...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, opts: cfg, owned: true, now: time.Now}, nil
}

// NewStoreWithDB wraps an existing pool. The schema must already exist and
// Close leaves the pool open. The DSN is still needed by Subscribe.
func NewStoreWithDB(db *sql.DB, opts ...Option) (*Store, error) {
	cfg, err := buildOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, opts: cfg, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for TTL bookkeeping.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.nowMu.Lock()
	s.now = fn
	s.nowMu.Unlock()
}

func (s *Store) clock() time.Time {
	s.nowMu.RLock()
	defer s.nowMu.RUnlock()
	return s.now()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var (
		value     []byte
		expiresAt sql.NullTime
	)
	query := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = $1`, s.opts.Table)
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	if expiresAt.Valid && !s.clock().Before(expiresAt.Time) {
		del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND expires_at = $2`, s.opts.Table)
		_, _ = s.db.ExecContext(ctx, del, key, expiresAt.Time)
		return nil, cache.ErrNotFound
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: s.clock().Add(ttl), Valid: true}
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.opts.Table)
	if _, err := s.db.ExecContext(ctx, query, key, append([]byte(nil), value...), expiresAt); err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.opts.Table)
	res, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// PurgeExpired removes rows whose TTL has passed and reports how many.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.opts.Table)
	res, err := s.db.ExecContext(ctx, query, s.clock())
	if err != nil {
		return 0, fmt.Errorf("postgres: purge: %w", err)
	}
	return res.RowsAffected()
}

// Publish sends the event as a JSON NOTIFY payload.
func (s *Store) Publish(ctx context.Context, ev cache.Event) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.opts.Channel, string(payload)); err != nil {
		return fmt.Errorf("postgres: notify: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated listener connection. It returns once LISTEN is
// acknowledged; the channel closes when ctx is done.
func (s *Store) Subscribe(ctx context.Context) (<-chan cache.Event, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	listener := pq.NewListener(s.opts.DSN, s.opts.MinReconnect, s.opts.MaxReconnect, nil)

	listened := make(chan error, 1)
	go func() { listened <- listener.Listen(s.opts.Channel) }()
	select {
	case err := <-listened:
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("postgres: listen: %w", err)
		}
	case <-ctx.Done():
		_ = listener.Close()
		return nil, ctx.Err()
	}

	out := make(chan cache.Event, 16)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil marks a reconnect; notifications sent meanwhile are lost.
				if n == nil {
					continue
				}
				var ev cache.Event
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
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
