package postgres

import (
	"regexp"
	"time"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Options configures the connection pool and where the store keeps its rows
// and publishes change notifications.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Table holds key/value rows; created by Migrate.
	Table string
	// Channel is the LISTEN/NOTIFY channel used by the bus.
	Channel string
	// MinReconnect and MaxReconnect bound the listener's reconnect backoff.
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

// WithMaxOpenConns controls the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOpenConns = n
		}
	}
}

// WithMaxIdleConns controls the idle connection pool size.
func WithMaxIdleConns(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxIdleConns = n
		}
	}
}

// WithConnMaxLifetime controls how long a connection can be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnMaxLifetime = d
		}
	}
}

func WithTable(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Table = name
		}
	}
}

func WithChannel(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Channel = name
		}
	}
}

func defaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Table:           "tripdesk_kv",
		Channel:         "tripdesk_storage",
		MinReconnect:    10 * time.Millisecond,
		MaxReconnect:    time.Minute,
	}
}
