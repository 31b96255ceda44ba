package redis

import (
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Options controls how the Redis store connects to the server and which
// namespace it writes into.
type Options struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// Prefix namespaces every key, e.g. "tripdesk" stores "tripdesk:accessToken".
	Prefix string
	// Channel is the pub/sub channel used by Bus.
	Channel string
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 2 * time.Second
	}
	if o.DB < 0 {
		o.DB = 0
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.Prefix == "" {
		o.Prefix = "tripdesk"
	}
	if o.Channel == "" {
		o.Channel = o.Prefix + ":storage"
	}
	return o
}

func (o Options) clientOptions() *goredis.Options {
	return &goredis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	}
}
