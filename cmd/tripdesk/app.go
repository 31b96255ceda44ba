package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"github.com/adeilh/tripdesk/auth"
	"github.com/adeilh/tripdesk/cache"
	"github.com/adeilh/tripdesk/cache/memory"
	redisstore "github.com/adeilh/tripdesk/cache/redis"
	"github.com/adeilh/tripdesk/config"
	pgstore "github.com/adeilh/tripdesk/db/sql/postgres"
	"github.com/adeilh/tripdesk/logger"
	"github.com/adeilh/tripdesk/trips"
)

var errLoginRequired = errors.New("login required")

type app struct {
	cfg     config.Config
	log     logger.Logger
	store   cache.Store
	closers []func() error
}

func (a *app) init(ctx context.Context, flags rootFlags) error {
	cfg, err := config.NewLoader(
		config.WithConfigFile(flags.configPath),
		config.WithOverrides(flags.overrides()),
	).Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.store = store
	a.closers = append(a.closers, closeStore)
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (cache.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s := redisstore.NewStore(redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Channel:  cfg.Redis.Channel,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return s, s.Close, nil
	case config.BackendPostgres:
		s, err := pgstore.NewStore(ctx,
			pgstore.WithDSN(cfg.Postgres.DSN),
			pgstore.WithTable(cfg.Postgres.Table),
			pgstore.WithChannel(cfg.Postgres.Channel),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memory.NewStore(), func() error { return nil }, nil
	}
}

// cliNavigator stands in for the browser: a navigation is reported and
// turns the command into a login-required failure.
type cliNavigator struct {
	out io.Writer

	mu     sync.Mutex
	target string
}

func (n *cliNavigator) Replace(_ context.Context, target string) error {
	n.mu.Lock()
	n.target = target
	n.mu.Unlock()
	fmt.Fprintf(n.out, "redirect: %s\n", target)
	return nil
}

func (n *cliNavigator) err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.target == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", errLoginRequired, n.target)
}

type session struct {
	client *auth.Client
	nav    *cliNavigator
}

func (a *app) openSession(cmd *cobra.Command) (*session, error) {
	nav := &cliNavigator{out: cmd.ErrOrStderr()}
	client, err := auth.NewClient(auth.ClientConfig{
		Origin:         a.cfg.API.Origin,
		APIPrefix:      a.cfg.API.Prefix,
		RefreshPath:    a.cfg.Auth.RefreshPath,
		LogoutPath:     a.cfg.Auth.LogoutPath,
		LoginRedirect:  a.cfg.Auth.LoginRedirect,
		LoginFallback:  a.cfg.Auth.LoginFallback,
		LogoutRedirect: a.cfg.Auth.LogoutRedirect,
		Skew:           a.cfg.Auth.Skew,
		Timeout:        a.cfg.API.Timeout,
		Store:          a.store,
		InstanceID:     a.cfg.Auth.InstanceID,
		Navigator:      nav,
		Logger:         a.log,
	})
	if err != nil {
		return nil, err
	}
	if raw := a.cfg.Auth.RefreshCookie; raw != "" {
		cookies, err := http.ParseCookie(raw)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("refresh cookie: %w", err)
		}
		for _, c := range cookies {
			c.Path = "/"
		}
		client.CookieJar().SetCookies(client.Page().Origin(), cookies)
	}
	return &session{client: client, nav: nav}, nil
}

// start bootstraps the session; a redirect becomes errLoginRequired.
func (s *session) start(ctx context.Context) error {
	if _, err := s.client.Bootstrap(ctx); err != nil {
		if navErr := s.nav.err(); navErr != nil {
			return navErr
		}
		return err
	}
	return nil
}

// finish prefers a login redirect over the call's own error.
func (s *session) finish(err error) error {
	if navErr := s.nav.err(); navErr != nil {
		return navErr
	}
	return err
}

// runTrips bootstraps a session and hands a trips client to fn, printing its
// result as JSON.
func (a *app) runTrips(cmd *cobra.Command, fn func(context.Context, *trips.Client) (any, error)) error {
	s, err := a.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.client.Close()

	ctx := cmd.Context()
	if err := s.start(ctx); err != nil {
		return err
	}
	out, err := fn(ctx, trips.New(s.client.API()))
	if err := s.finish(err); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
