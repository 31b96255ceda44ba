package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adeilh/tripdesk/logger"
)

type GuardOptions struct {
	Skew    time.Duration
	Now     func() time.Time
	Logger  logger.Logger
	Metrics *Metrics
}

// Guard runs once per page load before any feature code and either makes
// the session ready or sends the user to log in.
type Guard struct {
	session   *Session
	tokens    *TokenStore
	refresher *Refresher
	page      *Page
	skew      time.Duration
	now       func() time.Time
	log       logger.Logger
	metrics   *Metrics

	mu    sync.Mutex
	done  bool
	token string
	err   error
}

func NewGuard(session *Session, tokens *TokenStore, refresher *Refresher, page *Page, opts GuardOptions) *Guard {
	g := &Guard{
		session:   session,
		tokens:    tokens,
		refresher: refresher,
		page:      page,
		skew:      opts.Skew,
		now:       opts.Now,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if g.skew <= 0 {
		g.skew = DefaultSkew
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.log == nil {
		g.log = logger.NewNop()
	}
	return g
}

// Run performs the bootstrap check. Once it has either produced a token or
// redirected, later calls return that result. ErrUnauthenticated means
// navigation to login has been issued and no feature code should proceed. A
// ctx that ends before the refresh settles returns ctx's error and leaves the
// check to be run again.
func (g *Guard) Run(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return g.token, g.err
	}
	token, err := g.run(ctx)
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		g.done, g.token, g.err = true, token, err
	}
	return token, err
}

func (g *Guard) run(ctx context.Context) (string, error) {
	g.session.markChecking()

	token, ok := g.tokens.Get(ctx)
	if !ok || IsExpiredOrNear(token, g.skew, g.now()) {
		fresh, err := g.refresher.Refresh(ctx)
		if err != nil && !errors.Is(err, ErrRefreshFailed) {
			g.log.Debug("bootstrap refresh abandoned", "error", err)
			g.session.markIdle()
			return "", err
		}
		if err != nil {
			g.log.Debug("bootstrap refresh failed", "error", err)
		}
		token = fresh
	}

	if token == "" {
		g.session.markRedirecting()
		g.metrics.redirect("unauthenticated")
		if err := g.page.Replace(ctx, g.page.LoginURLWithNext()); err != nil {
			g.log.Error("login redirect failed", "error", err)
		}
		return "", ErrUnauthenticated
	}

	g.session.markReady(token)
	return token, nil
}
