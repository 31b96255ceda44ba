package auth

import (
	"context"

	"github.com/adeilh/tripdesk/logger"
)

// CrossTab logs this instance out when another instance sharing the same
// storage clears the token.
type CrossTab struct {
	tokens  *TokenStore
	page    *Page
	log     logger.Logger
	metrics *Metrics
}

func NewCrossTab(tokens *TokenStore, page *Page, log logger.Logger, metrics *Metrics) *CrossTab {
	if log == nil {
		log = logger.NewNop()
	}
	return &CrossTab{tokens: tokens, page: page, log: log, metrics: metrics}
}

// Run listens until ctx is done or this instance has been sent to the login
// fallback. The kick carries no next parameter.
func (c *CrossTab) Run(ctx context.Context) error {
	bus := c.tokens.Bus()
	if bus == nil {
		return ErrNoBus
	}
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for ev := range events {
		if ev.Origin == c.tokens.Origin() || !isTokenKey(ev.Key) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		// Storage changed under us; the cached copy may be stale.
		c.tokens.Forget()
		token, err := c.tokens.readStored(ctx)
		if err != nil {
			c.log.Warn("token storage unreadable after change, staying", "key", ev.Key, "error", err)
			continue
		}
		if token != "" {
			continue
		}

		c.log.Info("token removed by another instance, leaving page", "key", ev.Key, "origin", ev.Origin)
		c.metrics.redirect("cross_tab")
		if err := c.page.Replace(context.WithoutCancel(ctx), c.page.LoginFallback()); err != nil {
			c.log.Error("login redirect failed", "error", err)
		}
		return nil
	}
	return nil
}
