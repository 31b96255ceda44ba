package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/adeilh/tripdesk/httpx"
	"github.com/adeilh/tripdesk/logger"
)

type RefresherOptions struct {
	// Path of the refresh endpoint relative to the client base URL.
	Path    string
	Logger  logger.Logger
	Metrics *Metrics
}

// Refresher obtains a new access token from the cookie-backed refresh
// endpoint. Concurrent demands share a single in-flight call.
type Refresher struct {
	client  *httpx.Client
	tokens  *TokenStore
	path    string
	log     logger.Logger
	metrics *Metrics
	group   singleflight.Group
}

// NewRefresher builds a refresher. client must not route through a Gateway
// and should carry the cookie jar holding the refresh cookie.
func NewRefresher(client *httpx.Client, tokens *TokenStore, opts RefresherOptions) *Refresher {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultRefreshPath
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Refresher{
		client:  client,
		tokens:  tokens,
		path:    path,
		log:     log,
		metrics: opts.Metrics,
	}
}

// Path returns the refresh endpoint path.
func (r *Refresher) Path() string { return r.path }

// Refresh returns a freshly issued token. If a refresh is already running
// the caller waits for that one instead of starting another; the in-flight
// slot frees up once it settles either way. The network call is detached
// from ctx so one caller giving up does not fail the others.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan(r.path, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.metrics.shared()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) fetch(ctx context.Context) (string, error) {
	resp, err := r.client.Post(ctx, r.path, nil, nil)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) {
			err = fmt.Errorf("%w: status %d", ErrRefreshFailed, statusErr.Code)
		} else {
			err = fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		r.metrics.refresh(false)
		r.log.Debug("token refresh failed", "error", err)
		return "", err
	}

	token, err := extractToken(resp.Body())
	if err != nil {
		r.metrics.refresh(false)
		r.log.Debug("token refresh failed", "error", err)
		return "", err
	}

	if err := r.tokens.Set(ctx, token); err != nil {
		r.log.Warn("refreshed token not persisted", "error", err)
	}
	r.metrics.refresh(true)
	return token, nil
}

// extractToken accepts {token}, {accessToken}, {data:{token}} and
// {data:{accessToken}}; the first non-empty string wins. An explicit
// "succeeded": false is a failure even when a token is present.
func extractToken(body []byte) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err)
	}
	if succeeded, isBool := payload["succeeded"].(bool); isBool && !succeeded {
		return "", fmt.Errorf("%w: backend reported failure", ErrRefreshFailed)
	}

	candidates := []string{stringField(payload, "token"), stringField(payload, "accessToken")}
	if data, ok := payload["data"].(map[string]any); ok {
		candidates = append(candidates, stringField(data, "token"), stringField(data, "accessToken"))
	}
	for _, c := range candidates {
		if c != "" {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: no token in response", ErrRefreshFailed)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
