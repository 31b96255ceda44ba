package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeilh/tripdesk/cache"
	"github.com/adeilh/tripdesk/cache/memory"
	"github.com/adeilh/tripdesk/httpx"
	"github.com/adeilh/tripdesk/logger"
)

var jsonAccept = map[string]string{"Accept": "application/json"}

// ClientConfig wires the dependencies required for Client. Only Origin is
// mandatory.
type ClientConfig struct {
	// Origin is the scheme and host of the console, e.g. "https://admin.example".
	Origin      string
	APIPrefix   string
	RefreshPath string
	LogoutPath  string

	LoginRedirect  string
	LoginFallback  string
	LogoutRedirect string
	// Location is the current page path and query, used for the next parameter.
	Location string

	Skew    time.Duration
	Timeout time.Duration

	// Store persists the token. Defaults to an in-memory store.
	Store cache.Store
	// Bus carries storage events between instances. When nil and Store also
	// implements cache.Bus, Store is used.
	Bus cache.Bus
	// InstanceID tags this instance's storage events; random when empty.
	InstanceID string

	// Transport is the network transport underneath the gateway.
	Transport  http.RoundTripper
	Navigator  Navigator
	Logger     logger.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Client bundles the token store, refresher, gateway, guard and cross-tab
// listener of one page behind a single façade.
type Client struct {
	page      *Page
	tokens    *TokenStore
	refresher *Refresher
	gateway   *Gateway
	session   *Session
	guard     *Guard
	crossTab  *CrossTab

	raw        *httpx.Client
	jar        http.CookieJar
	timeout    time.Duration
	logoutPath string
	log        logger.Logger
	metrics    *Metrics
	unsub      func()
}

// NewClient builds a Client with the provided configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	page, err := NewPage(cfg.Origin, PageOptions{
		Location:       cfg.Location,
		LoginRedirect:  cfg.LoginRedirect,
		LoginFallback:  cfg.LoginFallback,
		LogoutRedirect: cfg.LogoutRedirect,
		Navigator:      cfg.Navigator,
	})
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("auth: cookie jar: %w", err)
	}

	store := cfg.Store
	if store == nil {
		store = memory.NewStore()
	}
	bus := cfg.Bus
	if bus == nil {
		if b, ok := store.(cache.Bus); ok {
			bus = b
		}
	}

	metrics := NewMetrics(cfg.Registerer)
	tokens := NewTokenStore(store, TokenStoreOptions{Bus: bus, Origin: cfg.InstanceID, Logger: log})

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	origin := page.Origin().String()
	raw := httpx.NewClient(
		httpx.WithBaseURL(origin),
		httpx.WithHeaders(jsonAccept),
		httpx.WithTransport(base),
		httpx.WithCookieJar(jar),
		httpx.WithClientTimeout(cfg.Timeout),
	)

	refresher := NewRefresher(raw, tokens, RefresherOptions{
		Path:    cfg.RefreshPath,
		Logger:  log,
		Metrics: metrics,
	})
	gateway := NewGateway(page, tokens, refresher, GatewayOptions{
		APIPrefix: cfg.APIPrefix,
		Transport: base,
		Skew:      cfg.Skew,
		Now:       cfg.Now,
		Logger:    log,
		Metrics:   metrics,
	})

	session := NewSession()
	guard := NewGuard(session, tokens, refresher, page, GuardOptions{
		Skew:    cfg.Skew,
		Now:     cfg.Now,
		Logger:  log,
		Metrics: metrics,
	})

	logoutPath := strings.TrimSpace(cfg.LogoutPath)
	if logoutPath == "" {
		logoutPath = DefaultLogoutPath
	}

	return &Client{
		page:       page,
		tokens:     tokens,
		refresher:  refresher,
		gateway:    gateway,
		session:    session,
		guard:      guard,
		crossTab:   NewCrossTab(tokens, page, log, metrics),
		raw:        raw,
		jar:        jar,
		timeout:    cfg.Timeout,
		logoutPath: logoutPath,
		log:        log,
		metrics:    metrics,
		unsub:      tokens.Subscribe(session.track),
	}, nil
}

func (c *Client) Page() *Page { return c.page }
func (c *Client) Tokens() *TokenStore { return c.tokens }
func (c *Client) Refresher() *Refresher { return c.refresher }
func (c *Client) Gateway() *Gateway { return c.gateway }
func (c *Client) Session() *Session { return c.session }
func (c *Client) CookieJar() http.CookieJar { return c.jar }

// Bootstrap runs the session guard. See Guard.Run.
func (c *Client) Bootstrap(ctx context.Context) (string, error) {
	return c.guard.Run(ctx)
}

// WatchCrossTab blocks running the cross-instance logout listener.
func (c *Client) WatchCrossTab(ctx context.Context) error {
	return c.crossTab.Run(ctx)
}

// Fetch sends a request through the gateway.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, init Init) (*http.Response, error) {
	return c.gateway.Fetch(ctx, method, rawURL, init)
}

// HTTPClient returns an *http.Client whose transport is the gateway.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.gateway, Jar: c.jar, Timeout: c.timeout}
}

// API returns a resty backed client rooted at the page origin that routes
// every request through the gateway.
func (c *Client) API(opts ...httpx.ClientOption) *httpx.Client {
	base := []httpx.ClientOption{
		httpx.WithBaseURL(c.page.Origin().String()),
		httpx.WithHeaders(jsonAccept),
		httpx.WithClientTimeout(c.timeout),
	}
	base = append(base, opts...)
	base = append(base, httpx.WithTransport(c.gateway), httpx.WithCookieJar(c.jar))
	return httpx.NewClient(base...)
}

// Logout tells the backend to drop the refresh cookie, clears local storage
// and navigates to the logout target. Backend failures are logged only.
func (c *Client) Logout(ctx context.Context) error {
	token, _ := c.tokens.Get(ctx)
	if _, err := c.raw.Post(ctx, c.logoutPath, nil, nil, httpx.WithBearer(token)); err != nil {
		c.log.Warn("logout request failed", "error", err)
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.tokens.Clear(ctx); err != nil {
		c.log.Warn("token storage not fully cleared", "error", err)
	}
	c.metrics.redirect("logout")
	return c.page.Replace(ctx, c.page.LogoutTarget())
}

// Close detaches the session from token updates.
func (c *Client) Close() {
	if c.unsub != nil {
		c.unsub()
	}
}
