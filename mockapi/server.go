// Package mockapi is an in-process stand-in for the console backend. It issues
// short-lived HS256 access tokens, keeps refresh sessions behind an HttpOnly
// cookie, and serves the trip endpoints behind bearer authentication. Test
// knobs allow forcing refresh failures and spurious 401s.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/adeilh/tripdesk/cache"
	"github.com/adeilh/tripdesk/cache/memory"
	"github.com/adeilh/tripdesk/httpx"
	"github.com/adeilh/tripdesk/logger"
)

const (
	RefreshCookie     = "refreshToken"
	DefaultTokenTTL   = 15 * time.Minute
	DefaultSessionTTL = 7 * 24 * time.Hour

	sessionPrefix = "session:"
	adminRole     = "Admin"
)

type Options struct {
	Address string
	Secret  []byte
	// Users maps user names to passwords or bcrypt hashes. Defaults to
	// admin/admin.
	Users map[string]string
	// PasswordCost is the bcrypt cost for plaintext entries in Users.
	PasswordCost int
	TokenTTL   time.Duration
	SessionTTL time.Duration
	// Sessions holds refresh sessions. Defaults to an in-memory store.
	Sessions cache.Store
	Now      func() time.Time
	Logger   logger.Logger
	// AllowOrigins enables credentialed CORS for pages served elsewhere.
	AllowOrigins []string
	// AccessLog adds echo's request logger.
	AccessLog bool
}

// Hit is one request seen by the backend.
type Hit struct {
	Method        string
	Path          string
	Authorization string
	Status        int
}

type Backend struct {
	issuer     *issuer
	accounts   *accounts
	sessions   cache.Store
	sessionTTL time.Duration
	server     *httpx.Server
	log        logger.Logger
	data       *dataset

	mu          sync.Mutex
	tokenTTL    time.Duration
	failRefresh bool
	reject      int
	refreshes   int
	hits        []Hit
}

func New(opts Options) (*Backend, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("mockapi: signing secret is required")
	}
	b := &Backend{
		issuer:     &issuer{secret: append([]byte(nil), opts.Secret...), issuer: "tripdesk-mock", now: opts.Now},
		sessions:   opts.Sessions,
		sessionTTL: opts.SessionTTL,
		log:        opts.Logger,
		tokenTTL:   opts.TokenTTL,
		data:       seed(),
	}
	if b.issuer.now == nil {
		b.issuer.now = time.Now
	}
	users := opts.Users
	if len(users) == 0 {
		users = map[string]string{"admin": "admin"}
	}
	accts, err := newAccounts(users, opts.PasswordCost)
	if err != nil {
		return nil, err
	}
	b.accounts = accts
	if b.sessions == nil {
		b.sessions = memory.NewStore()
	}
	if b.sessionTTL <= 0 {
		b.sessionTTL = DefaultSessionTTL
	}
	if b.tokenTTL <= 0 {
		b.tokenTTL = DefaultTokenTTL
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}

	bearer, err := NewBearerMiddleware(b.issuer)
	if err != nil {
		return nil, err
	}

	serverOpts := []httpx.ServerOption{
		httpx.WithAddress(opts.Address),
		httpx.WithMiddlewares(httpx.RecoverMiddleware(), b.recordHits()),
		httpx.WithErrorHandler(envelopeErrors),
	}
	if opts.AccessLog {
		serverOpts = append(serverOpts, httpx.AppendMiddlewares(httpx.LoggerMiddleware()))
	}
	if len(opts.AllowOrigins) > 0 {
		serverOpts = append(serverOpts, httpx.WithCORS(&middleware.CORSConfig{
			AllowOrigins:     opts.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}
	b.server = httpx.NewServer(serverOpts...)
	b.server.RegisterRoutes(func(e *httpx.Echo) {
		httpx.RegisterRoutes(e,
			httpx.Route{Method: http.MethodPost, Path: "/api/Auth/Login", Handler: b.login},
			httpx.Route{Method: http.MethodPost, Path: "/api/Auth/GetToken", Handler: b.getToken},
			httpx.Route{Method: http.MethodPost, Path: "/api/Auth/LogOut", Handler: b.logout},
		)

		api := httpx.NewRouter(e, "/api", httpx.WrapHTTPMiddleware(bearer.Handler), b.rejectKnob())
		b.data.routes(api)
	})
	return b, nil
}

// Handler exposes the backend for httptest servers.
func (b *Backend) Handler() http.Handler { return b.server.Handler() }

// Start serves on the configured address until ctx is done.
func (b *Backend) Start(ctx context.Context) error {
	return b.server.Start(ctx, httpx.WithShutdownTimeout(2*time.Second))
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (b *Backend) SetTokenTTL(d time.Duration) {
	b.mu.Lock()
	b.tokenTTL = d
	b.mu.Unlock()
}

// FailRefresh makes the refresh endpoint answer 401 while set.
func (b *Backend) FailRefresh(fail bool) {
	b.mu.Lock()
	b.failRefresh = fail
	b.mu.Unlock()
}

// RejectNext answers the next n authenticated API requests with 401
// regardless of their token.
func (b *Backend) RejectNext(n int) {
	b.mu.Lock()
	b.reject = n
	b.mu.Unlock()
}

func (b *Backend) RefreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

func (b *Backend) Hits() []Hit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Hit(nil), b.hits...)
}

// IssueToken mints an access token for user with the current TTL.
func (b *Backend) IssueToken(user string) (string, error) {
	b.mu.Lock()
	ttl := b.tokenTTL
	b.mu.Unlock()
	return b.issuer.Issue(user, adminRole, ttl)
}

// OpenSession creates a refresh session and returns the cookie value.
func (b *Backend) OpenSession(ctx context.Context, user string) (string, error) {
	id := uuid.NewString()
	if err := b.sessions.Set(ctx, sessionPrefix+id, []byte(user), b.sessionTTL); err != nil {
		return "", err
	}
	return id, nil
}

type credentials struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func (b *Backend) login(c httpx.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return fail(c, httpx.StatusBadRequest, "malformed credentials")
	}
	in.UserName = strings.TrimSpace(in.UserName)
	if err := b.accounts.Verify(in.UserName, in.Password); err != nil {
		return fail(c, httpx.StatusUnauthorized, "invalid user name or password")
	}

	ctx := c.Request().Context()
	id, err := b.OpenSession(ctx, in.UserName)
	if err != nil {
		return err
	}
	token, err := b.IssueToken(in.UserName)
	if err != nil {
		return err
	}
	c.SetCookie(b.refreshCookie(id, int(b.sessionTTL.Seconds())))
	b.log.Info("login", "user", in.UserName)
	return ok200(c, map[string]any{"accessToken": token, "userName": in.UserName, "role": adminRole})
}

func (b *Backend) getToken(c httpx.Context) error {
	b.mu.Lock()
	b.refreshes++
	failing := b.failRefresh
	b.mu.Unlock()
	if failing {
		return fail(c, httpx.StatusUnauthorized, "refresh disabled")
	}

	id, err := CookieTokenExtractor(RefreshCookie)(c.Request())
	if err != nil {
		return fail(c, httpx.StatusUnauthorized, err.Error())
	}
	user, err := b.sessions.Get(c.Request().Context(), sessionPrefix+id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return fail(c, httpx.StatusUnauthorized, "session expired")
		}
		return err
	}
	token, err := b.IssueToken(string(user))
	if err != nil {
		return err
	}
	return ok200(c, map[string]any{"accessToken": token})
}

func (b *Backend) logout(c httpx.Context) error {
	if id, err := CookieTokenExtractor(RefreshCookie)(c.Request()); err == nil {
		if err := b.sessions.Delete(c.Request().Context(), sessionPrefix+id); err != nil && !errors.Is(err, cache.ErrNotFound) {
			b.log.Warn("session delete failed", "error", err)
		}
	}
	c.SetCookie(b.refreshCookie("", -1))
	return ok200(c, nil)
}

func (b *Backend) refreshCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (b *Backend) recordHits() httpx.MiddlewareFunc {
	return func(next httpx.HandlerFunc) httpx.HandlerFunc {
		return func(c httpx.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			req := c.Request()
			b.mu.Lock()
			b.hits = append(b.hits, Hit{
				Method:        req.Method,
				Path:          req.URL.RequestURI(),
				Authorization: req.Header.Get("Authorization"),
				Status:        status,
			})
			b.mu.Unlock()
			return err
		}
	}
}

func (b *Backend) rejectKnob() httpx.MiddlewareFunc {
	return func(next httpx.HandlerFunc) httpx.HandlerFunc {
		return func(c httpx.Context) error {
			b.mu.Lock()
			reject := b.reject > 0
			if reject {
				b.reject--
			}
			b.mu.Unlock()
			if reject {
				return fail(c, httpx.StatusUnauthorized, "token rejected")
			}
			return next(c)
		}
	}
}

type envelope struct {
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func ok200(c httpx.Context, data any) error {
	return c.JSON(httpx.StatusOK, envelope{Succeeded: true, Data: data})
}

func fail(c httpx.Context, status int, msg string) error {
	return c.JSON(status, envelope{Succeeded: false, Message: msg})
}

// envelopeErrors renders errors returned by handlers in the envelope shape.
func envelopeErrors(err error, c httpx.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := httpx.StatusInternalError, "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	_ = fail(c, code, msg)
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Succeeded: ok, Message: msg, Data: data})
}
