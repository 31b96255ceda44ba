package mockapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrTokenNotFound     = errors.New("mockapi: token not found")
	ErrTokenInvalidInput = errors.New("mockapi: invalid token source")
)

// TokenParser validates a raw access token.
type TokenParser interface {
	ParseToken(ctx context.Context, raw string) (*Claims, error)
}

type TokenExtractor func(*http.Request) (string, error)

type MiddlewareSkipper func(*http.Request) bool

type MiddlewareErrorHandler func(http.ResponseWriter, *http.Request, error)

type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	extractor    TokenExtractor
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

func WithTokenExtractor(extractor TokenExtractor) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if extractor != nil {
			cfg.extractor = extractor
		}
	}
}

func WithSkipper(skipper MiddlewareSkipper) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if skipper != nil {
			cfg.skipper = skipper
		}
	}
}

func WithErrorHandler(handler MiddlewareErrorHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.errorHandler = handler
		}
	}
}

// BearerMiddleware rejects requests without a valid bearer token and stores
// the parsed claims on the request context.
type BearerMiddleware struct {
	parser       TokenParser
	extractor    TokenExtractor
	skipper      MiddlewareSkipper
	errorHandler MiddlewareErrorHandler
}

type claimsContextKey struct{}

func NewBearerMiddleware(parser TokenParser, opts ...MiddlewareOption) (*BearerMiddleware, error) {
	if parser == nil {
		return nil, errors.New("mockapi: middleware requires a token parser")
	}
	cfg := middlewareConfig{
		extractor:    BearerTokenExtractor(),
		skipper:      func(*http.Request) bool { return false },
		errorHandler: unauthorized,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &BearerMiddleware{
		parser:       parser,
		extractor:    cfg.extractor,
		skipper:      cfg.skipper,
		errorHandler: cfg.errorHandler,
	}, nil
}

func (m *BearerMiddleware) Handler(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := m.extractor(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		claims, err := m.parser.ParseToken(r.Context(), raw)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}

func BearerTokenExtractor() TokenExtractor {
	return func(r *http.Request) (string, error) {
		header := r.Header.Get("Authorization")
		if header == "" {
			return "", ErrTokenNotFound
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrTokenInvalidInput
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			return "", ErrTokenInvalidInput
		}
		return token, nil
	}
}

func CookieTokenExtractor(name string) TokenExtractor {
	name = strings.TrimSpace(name)
	return func(r *http.Request) (string, error) {
		if name == "" {
			return "", ErrTokenInvalidInput
		}
		cookie, err := r.Cookie(name)
		if err != nil {
			if errors.Is(err, http.ErrNoCookie) {
				return "", ErrTokenNotFound
			}
			return "", err
		}
		value := strings.TrimSpace(cookie.Value)
		if value == "" {
			return "", ErrTokenInvalidInput
		}
		return value, nil
	}
}

func unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	writeEnvelope(w, http.StatusUnauthorized, false, err.Error(), nil)
}
