package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adeilh/tripdesk/logger"
)

type GatewayOptions struct {
	APIPrefix string
	// Transport sends the actual requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Skew      time.Duration
	Now       func() time.Time
	Logger    logger.Logger
	Metrics   *Metrics
}

// Gateway is the outbound request function for every same-origin API call.
// It implements http.RoundTripper so it can back an http.Client or a resty
// client unchanged, and exposes Fetch for fetch-shaped callers.
type Gateway struct {
	page      *Page
	tokens    *TokenStore
	refresher *Refresher
	base      http.RoundTripper
	prefix    string
	skew      time.Duration
	now       func() time.Time
	log       logger.Logger
	metrics   *Metrics
}

func NewGateway(page *Page, tokens *TokenStore, refresher *Refresher, opts GatewayOptions) *Gateway {
	g := &Gateway{
		page:      page,
		tokens:    tokens,
		refresher: refresher,
		base:      opts.Transport,
		prefix:    strings.TrimSpace(opts.APIPrefix),
		skew:      opts.Skew,
		now:       opts.Now,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
	if g.base == nil {
		g.base = http.DefaultTransport
	}
	if g.prefix == "" {
		g.prefix = DefaultAPIPrefix
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

// RoundTrip decorates same-origin API requests with a bearer token,
// refreshes ahead of expiry, and on a 401 refreshes and reissues the request
// exactly once. When the refresh itself fails it clears storage, navigates
// to login and hands back the original 401 response without an error.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	doAuth := g.needsAuth(req.URL)
	g.metrics.request(doAuth)
	if !doAuth {
		return g.base.RoundTrip(req)
	}

	ctx := req.Context()
	getBody, err := rewindableBody(req)
	if err != nil {
		return nil, fmt.Errorf("auth: buffer request body: %w", err)
	}

	g.ensureFresh(ctx)
	token, _ := g.tokens.Get(ctx)

	resp, err := g.send(req, getBody, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	fresh, err := g.refresher.Refresh(ctx)
	if err != nil {
		// Only a refusal from the refresh endpoint ends the session; a caller
		// that stopped waiting leaves storage alone.
		if !errors.Is(err, ErrRefreshFailed) {
			g.log.Debug("refresh after 401 abandoned", "url", req.URL.Redacted(), "error", err)
			return resp, nil
		}
		g.log.Info("refresh after 401 failed, redirecting to login", "url", req.URL.Redacted(), "error", err)
		g.bounce(ctx)
		return resp, nil
	}

	g.metrics.retry()
	retried, err := g.send(req, getBody, fresh)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	drain(resp)
	return retried, nil
}

// needsAuth is true for same-origin requests under the API prefix, except
// the refresh endpoint itself.
func (g *Gateway) needsAuth(u *url.URL) bool {
	if u == nil || !g.page.SameOrigin(u) {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, g.prefix) && !strings.HasPrefix(path, g.refresher.Path())
}

func (g *Gateway) ensureFresh(ctx context.Context) {
	if token, ok := g.tokens.Get(ctx); ok && !IsExpiredOrNear(token, g.skew, g.now()) {
		return
	}
	if _, err := g.refresher.Refresh(ctx); err != nil {
		g.log.Debug("pre-emptive refresh failed", "error", err)
	}
}

// send issues a copy of req carrying a fresh body and, when available, the
// bearer token. req itself is never modified.
func (g *Gateway) send(req *http.Request, getBody func() (io.ReadCloser, error), token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return g.base.RoundTrip(out)
}

func (g *Gateway) bounce(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := g.tokens.Clear(ctx); err != nil {
		g.log.Warn("token storage not fully cleared", "error", err)
	}
	g.metrics.redirect("refresh_failed")
	if err := g.page.Replace(ctx, g.page.LoginURLWithNext()); err != nil {
		g.log.Error("login redirect failed", "error", err)
	}
}

// Init carries the optional parts of a Fetch call.
//
// Body may be nil, []byte, string or io.Reader (sent verbatim), url.Values
// (form encoded), *Multipart (sent verbatim with its boundary), or any other
// value, which is JSON encoded.
type Init struct {
	Header http.Header
	Body   any
}

// Fetch resolves rawURL against the page origin, encodes init.Body and sends
// the request through RoundTrip.
func (g *Gateway) Fetch(ctx context.Context, method, rawURL string, init Init) (*http.Response, error) {
	target, err := g.page.Resolve(rawURL)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve %q: %w", rawURL, err)
	}
	body, contentType, err := encodeBody(init.Body)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if init.Header != nil {
		req.Header = init.Header.Clone()
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return g.RoundTrip(req)
}

// Multipart is an already encoded multipart/form-data body.
type Multipart struct {
	ContentType string
	Data        []byte
}

// MultipartFile is one file part for NewMultipart.
type MultipartFile struct {
	Field    string
	FileName string
	Content  []byte
}

// NewMultipart encodes fields and files as multipart/form-data.
func NewMultipart(fields url.Values, files ...MultipartFile) (*Multipart, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for name, values := range fields {
		for _, v := range values {
			if err := w.WriteField(name, v); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.FileName)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Multipart{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

// encodeBody only proposes application/json for structured values; binary,
// form and multipart payloads keep their bytes and their own content type.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case *Multipart:
		if b == nil {
			return nil, "", nil
		}
		return bytes.NewReader(b.Data), b.ContentType, nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded;charset=UTF-8", nil
	case io.Reader:
		return b, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("auth: encode json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// rewindableBody returns a function yielding fresh copies of the request
// body, buffering it once when the caller supplied no GetBody. The original
// body is always closed, as RoundTripper requires.
func rewindableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
