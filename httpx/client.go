package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestClient exposes a minimal subset of resty.Client for customization without importing resty.
type RestClient interface {
	SetHeader(key, value string) RestClient
	SetHeaders(headers map[string]string) RestClient
	SetTimeout(d time.Duration) RestClient
}

type restyAdapter struct{ c *resty.Client }

func (r restyAdapter) SetHeader(key, value string) RestClient {
	r.c.SetHeader(key, value)
	return r
}

func (r restyAdapter) SetHeaders(headers map[string]string) RestClient {
	r.c.SetHeaders(headers)
	return r
}

func (r restyAdapter) SetTimeout(d time.Duration) RestClient {
	r.c.SetTimeout(d)
	return r
}

// StatusError is returned for non-2xx responses; the response is returned
// alongside it so callers can still inspect the status and body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

type Client struct {
	resty *resty.Client
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New()
	if cfg.Transport != nil {
		rc.SetTransport(cfg.Transport)
	}
	if cfg.CookieJar != nil {
		rc.SetCookieJar(cfg.CookieJar)
	}
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	if cfg.RestyConfig != nil {
		cfg.RestyConfig(restyAdapter{rc})
	}

	return &Client{resty: rc}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.resty.BaseURL }

type RequestOption func(*resty.Request)

// WithRequestHeaders sets headers on the underlying Resty request.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(headers) == 0 {
			return
		}
		r.SetHeaders(headers)
	}
}

// WithQuery sets query parameters on the request.
func WithQuery(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		if len(params) == 0 {
			return
		}
		r.SetQueryParams(params)
	}
}

// WithBearer injects an Authorization header using the provided bearer token.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		token = strings.TrimSpace(token)
		if token != "" {
			r.SetHeader("Authorization", "Bearer "+token)
		}
	}
}

// WithFormFields adds multipart form fields. Repeated values are sent as
// repeated parts.
func WithFormFields(fields map[string][]string) RequestOption {
	return func(r *resty.Request) {
		if len(fields) == 0 {
			return
		}
		for name, values := range fields {
			for _, v := range values {
				r.SetMultipartField(name, "", "text/plain", strings.NewReader(v))
			}
		}
	}
}

// WithFile attaches a file part to a multipart request.
func WithFile(param, fileName string, content io.Reader) RequestOption {
	return func(r *resty.Request) {
		if content == nil {
			return
		}
		r.SetFileReader(param, fileName, content)
	}
}

func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, resty.MethodGet, path, nil, result, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, resty.MethodPost, path, body, result, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, resty.MethodPut, path, body, result, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	return c.Do(ctx, resty.MethodDelete, path, body, result, opts...)
}

// Do executes an arbitrary request. Structured bodies are JSON encoded by
// resty; byte slices and readers are sent verbatim.
func (c *Client) Do(ctx context.Context, method, path string, body any, result any, opts ...RequestOption) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return resp, nil
}

// HTTPClient exposes the underlying *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.resty.GetClient()
}
