package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeilh/tripdesk/cache"
	"github.com/adeilh/tripdesk/cache/memory"
	"github.com/adeilh/tripdesk/httpx"
)

const testLocation = "/trips.html?page=2"

var testSecret = []byte("tripdesk-test-secret")

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":      exp.Unix(),
		"role":     "Admin",
		"userName": "ops",
	})
	raw, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return raw
}

// recordingNavigator keeps every navigation target.
type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
	notify  chan string
}

func newRecordingNavigator() *recordingNavigator {
	return &recordingNavigator{notify: make(chan string, 16)}
}

func (n *recordingNavigator) Replace(_ context.Context, target string) error {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
	select {
	case n.notify <- target:
	default:
	}
	return nil
}

func (n *recordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type recordedRequest struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Cookie        string
	Body          []byte
}

// fakeBackend serves the refresh and logout endpoints plus an API handler,
// recording every hit in arrival order.
type fakeBackend struct {
	srv *httpx.TestServer

	mu       sync.Mutex
	log      []recordedRequest
	refresh  func(w http.ResponseWriter, r *http.Request)
	api      func(w http.ResponseWriter, r *http.Request)
	refreshN int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.refresh = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"succeeded": false})
	}
	b.api = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}
	b.srv = httpx.NewTestServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	rec := recordedRequest{
		Method:        r.Method,
		Path:          r.URL.RequestURI(),
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Cookie:        r.Header.Get("Cookie"),
		Body:          body,
	}

	b.mu.Lock()
	b.log = append(b.log, rec)
	if r.URL.Path == DefaultRefreshPath {
		b.refreshN++
	}
	refresh, api := b.refresh, b.api
	b.mu.Unlock()

	switch {
	case r.URL.Path == DefaultRefreshPath:
		refresh(w, r)
	case r.URL.Path == DefaultLogoutPath:
		w.WriteHeader(http.StatusOK)
	default:
		api(w, r)
	}
}

func (b *fakeBackend) setRefresh(fn func(w http.ResponseWriter, r *http.Request)) {
	b.mu.Lock()
	b.refresh = fn
	b.mu.Unlock()
}

func (b *fakeBackend) setAPI(fn func(w http.ResponseWriter, r *http.Request)) {
	b.mu.Lock()
	b.api = fn
	b.mu.Unlock()
}

// refreshWith makes the refresh endpoint answer 200 with payload.
func (b *fakeBackend) refreshWith(payload any) {
	b.setRefresh(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, payload)
	})
}

func (b *fakeBackend) refreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshN
}

func (b *fakeBackend) requests() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.log...)
}

func (b *fakeBackend) apiRequests() []recordedRequest {
	var out []recordedRequest
	for _, r := range b.requests() {
		if strings.HasPrefix(r.Path, DefaultAPIPrefix) && !strings.HasPrefix(r.Path, "/api/Auth/") {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type testClientOptions struct {
	store         cache.Store
	bus           cache.Bus
	instanceID    string
	loginRedirect string
	registerer    prometheus.Registerer
}

func newTestClient(t *testing.T, b *fakeBackend, nav Navigator, opts testClientOptions) *Client {
	t.Helper()
	store := opts.store
	if store == nil {
		store = memory.NewStore()
	}
	client, err := NewClient(ClientConfig{
		Origin:        b.srv.BaseURL(),
		Location:      testLocation,
		LoginRedirect: opts.loginRedirect,
		Store:         store,
		Bus:           opts.bus,
		InstanceID:    opts.instanceID,
		Navigator:     nav,
		Registerer:    opts.registerer,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func storedValue(t *testing.T, store cache.Store, key string) (string, bool) {
	t.Helper()
	v, err := store.Get(context.Background(), key)
	if err != nil {
		return "", false
	}
	return string(v), true
}

// holdRefresh makes the refresh endpoint wait for release before answering
// with token. Release is also called on cleanup so the server can close.
func (b *fakeBackend) holdRefresh(t *testing.T, token string) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	b.setRefresh(func(w http.ResponseWriter, _ *http.Request) {
		<-gate
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
	})
	return release
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
