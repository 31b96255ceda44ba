package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adeilh/tripdesk/cache/memory"
	"github.com/adeilh/tripdesk/httpx"
)

func TestGatewayBootstrapsEmptyStoreThroughRefresh(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"data": map[string]any{"accessToken": "abc"}})
	store := memory.NewStore()
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	api := backend.apiRequests()
	if len(api) != 1 || api[0].Authorization != "Bearer abc" {
		t.Fatalf("api requests = %+v, want one with Bearer abc", api)
	}
	for _, key := range []string{KeyAccessToken, KeyToken, KeyJWT} {
		if v, _ := storedValue(t, store, key); v != "abc" {
			t.Fatalf("store[%s] = %q, want abc", key, v)
		}
	}
}

func TestGatewayRefreshesExpiredTokenBeforeRequest(t *testing.T) {
	backend := newFakeBackend(t)
	fresh := makeToken(t, time.Now().Add(time.Hour))
	backend.refreshWith(map[string]any{"token": fresh})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(-time.Minute))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetTripAdmin/7", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()

	reqs := backend.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Path != DefaultRefreshPath {
		t.Fatalf("first request = %s, want refresh", reqs[0].Path)
	}
	if reqs[1].Authorization != "Bearer "+fresh {
		t.Fatalf("api Authorization = %q, want fresh token", reqs[1].Authorization)
	}
}

func TestGatewayNearExpiryCountsAsExpired(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"token": makeToken(t, time.Now().Add(time.Hour))})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyToken, []byte(makeToken(t, time.Now().Add(20*time.Second))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestGatewayRetriesOnceAfter401(t *testing.T) {
	backend := newFakeBackend(t)
	stale := makeToken(t, time.Now().Add(time.Hour))
	fresh := makeToken(t, time.Now().Add(2*time.Hour))
	backend.refreshWith(map[string]any{"accessToken": fresh})
	backend.setAPI(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(stale), 0)
	nav := newRecordingNavigator()
	client := newTestClient(t, backend, nav, testClientOptions{store: store})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := len(backend.apiRequests()); got != 2 {
		t.Fatalf("api requests = %d, want 2", got)
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if len(nav.Targets()) != 0 {
		t.Fatalf("navigated to %v", nav.Targets())
	}
}

func TestGatewayReturnsSecond401AsIs(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"token": makeToken(t, time.Now().Add(time.Hour))})
	backend.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "nope"})
	})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
	nav := newRecordingNavigator()
	client := newTestClient(t, backend, nav, testClientOptions{store: store})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "nope") {
		t.Fatalf("body = %q, want the second response", body)
	}
	if got := len(backend.apiRequests()); got != 2 {
		t.Fatalf("api requests = %d, want 2", got)
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if len(nav.Targets()) != 0 {
		t.Fatalf("navigated to %v", nav.Targets())
	}
}

func TestGatewayRefreshFailureClearsAndRedirects(t *testing.T) {
	tests := []struct {
		name          string
		loginRedirect string
		want          string
	}{
		{name: "fallback", want: "/login.html?next=%2Ftrips.html%3Fpage%3D2"},
		{name: "override", loginRedirect: "/admin/login.html", want: "/admin/login.html?next=%2Ftrips.html%3Fpage%3D2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t)
			backend.setAPI(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})

			store := memory.NewStore()
			ctx := context.Background()
			_ = store.Set(ctx, KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
			_ = store.Set(ctx, KeyRefreshToken, []byte("legacy"), 0)
			nav := newRecordingNavigator()
			client := newTestClient(t, backend, nav, testClientOptions{store: store, loginRedirect: tt.loginRedirect})

			resp, err := client.Fetch(ctx, http.MethodDelete, "/api/Trip/DeleteTrip/3", Init{})
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want original 401", resp.StatusCode)
			}
			if got := len(backend.apiRequests()); got != 1 {
				t.Fatalf("api requests = %d, want 1", got)
			}
			for _, key := range clearKeys() {
				if _, ok := storedValue(t, store, key); ok {
					t.Fatalf("store[%s] present after failed refresh", key)
				}
			}
			targets := nav.Targets()
			if len(targets) != 1 || targets[0] != tt.want {
				t.Fatalf("navigation = %v, want [%s]", targets, tt.want)
			}
		})
	}
}

func TestGatewayKeepsMultipartBodyIntact(t *testing.T) {
	backend := newFakeBackend(t)
	fresh := makeToken(t, time.Now().Add(2*time.Hour))
	backend.refreshWith(map[string]any{"token": fresh})

	var (
		mu     sync.Mutex
		bodies [][]byte
		types  []string
	)
	backend.setAPI(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		types = append(types, r.Header.Get("Content-Type"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	mp, err := NewMultipart(url.Values{"MainImage": {"true"}}, MultipartFile{Field: "Images", FileName: "a.png", Content: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("NewMultipart() error = %v", err)
	}

	resp, err := client.Fetch(context.Background(), http.MethodPost, "/api/Trip/AddImages/5", Init{Body: mp})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("api requests = %d, want 2", len(bodies))
	}
	for i := range bodies {
		if types[i] != mp.ContentType {
			t.Fatalf("attempt %d Content-Type = %q, want %q", i, types[i], mp.ContentType)
		}
		if strings.Contains(types[i], "json") {
			t.Fatalf("attempt %d got a JSON content type", i)
		}
		if !bytes.Equal(bodies[i], mp.Data) {
			t.Fatalf("attempt %d body differs from the multipart payload", i)
		}
	}
}

func TestGatewayFetchContentTypes(t *testing.T) {
	tests := []struct {
		name   string
		init   Init
		want   string
		wantJS string
	}{
		{name: "json", init: Init{Body: map[string]any{"name": "Petra"}}, want: "application/json", wantJS: `{"name":"Petra"}`},
		{name: "caller header wins", init: Init{Header: http.Header{"Content-Type": {"text/plain"}}, Body: map[string]int{"n": 1}}, want: "text/plain"},
		{name: "form", init: Init{Body: url.Values{"a": {"1"}}}, want: "application/x-www-form-urlencoded;charset=UTF-8"},
		{name: "bytes", init: Init{Body: []byte("raw")}, want: ""},
		{name: "no body", init: Init{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t)
			store := memory.NewStore()
			_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
			client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

			resp, err := client.Fetch(context.Background(), http.MethodPost, "/api/Trip/AddTrip", tt.init)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			resp.Body.Close()

			api := backend.apiRequests()
			if len(api) != 1 {
				t.Fatalf("api requests = %d, want 1", len(api))
			}
			if api[0].ContentType != tt.want {
				t.Fatalf("Content-Type = %q, want %q", api[0].ContentType, tt.want)
			}
			if tt.wantJS != "" && strings.TrimSpace(string(api[0].Body)) != tt.wantJS {
				t.Fatalf("body = %s, want %s", api[0].Body, tt.wantJS)
			}
		})
	}
}

func TestGatewaySkipsAuthOutsideAPIScope(t *testing.T) {
	backend := newFakeBackend(t)
	other := newFakeBackend(t)
	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	for _, target := range []string{
		other.srv.BaseURL() + "/api/Trip/GetAllTrips",
		"/assets/app.js",
	} {
		resp, err := client.Fetch(context.Background(), http.MethodGet, target, Init{})
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", target, err)
		}
		resp.Body.Close()
	}

	for _, r := range append(backend.requests(), other.requests()...) {
		if r.Authorization != "" {
			t.Fatalf("%s carried Authorization %q", r.Path, r.Authorization)
		}
	}
	if backend.refreshCalls()+other.refreshCalls() != 0 {
		t.Fatalf("unexpected refresh")
	}
}

func TestGatewayDoesNotAuthorizeRefreshPath(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"token": "abc"})
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

	resp, err := client.Fetch(context.Background(), http.MethodPost, DefaultRefreshPath, Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()

	reqs := backend.requests()
	if len(reqs) != 1 || reqs[0].Authorization != "" {
		t.Fatalf("requests = %+v, want a single unauthenticated call", reqs)
	}
}

func TestGatewayLeavesCallerRequestUntouched(t *testing.T) {
	backend := newFakeBackend(t)
	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	req, err := http.NewRequest(http.MethodPut, backend.srv.BaseURL()+"/api/Trip/UpdateTrip/1", strings.NewReader(`{"id":1}`))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("X-Trace", "t1")

	resp, err := client.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if req.Header.Get("Authorization") != "" {
		t.Fatalf("caller request gained Authorization header")
	}
	api := backend.apiRequests()
	if len(api) != 1 || !strings.HasPrefix(api[0].Authorization, "Bearer ") || string(api[0].Body) != `{"id":1}` {
		t.Fatalf("api request = %+v", api)
	}
}

func TestGatewayConcurrent401sShareOneRefresh(t *testing.T) {
	backend := newFakeBackend(t)
	fresh := makeToken(t, time.Now().Add(2*time.Hour))
	release := make(chan struct{})
	backend.setRefresh(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"token": fresh})
	})
	backend.setAPI(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(makeToken(t, time.Now().Add(time.Hour))), 0)
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{store: store})

	const n = 5
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}

	waitForCond(t, func() bool { return backend.refreshCalls() == 1 && len(backend.apiRequests()) == n })
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, status)
		}
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestGatewayBacksRestyClient(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"data": map[string]any{"token": "abc"}})
	backend.setAPI(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"auth": r.Header.Get("Authorization")})
	})
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

	var out struct {
		Auth string `json:"auth"`
	}
	if _, err := client.API().Get(context.Background(), "/api/Trip/GetAllTrips", &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out.Auth != "Bearer abc" {
		t.Fatalf("auth = %q, want Bearer abc", out.Auth)
	}
}

func TestGatewayRedirectSurfacesAsStatusErrorInResty(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	nav := newRecordingNavigator()
	client := newTestClient(t, backend, nav, testClientOptions{})

	_, err := client.API().Get(context.Background(), "/api/Trip/GetAllTrips", nil)
	var statusErr *httpx.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("Get() error = %v, want 401 StatusError", err)
	}
	if len(nav.Targets()) != 1 {
		t.Fatalf("navigation = %v, want one login redirect", nav.Targets())
	}
}

func TestGatewayAbandonedRefreshKeepsSession(t *testing.T) {
	backend := newFakeBackend(t)
	stale := makeToken(t, time.Now().Add(time.Hour))
	fresh := makeToken(t, time.Now().Add(2*time.Hour))
	release := backend.holdRefresh(t, fresh)
	backend.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	store := memory.NewStore()
	_ = store.Set(context.Background(), KeyAccessToken, []byte(stale), 0)
	nav := newRecordingNavigator()
	client := newTestClient(t, backend, nav, testClientOptions{store: store})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err := client.Fetch(ctx, http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	release()
	waitFor(t, "refreshed token", func() bool {
		v, _ := storedValue(t, store, KeyAccessToken)
		return v == fresh
	})
	if targets := nav.Targets(); len(targets) != 0 {
		t.Fatalf("navigated to %v after the caller gave up", targets)
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}
