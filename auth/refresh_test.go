package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "top level token", body: `{"token":"a","accessToken":"b"}`, want: "a"},
		{name: "top level accessToken", body: `{"accessToken":"b","data":{"token":"c"}}`, want: "b"},
		{name: "nested token", body: `{"data":{"token":"c","accessToken":"d"}}`, want: "c"},
		{name: "nested accessToken", body: `{"succeeded":true,"data":{"accessToken":"d"}}`, want: "d"},
		{name: "empty values skipped", body: `{"token":"","data":{"accessToken":"d"}}`, want: "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractToken([]byte(tt.body))
			if err != nil {
				t.Fatalf("extractToken() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTokenFailures(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"data":{}}`,
		`{"token":42}`,
		`{"succeeded":false,"token":"x"}`,
	} {
		if _, err := extractToken([]byte(body)); !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("extractToken(%s) error = %v, want ErrRefreshFailed", body, err)
		}
	}
}

func TestRefreshStoresTokenAndSendsCookieOnly(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"data": map[string]any{"accessToken": "abc"}})
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

	origin, _ := url.Parse(backend.srv.BaseURL())
	client.CookieJar().SetCookies(origin, []*http.Cookie{{Name: "refreshToken", Value: "r1", Path: "/"}})

	got, err := client.Refresher().Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got != "abc" {
		t.Fatalf("Refresh() = %q, want abc", got)
	}
	if stored, _ := client.Tokens().Get(context.Background()); stored != "abc" {
		t.Fatalf("stored token = %q, want abc", stored)
	}

	reqs := backend.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Method != http.MethodPost || reqs[0].Path != DefaultRefreshPath {
		t.Fatalf("request = %s %s", reqs[0].Method, reqs[0].Path)
	}
	if reqs[0].Authorization != "" {
		t.Fatalf("refresh carried Authorization %q", reqs[0].Authorization)
	}
	if reqs[0].Cookie != "refreshToken=r1" {
		t.Fatalf("refresh cookie = %q", reqs[0].Cookie)
	}
}

func TestRefreshFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
	}{
		{name: "unauthorized", handler: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "expired"})
		}},
		{name: "server error", handler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{name: "explicit failure", handler: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"succeeded": false, "token": "x"})
		}},
		{name: "no token", handler: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
		}},
		{name: "not json", handler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t)
			backend.setRefresh(tt.handler)
			client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

			if _, err := client.Refresher().Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
				t.Fatalf("Refresh() error = %v, want ErrRefreshFailed", err)
			}
			if _, ok := client.Tokens().Get(context.Background()); ok {
				t.Fatalf("token stored after failed refresh")
			}
		})
	}
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	backend := newFakeBackend(t)
	release := make(chan struct{})
	backend.setRefresh(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"token": "shared"})
	})
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Refresher().Refresh(context.Background())
		}(i)
	}

	waitForCond(t, func() bool { return backend.refreshCalls() == 1 })
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil || results[i] != "shared" {
			t.Fatalf("caller %d = %q, %v", i, results[i], errs[i])
		}
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}

	// The slot is free again once settled.
	if _, err := client.Refresher().Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := backend.refreshCalls(); got != 2 {
		t.Fatalf("refresh calls = %d, want 2", got)
	}
}

func TestRefreshCallerCancelDoesNotFailOthers(t *testing.T) {
	backend := newFakeBackend(t)
	release := make(chan struct{})
	backend.setRefresh(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"token": "late"})
	})
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Refresher().Refresh(ctx)
		done <- err
	}()
	waitForCond(t, func() bool { return backend.refreshCalls() == 1 })

	other := make(chan string, 1)
	go func() {
		tok, _ := client.Refresher().Refresh(context.Background())
		other <- tok
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Refresh() error = %v, want context.Canceled", err)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	select {
	case tok := <-other:
		if tok != "late" {
			t.Fatalf("other caller token = %q, want late", tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("other caller never completed")
	}
	if got := backend.refreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
