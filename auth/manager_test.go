package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/adeilh/tripdesk/cache/memory"
)

func TestNewClientRequiresOrigin(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrNoOrigin) {
		t.Fatalf("NewClient() error = %v, want ErrNoOrigin", err)
	}
}

func TestClientLogout(t *testing.T) {
	backend := newFakeBackend(t)
	token := makeToken(t, time.Now().Add(time.Hour))
	store := memory.NewStore()
	ctx := context.Background()
	_ = store.Set(ctx, KeyAccessToken, []byte(token), 0)
	_ = store.Set(ctx, KeyRefreshToken, []byte("r"), 0)
	nav := newRecordingNavigator()
	client := newTestClient(t, backend, nav, testClientOptions{store: store})

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	reqs := backend.requests()
	if len(reqs) != 1 || reqs[0].Path != DefaultLogoutPath || reqs[0].Method != http.MethodPost {
		t.Fatalf("requests = %+v, want one logout call", reqs)
	}
	if reqs[0].Authorization != "Bearer "+token {
		t.Fatalf("logout Authorization = %q", reqs[0].Authorization)
	}
	for _, key := range clearKeys() {
		if _, ok := storedValue(t, store, key); ok {
			t.Fatalf("store[%s] present after logout", key)
		}
	}
	if targets := nav.Targets(); len(targets) != 1 || targets[0] != DefaultLoginPath {
		t.Fatalf("navigation = %v", targets)
	}
}

func TestClientLogoutIgnoresBackendFailure(t *testing.T) {
	nav := newRecordingNavigator()
	client, err := NewClient(ClientConfig{
		Origin:         "http://127.0.0.1:1",
		LogoutRedirect: "/bye.html",
		Navigator:      nav,
		Timeout:        time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_ = client.Tokens().Set(context.Background(), "abc")

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := client.Tokens().Get(context.Background()); ok {
		t.Fatalf("token survived logout")
	}
	if targets := nav.Targets(); len(targets) != 1 || targets[0] != "/bye.html" {
		t.Fatalf("navigation = %v", targets)
	}
}

func TestClientUsesStoreAsBus(t *testing.T) {
	store := &busStore{Store: memory.NewStore(), Bus: memory.NewBus()}
	client, err := NewClient(ClientConfig{Origin: "https://admin.example", Store: store})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Tokens().Bus() == nil {
		t.Fatalf("Bus() = nil, want the store")
	}
}

type busStore struct {
	*memory.Store
	*memory.Bus
}

func TestClientMetrics(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshWith(map[string]any{"token": makeToken(t, time.Now().Add(time.Hour))})
	backend.setAPI(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	reg := prometheus.NewRegistry()
	client := newTestClient(t, backend, newRecordingNavigator(), testClientOptions{registerer: reg})

	resp, err := client.Fetch(context.Background(), http.MethodGet, "/api/Trip/GetAllTrips", Init{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()

	if got := counterValue(t, reg, "tripdesk_auth_refresh_total", "result", "ok"); got != 2 {
		t.Fatalf("refresh ok = %v, want 2", got)
	}
	if got := counterValue(t, reg, "tripdesk_auth_retries_total", "", ""); got != 1 {
		t.Fatalf("retries = %v, want 1", got)
	}
	if got := counterValue(t, reg, "tripdesk_auth_requests_total", "auth", "true"); got != 1 {
		t.Fatalf("requests = %v, want 1", got)
	}
}

func counterValue(t *testing.T, g prometheus.Gatherer, name, label, value string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
