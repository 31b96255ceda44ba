package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/adeilh/tripdesk/httpx"
	"github.com/adeilh/tripdesk/mockapi"
)

type harness struct {
	backend *mockapi.Backend
	server  *httpx.TestServer
	cookie  string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	backend, err := mockapi.New(mockapi.Options{Secret: []byte("cli-test-secret")})
	if err != nil {
		t.Fatalf("mockapi.New() error = %v", err)
	}
	ts := httpx.NewTestServer(backend.Handler())
	t.Cleanup(ts.Close)
	id, err := backend.OpenSession(context.Background(), "admin")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	return harness{backend: backend, server: ts, cookie: mockapi.RefreshCookie + "=" + id}
}

func (h harness) run(t *testing.T, withCookie bool, args ...string) (string, string, error) {
	t.Helper()
	full := []string{"--origin", h.server.BaseURL(), "--log", "nop"}
	if withCookie {
		full = append(full, "--refresh-cookie", h.cookie)
	}
	full = append(full, args...)

	root, a := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(full)
	err := root.ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil {
		t.Fatalf("close() error = %v", cerr)
	}
	return stdout.String(), stderr.String(), err
}

func TestTripsList(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run(t, true, "trips", "list", "--sort", "price:desc")
	if err != nil {
		t.Fatalf("trips list error = %v", err)
	}
	if !strings.Contains(out, "Giftun Island") || !strings.Contains(out, `"count": 2`) {
		t.Fatalf("output = %s", out)
	}
	if strings.Index(out, "Giftun Island") > strings.Index(out, "Quad Safari") {
		t.Fatalf("output not sorted by price desc: %s", out)
	}
}

func TestTripsGetAdmin(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run(t, true, "trips", "get", "1", "--admin")
	if err != nil {
		t.Fatalf("trips get error = %v", err)
	}
	if !strings.Contains(out, "tripTranslations") {
		t.Fatalf("output = %s", out)
	}
}

func TestTripsDeleteAndReviews(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run(t, true, "reviews", "list", "1")
	if err != nil {
		t.Fatalf("reviews list error = %v", err)
	}
	if strings.Index(out, "karim") > strings.Index(out, "mona") {
		t.Fatalf("reviews not newest first: %s", out)
	}

	out, _, err = h.run(t, true, "trips", "delete", "2")
	if err != nil {
		t.Fatalf("trips delete error = %v", err)
	}
	if !strings.Contains(out, "deleted trip 2") {
		t.Fatalf("output = %s", out)
	}
}

func TestLookup(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run(t, true, "lookup", "activities")
	if err != nil {
		t.Fatalf("lookup error = %v", err)
	}
	if !strings.Contains(out, "Snorkeling") {
		t.Fatalf("output = %s", out)
	}
	if _, _, err := h.run(t, true, "lookup", "hotels"); err == nil {
		t.Fatal("lookup hotels error = nil, want invalid argument")
	}
}

func TestLoginRequiredWithoutCookie(t *testing.T) {
	h := newHarness(t)
	_, stderr, err := h.run(t, false, "trips", "list")
	if !errors.Is(err, errLoginRequired) {
		t.Fatalf("trips list error = %v, want errLoginRequired", err)
	}
	if !strings.Contains(stderr, "redirect: /login.html?next=") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run(t, true, "logout"); err != nil {
		t.Fatalf("logout error = %v", err)
	}
	if _, _, err := h.run(t, true, "trips", "list"); !errors.Is(err, errLoginRequired) {
		t.Fatalf("trips list after logout error = %v, want errLoginRequired", err)
	}
}

func TestWatchNeedsSharedStorage(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run(t, true, "watch")
	if err == nil || !strings.Contains(err.Error(), "cannot share events") {
		t.Fatalf("watch error = %v", err)
	}
}

func TestMockServerNeedsSecret(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run(t, false, "mock-server"); err == nil {
		t.Fatal("mock-server error = nil, want missing secret")
	}
}

func TestInvalidID(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run(t, true, "trips", "get", "abc"); err == nil {
		t.Fatal("trips get abc error = nil")
	}
}
