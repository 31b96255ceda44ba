package auth

import (
	"context"
	"sync"
)

// State is the page-level auth state consumers can poll.
type State string

const (
	StateIdle        State = ""
	StateChecking    State = "checking"
	StateReady       State = "ready"
	StateRedirecting State = "redirecting"
)

// SessionView is the derived, non-persisted view of a session.
type SessionView struct {
	Token           string
	IsAuthenticated bool
	IsChecking      bool
}

// Session is owned by the page bootstrap and shared by reference with
// everything that needs to wait for, or read, the page's token.
type Session struct {
	mu      sync.Mutex
	state   State
	token   string
	onReady []func(string)

	ready      chan struct{}
	redirected chan struct{}
	readyOnce  sync.Once
	redirOnce  sync.Once
}

func NewSession() *Session {
	return &Session{
		ready:      make(chan struct{}),
		redirected: make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		Token:           s.token,
		IsAuthenticated: s.state == StateReady && s.token != "",
		IsChecking:      s.state == StateChecking,
	}
}

// Ready is closed once, when the guard has a usable token.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until the session is ready, the guard gives up and
// redirects, or ctx is done.
func (s *Session) WaitReady(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.Token(), nil
	case <-s.redirected:
		return "", ErrUnauthenticated
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// OnReady registers fn to run with the token once the session is ready. If
// it already is, fn runs immediately.
func (s *Session) OnReady(fn func(token string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.state == StateReady {
		token := s.token
		s.mu.Unlock()
		fn(token)
		return
	}
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

func (s *Session) markChecking() {
	s.mu.Lock()
	s.state = StateChecking
	s.mu.Unlock()
}

func (s *Session) markIdle() {
	s.mu.Lock()
	if s.state == StateChecking {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *Session) markReady(token string) {
	s.mu.Lock()
	s.state = StateReady
	s.token = token
	callbacks := s.onReady
	s.onReady = nil
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	for _, fn := range callbacks {
		fn(token)
	}
}

func (s *Session) markRedirecting() {
	s.mu.Lock()
	s.state = StateRedirecting
	s.token = ""
	s.onReady = nil
	s.mu.Unlock()
	s.redirOnce.Do(func() { close(s.redirected) })
}

// track keeps the token slot current after the session became ready.
func (s *Session) track(change TokenChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.token = change.Token
}
