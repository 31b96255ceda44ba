package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Navigator performs page navigation. Replace must not leave the current
// location in history, so going back never returns to a stale page.
type Navigator interface {
	Replace(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Replace(ctx context.Context, target string) error { return f(ctx, target) }

type PageOptions struct {
	// Location is the current path and query, e.g. "/trips.html?page=2".
	Location string
	// LoginRedirect overrides the login target for this page.
	LoginRedirect string
	// LoginFallback is used when no override is configured and for the
	// passive cross-instance kick. Defaults to DefaultLoginPath.
	LoginFallback string
	// LogoutRedirect is where an explicit logout lands. Defaults to the
	// login fallback.
	LogoutRedirect string
	Navigator      Navigator
}

// Page is the single per-page context shared by the gateway, guard and
// listeners: where the page lives, where it sends users to log in, and how
// it navigates.
type Page struct {
	origin         *url.URL
	loginRedirect  string
	loginFallback  string
	logoutRedirect string
	nav            Navigator

	mu       sync.Mutex
	location *url.URL
}

func NewPage(origin string, opts PageOptions) (*Page, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, ErrNoOrigin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("auth: parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrNoOrigin, origin)
	}
	base := &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}

	p := &Page{
		origin:         base,
		loginRedirect:  strings.TrimSpace(opts.LoginRedirect),
		loginFallback:  strings.TrimSpace(opts.LoginFallback),
		logoutRedirect: strings.TrimSpace(opts.LogoutRedirect),
		nav:            opts.Navigator,
		location:       &url.URL{Path: "/"},
	}
	if p.loginFallback == "" {
		p.loginFallback = DefaultLoginPath
	}
	if p.logoutRedirect == "" {
		p.logoutRedirect = p.loginFallback
	}
	if p.nav == nil {
		p.nav = NavigatorFunc(func(context.Context, string) error { return nil })
	}
	if opts.Location != "" {
		if err := p.SetLocation(opts.Location); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Origin returns a copy of the page origin (scheme and host only).
func (p *Page) Origin() *url.URL {
	u := *p.origin
	return &u
}

// Resolve turns a possibly relative reference into an absolute URL against
// the page origin.
func (p *Page) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return p.origin.ResolveReference(u), nil
}

// SameOrigin reports whether u shares scheme, host and port with the page.
func (p *Page) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.Host == "" && u.Scheme == "" {
		return true
	}
	return strings.EqualFold(u.Scheme, p.origin.Scheme) &&
		hostPort(u) == hostPort(p.origin)
}

// SetLocation records the current path and query of the page.
func (p *Page) SetLocation(pathAndQuery string) error {
	u, err := url.Parse(pathAndQuery)
	if err != nil {
		return fmt.Errorf("auth: parse location: %w", err)
	}
	loc := &url.URL{Path: u.Path, RawQuery: u.RawQuery}
	if loc.Path == "" {
		loc.Path = "/"
	}
	p.mu.Lock()
	p.location = loc
	p.mu.Unlock()
	return nil
}

// Location returns the current path and query.
func (p *Page) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location.RequestURI()
}

// LoginTarget is the per-page override, or the fallback when none is set.
func (p *Page) LoginTarget() string {
	if p.loginRedirect != "" {
		return p.loginRedirect
	}
	return p.loginFallback
}

// LoginFallback is the hard default login location.
func (p *Page) LoginFallback() string { return p.loginFallback }

// LogoutTarget is where an explicit logout navigates.
func (p *Page) LogoutTarget() string { return p.logoutRedirect }

// LoginURLWithNext appends the current location as the next parameter.
func (p *Page) LoginURLWithNext() string {
	target := p.LoginTarget()
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "next=" + url.QueryEscape(p.Location())
}

// Replace navigates away from the page.
func (p *Page) Replace(ctx context.Context, target string) error {
	return p.nav.Replace(ctx, target)
}

func hostPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return host + ":" + port
}
