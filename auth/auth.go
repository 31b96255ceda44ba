// Package auth implements the client side of the console's authentication:
// a token store over pluggable key/value storage, a coalescing refresh
// coordinator, an http.RoundTripper that attaches bearer tokens and retries
// once after a 401, the page bootstrap guard, and the cross-instance logout
// listener.
package auth

import (
	"errors"
	"time"
)

const (
	DefaultAPIPrefix   = "/api/"
	DefaultRefreshPath = "/api/Auth/GetToken"
	DefaultLogoutPath  = "/api/Auth/LogOut"
	DefaultLoginPath   = "/login.html"
	DefaultSkew        = 60 * time.Second
)

// Storage keys. The first three are aliases of the same access token and are
// always written together; refreshToken is only ever cleared.
const (
	KeyAccessToken  = "accessToken"
	KeyToken        = "token"
	KeyJWT          = "jwt"
	KeyRefreshToken = "refreshToken"
)

var (
	ErrRefreshFailed   = errors.New("auth: refresh failed")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrCrossTabLogout  = errors.New("auth: logged out elsewhere")
	ErrNoOrigin        = errors.New("auth: page origin is required")
	ErrNoBus           = errors.New("auth: storage bus not configured")
)

// tokenKeys returns the alias keys in read priority order.
func tokenKeys() []string {
	return []string{KeyAccessToken, KeyToken, KeyJWT}
}

// clearKeys returns every key removed on logout or refresh failure.
func clearKeys() []string {
	return []string{KeyAccessToken, KeyToken, KeyJWT, KeyRefreshToken}
}

func isTokenKey(key string) bool {
	for _, k := range tokenKeys() {
		if k == key {
			return true
		}
	}
	return false
}
