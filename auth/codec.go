package auth

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parts of an access token payload the console consumes.
type Claims struct {
	ExpiresAt time.Time
	HasExpiry bool
	Role      string
	UserName  string
	Raw       map[string]any
}

var segmentDecoder = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode reads the payload segment of a signed token without looking at the
// header or verifying the signature. Malformed input yields false; it never
// panics.
func Decode(raw string) (Claims, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 || parts[1] == "" {
		return Claims{}, false
	}
	payload, err := segmentDecoder.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, false
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	mc := jwt.MapClaims{}
	if err := dec.Decode(&mc); err != nil || mc == nil {
		return Claims{}, false
	}

	claims := Claims{Raw: map[string]any(mc)}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
		claims.HasExpiry = true
	}
	claims.Role, _ = mc["role"].(string)
	claims.UserName, _ = mc["userName"].(string)
	return claims, true
}

// IsExpiredOrNear reports whether raw must be refreshed before use. Tokens
// that cannot be decoded or carry no numeric exp count as expired.
func IsExpiredOrNear(raw string, skew time.Duration, now time.Time) bool {
	claims, ok := Decode(raw)
	if !ok || !claims.HasExpiry {
		return true
	}
	return !now.Add(skew).Before(claims.ExpiresAt)
}
