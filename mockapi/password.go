package mockapi

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("mockapi: invalid user name or password")

// accounts verifies logins against bcrypt hashes computed once when the
// backend starts. Configured values that already are bcrypt hashes are kept
// as they are, so a config file never has to hold a plaintext password.
type accounts struct {
	hashes map[string][]byte
	// dummy is compared for unknown users so both paths cost the same.
	dummy []byte
}

func newAccounts(users map[string]string, cost int) (*accounts, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	c := &accounts{hashes: make(map[string][]byte, len(users))}
	for name, secret := range users {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("mockapi: empty user name")
		}
		hash, err := hashPassword(secret, cost)
		if err != nil {
			return nil, fmt.Errorf("mockapi: user %s: %w", name, err)
		}
		c.hashes[name] = hash
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("tripdesk-unknown-user"), cost)
	if err != nil {
		return nil, fmt.Errorf("mockapi: bcrypt hash failed: %w", err)
	}
	c.dummy = dummy
	return c, nil
}

func hashPassword(secret string, cost int) ([]byte, error) {
	if isBcryptHash(secret) {
		if _, err := bcrypt.Cost([]byte(secret)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		return []byte(secret), nil
	}
	if secret == "" {
		return nil, errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt hash failed: %w", err)
	}
	return hash, nil
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// Verify returns ErrInvalidCredentials for an unknown user or a wrong
// password.
func (c *accounts) Verify(user, password string) error {
	hash, known := c.hashes[strings.TrimSpace(user)]
	if !known {
		hash = c.dummy
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !known {
		return ErrInvalidCredentials
	}
	return nil
}
