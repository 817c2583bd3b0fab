// Package auth guards the mutating profile endpoints behind a shared API key.
//
// HOW THE GATE WORKS:
// The server is configured with one secret (API_KEY). Clients send it as
//
//	Authorization: Bearer <secret>
//
// and the gate lets the request through only if the presented value matches
// the secret exactly. There are no users, sessions or tokens to issue: knowing
// the key is the whole credential.
//
// WHY BCRYPT FOR AN API KEY?
// A plain `presented == secret` comparison returns as soon as the first byte
// differs, so response timing leaks how much of a guess was right. Instead we
// hash the secret once at startup and check each presented key with
// bcrypt.CompareHashAndPassword, which compares in constant time. It also
// means the server can be started with only the hash (API_KEY_HASH), so the
// plaintext key never has to sit in the process environment.
//
// The cost is one bcrypt comparison per mutating request (tens of
// milliseconds at the default cost). Reads are never gated.
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/profile-server/internal/apperror"
)

// DefaultCost is the bcrypt work factor used when hashing API_KEY at startup.
//
// Lower than what you'd pick for user passwords: an API key is long and
// random, so the work factor only has to make timing measurements useless,
// not slow down dictionary attacks.
const DefaultCost = bcrypt.DefaultCost

// bcrypt ignores everything after 72 bytes. Longer keys are rejected so two
// keys sharing a 72-byte prefix can't both be valid.
const maxSecretLength = 72

// Gate verifies presented API keys against the configured secret.
// It is immutable after construction and safe for concurrent use.
type Gate struct {
	hash   []byte
	logger *slog.Logger
}

// NewGate hashes secret with DefaultCost.
func NewGate(secret string, logger *slog.Logger) (*Gate, error) {
	return NewGateWithCost(secret, DefaultCost, logger)
}

// NewGateWithCost is NewGate with an explicit bcrypt cost.
// Tests use bcrypt.MinCost to keep hashing fast.
func NewGateWithCost(secret string, cost int, logger *slog.Logger) (*Gate, error) {
	hash, err := HashKey(secret, cost)
	if err != nil {
		return nil, err
	}
	return &Gate{hash: []byte(hash), logger: logger}, nil
}

// HashKey returns the bcrypt hash of secret, suitable for API_KEY_HASH.
func HashKey(secret string, cost int) (string, error) {
	if secret == "" {
		return "", errors.New("auth: API key must not be empty")
	}
	if len(secret) > maxSecretLength {
		return "", fmt.Errorf("auth: API key must be %d bytes or fewer", maxSecretLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing API key: %w", err)
	}
	return string(hash), nil
}

// NewGateFromHash builds a Gate from a bcrypt hash produced by HashKey
// (`profile-server hash-key`) or elsewhere, e.g.
//
//	htpasswd -bnBC 10 "" "$API_KEY" | tr -d ':\n'
func NewGateFromHash(hash string, logger *slog.Logger) (*Gate, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("auth: API key hash is not a bcrypt hash: %w", err)
	}
	return &Gate{hash: []byte(hash), logger: logger}, nil
}

// Verify reports whether presented is the configured API key.
//
// Any failure comes back as apperror.Unauthorized with the same generic
// message, whatever the cause: callers must not learn why a key was refused.
func (g *Gate) Verify(presented string) error {
	if presented == "" {
		return apperror.Unauthorized("invalid API key")
	}
	if len(presented) > maxSecretLength {
		return apperror.Unauthorized("invalid API key")
	}

	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(presented)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// Only a broken hash gets here, which is a server problem.
			g.logger.Error("API key verification failed", slog.String("error", err.Error()))
		}
		return apperror.Unauthorized("invalid API key")
	}
	return nil
}
