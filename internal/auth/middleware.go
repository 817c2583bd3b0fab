package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/profile-server/internal/apperror"
	"github.com/sakif/profile-server/internal/handler"
)

// Require is a middleware that only lets requests with a valid bearer API
// key reach next.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new http.Handler that
// wraps it. Returning early without calling next.ServeHTTP stops the chain,
// so a rejected request never reaches the profile handlers (or the store).
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || g.Verify(token) != nil {
			// Never log the presented token: a typo'd key is still most of a key.
			g.logger.Warn("rejected request with invalid API key",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Bool("headerPresent", r.Header.Get("Authorization") != ""),
			)

			// The challenge header must be set before WriteError sends the status.
			w.Header().Set("WWW-Authenticate", `Bearer realm="profile"`)
			handler.WriteError(w, apperror.Unauthorized("invalid API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from "Authorization: Bearer <token>".
// The scheme is case-insensitive (RFC 7235); the token is not.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	// Exactly one space, and the token is taken as sent: no trimming.
	if token == "" || strings.TrimSpace(token) != token {
		return "", false
	}
	return token, true
}
