package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

type TokenParser interface {
	Parse(raw string) (domain.AccountID, error)
}

type AccountGetter interface {
	GetAccount(ctx context.Context, id domain.AccountID) (*domain.Account, error)
}

type Entitlement interface {
	Allowed(a domain.Account, now time.Time) bool
}

type ctxKey struct{}

// AccountFrom returns the account attached by RequireAccount.
func AccountFrom(ctx context.Context) (domain.Account, bool) {
	a, ok := ctx.Value(ctxKey{}).(domain.Account)
	return a, ok
}

func WithAccount(ctx context.Context, a domain.Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAccount establishes identity from a session token and loads the
// account fresh from the store. Browsers cannot set headers on websocket
// upgrades, so a ?token= query parameter is accepted as well.
func RequireAccount(tokens TokenParser, accounts AccountGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			id, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			a, err := accounts.GetAccount(r.Context(), id)
			if errors.Is(err, repo.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "account lookup failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), *a)))
		})
	}
}

// RequireEntitled must run after RequireAccount. It evaluates the same
// predicate the sweep uses, at request time.
func RequireEntitled(gate Entitlement, clk clock.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := AccountFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !gate.Allowed(a, clk.Now()) {
				writeError(w, http.StatusPaymentRequired, "subscription required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only permits requests that present one of keys, as a bearer
// token or X-API-Key. With no keys configured every request is refused.
func RequireAdmin(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearer(r)
			if key == "" {
				key = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !hasKey(key, keys) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasKey(given string, set []string) bool {
	for _, k := range set {
		if subtle.ConstantTimeCompare([]byte(k), []byte(given)) == 1 {
			return true
		}
	}
	return false
}
