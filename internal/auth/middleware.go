package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware rejects requests without a valid bearer token and stores the
// verified email in the request context.
func (a *Authority) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeMessage(w, http.StatusUnauthorized, "Unauthorize access")
				return
			}

			email, err := a.Verify(header)
			if err != nil {
				logger.Warn("rejected token", "path", r.URL.Path, "error", err)
				writeMessage(w, http.StatusUnauthorized, "Unauthorize Access")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), email)))
		})
	}
}

// WithIdentity returns a context carrying the verified email.
func WithIdentity(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, identityKey, email)
}

// IdentityFromContext returns the email stored by Middleware.
func IdentityFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(identityKey).(string)
	return email, ok && email != ""
}

// RequireIdentity reports ErrForbidden unless the verified identity in ctx
// equals claimed.
func RequireIdentity(ctx context.Context, claimed string) error {
	email, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if claimed == "" || claimed != email {
		return ErrForbidden
	}
	return nil
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
