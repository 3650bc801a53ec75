package common

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const registerIDKey ctxKey = "pos/register-id"

// WithRegisterID stores the point-of-sale register identifier on the provided context.
func WithRegisterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, registerIDKey, id)
}

// RegisterID extracts the register identifier from the context if present.
func RegisterID(ctx context.Context) (string, bool) {
	v := ctx.Value(registerIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// RegisterHeader propagates the X-Register-Id header into the request context
// so downstream logging can attribute requests to a terminal.
func RegisterHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get("X-Register-Id")); id != "" {
			r = r.WithContext(WithRegisterID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
