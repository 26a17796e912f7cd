package http

import (
	"context"
	"net/http"

	"fleet-telemetry/internal/auth"
)

type contextKey string

// vehicleBindingKey carries the vehicle id a redis-backed API key is bound
// to. Empty for fleet-wide static keys.
const vehicleBindingKey contextKey = "vehicle-binding"

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing X-API-Key header"}`))
			return
		}

		vehicleID, ok := m.auth.Validate(r.Context(), apiKey)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid API key"}`))
			return
		}

		ctx := context.WithValue(r.Context(), vehicleBindingKey, vehicleID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// boundVehicle returns the vehicle id the request's API key is bound to, if
// any.
func boundVehicle(ctx context.Context) string {
	v, _ := ctx.Value(vehicleBindingKey).(string)
	return v
}
