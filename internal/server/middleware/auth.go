package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/dirsync/internal/server/handlers"
)

// ReplicaAuthMiddleware проверяет JWT токен реплики и кладет ее идентификатор в контекст
func ReplicaAuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn("Missing or malformed Authorization header", "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "missing replica token")
				return
			}

			claims, err := handlers.ValidateReplicaToken(jwtConfig, token)
			if err != nil {
				logger.Warn("Invalid replica token", "path", r.URL.Path, "error", err)
				writeJSONError(w, http.StatusUnauthorized, "invalid replica token")
				return
			}

			ctx := context.WithValue(r.Context(), handlers.ReplicaIDKey, claims.ReplicaID)
			ctx = context.WithValue(ctx, handlers.ReplicaNameKey, claims.ReplicaName)

			logger.Debug("Replica authenticated", "replica_id", claims.ReplicaID, "replica", claims.ReplicaName)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из заголовка "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + http.StatusText(status) + `","message":"` + message + `"}`))
}
