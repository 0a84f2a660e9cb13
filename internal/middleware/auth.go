package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/repository"
)

type contextKey string

const LocationContextKey contextKey = "location"

func GetLocation(ctx context.Context) *model.Location {
	if loc, ok := ctx.Value(LocationContextKey).(*model.Location); ok {
		return loc
	}
	return nil
}

// EmbedAuthMiddleware authenticates the iframe-embedded UI and management
// API with the location's opaque embed-access token.
type EmbedAuthMiddleware struct {
	locationRepo repository.LocationRepository
}

func NewEmbedAuthMiddleware(locationRepo repository.LocationRepository) *EmbedAuthMiddleware {
	return &EmbedAuthMiddleware{locationRepo: locationRepo}
}

func (m *EmbedAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing access token",
			})
			return
		}

		loc, err := m.locationRepo.FindByEmbedToken(r.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("embed auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if loc == nil {
			log.Warn().Msg("embed auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid access token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), LocationContextKey, loc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
