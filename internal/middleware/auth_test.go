package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waconnect/bridge-server-go/internal/model"
)

type mockLocationRepo struct {
	findByEmbedTokenFunc func(ctx context.Context, token string) (*model.Location, error)
}

func (m *mockLocationRepo) FindByID(ctx context.Context, id string) (*model.Location, error) {
	return nil, nil
}

func (m *mockLocationRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Location, error) {
	return nil, nil
}

func (m *mockLocationRepo) FindByEmbedToken(ctx context.Context, token string) (*model.Location, error) {
	if m.findByEmbedTokenFunc != nil {
		return m.findByEmbedTokenFunc(ctx, token)
	}
	return nil, nil
}

func (m *mockLocationRepo) Create(ctx context.Context, params model.CreateLocationParams) (*model.Location, error) {
	return nil, nil
}

func TestEmbedAuthMiddleware(t *testing.T) {
	validLocation := &model.Location{ID: "loc-1", TenantID: "tenant-1", EmbedToken: "good-token"}

	repo := &mockLocationRepo{
		findByEmbedTokenFunc: func(ctx context.Context, token string) (*model.Location, error) {
			if token == "good-token" {
				return validLocation, nil
			}
			if token == "boom" {
				return nil, errors.New("database gone")
			}
			return nil, nil
		},
	}
	mw := NewEmbedAuthMiddleware(repo)

	t.Run("bearer token authenticates and injects the location", func(t *testing.T) {
		var seen *model.Location
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetLocation(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/registry/instances", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "loc-1", seen.ID)
	})

	t.Run("query token works for iframe embeds", func(t *testing.T) {
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/registry/instances?token=good-token", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token answers 401", func(t *testing.T) {
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/registry/instances", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token answers 401", func(t *testing.T) {
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/registry/instances", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("repository failure answers 500", func(t *testing.T) {
		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/registry/instances", nil)
		req.Header.Set("Authorization", "Bearer boom")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetLocationWithoutContext(t *testing.T) {
	assert.Nil(t, GetLocation(context.Background()))
}
