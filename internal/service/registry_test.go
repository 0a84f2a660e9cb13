package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/waconnect/bridge-server-go/internal/model"
)

func backendListServer(t *testing.T, entries []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/fetchInstances" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(entries)
	}))
}

func importProfile(tenantID, baseURL string) *model.AccountProfile {
	return &model.AccountProfile{
		TenantID:       tenantID,
		InstanceLimit:  2,
		BackendAPIKey:  strPtr("admin-key"),
		BackendBaseURL: strPtr(baseURL),
	}
}

func TestImportFromBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected entries do not consume the limit", func(t *testing.T) {
		server := backendListServer(t, []map[string]any{
			{"token": "tok-disc-1", "instanceName": "Arquivado", "status": "close"},
			{"token": "tok-conn-1", "instanceName": "Atendimento", "status": "open"},
			{"token": "tok-conn-2", "instanceName": "Comercial", "status": "open"},
			{"token": "tok-disc-2", "instanceName": "Antigo", "status": "close"},
		})
		defer server.Close()

		profiles := new(mockProfileRepo)
		profiles.On("FindByTenant", ctx, "tenant-1").
			Return(importProfile("tenant-1", server.URL), nil)

		instances := new(mockInstanceRepo)
		instances.On("CountConnectedByTenant", ctx, "tenant-1").Return(1, nil)
		instances.On("FindByToken", ctx, mock.AnythingOfType("string")).Return(nil, nil)

		var created []model.CreateInstanceParams
		instances.On("Create", ctx, mock.AnythingOfType("model.CreateInstanceParams")).
			Run(func(args mock.Arguments) {
				created = append(created, args.Get(1).(model.CreateInstanceParams))
			}).
			Return(&model.Instance{}, nil)

		svc := NewRegistryService(nil, instances, profiles, NewBackendClient(""), &fakeCache{})

		imported, err := svc.ImportFromBackend(ctx, "tenant-1")

		require.NoError(t, err)
		// One connected slot is left (limit 2, one already connected), so
		// only the first connected listing fits; the disconnected ones are
		// imported regardless of their position in the list.
		assert.Len(t, imported, 3)
		require.Len(t, created, 3)
		assert.Equal(t, "tok-disc-1", created[0].Token)
		assert.Equal(t, "tok-conn-1", created[1].Token)
		assert.Equal(t, "tok-disc-2", created[2].Token)
	})

	t.Run("already claimed tokens are skipped", func(t *testing.T) {
		server := backendListServer(t, []map[string]any{
			{"token": "tok-claimed", "instanceName": "Alheio", "status": "open"},
			{"token": "tok-new", "instanceName": "Novo", "status": "open"},
		})
		defer server.Close()

		profiles := new(mockProfileRepo)
		profiles.On("FindByTenant", ctx, "tenant-1").
			Return(importProfile("tenant-1", server.URL), nil)

		instances := new(mockInstanceRepo)
		instances.On("CountConnectedByTenant", ctx, "tenant-1").Return(0, nil)
		instances.On("FindByToken", ctx, "tok-claimed").
			Return(&model.Instance{ID: "inst-other", TenantID: "tenant-2"}, nil)
		instances.On("FindByToken", ctx, "tok-new").Return(nil, nil)
		instances.On("Create", ctx, mock.MatchedBy(func(p model.CreateInstanceParams) bool {
			return p.Token == "tok-new"
		})).Return(&model.Instance{ID: "inst-new"}, nil)

		svc := NewRegistryService(nil, instances, profiles, NewBackendClient(""), &fakeCache{})

		imported, err := svc.ImportFromBackend(ctx, "tenant-1")

		require.NoError(t, err)
		assert.Len(t, imported, 1)
		instances.AssertExpectations(t)
	})

	t.Run("missing admin credential is rejected", func(t *testing.T) {
		profiles := new(mockProfileRepo)
		profiles.On("FindByTenant", ctx, "tenant-1").
			Return(&model.AccountProfile{TenantID: "tenant-1", InstanceLimit: 2}, nil)

		svc := NewRegistryService(nil, new(mockInstanceRepo), profiles, NewBackendClient(""), &fakeCache{})

		_, err := svc.ImportFromBackend(ctx, "tenant-1")

		assert.Error(t, err)
	})
}
