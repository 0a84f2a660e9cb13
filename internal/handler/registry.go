package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/middleware"
	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/service"
)

type registryService interface {
	ListConnected(ctx context.Context, locationID string) ([]model.Instance, error)
	Connect(ctx context.Context, tenantID, displayName string, baseURL *string, ignoreGroups bool) (*model.Instance, error)
	ImportFromBackend(ctx context.Context, tenantID string) ([]model.Instance, error)
	Link(ctx context.Context, tenantID, instanceID, locationID string) error
	Unlink(ctx context.Context, tenantID, instanceID string) error
	UnlinkAll(ctx context.Context, tenantID string) (int64, error)
	UpdateSettings(ctx context.Context, tenantID, instanceID string, params model.UpdateInstanceParams) (*model.Instance, error)
	ListGroups(ctx context.Context, tenantID, instanceID string) ([]string, error)
}

type instanceResolver interface {
	Resolve(ctx context.Context, locationID string, q service.ResolveQuery) (*model.Instance, error)
}

// RegistryHandler is the embed-facing API: the iframe UI inside the CRM
// manages the location's instances through it. Every route runs behind
// embed-token auth, so the location (and its tenant) come from context.
type RegistryHandler struct {
	registry registryService
	resolver instanceResolver
}

func NewRegistryHandler(registry registryService, resolver instanceResolver) *RegistryHandler {
	return &RegistryHandler{
		registry: registry,
		resolver: resolver,
	}
}

func (h *RegistryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/instances", h.ListInstances)
	r.Post("/instances", h.ConnectInstance)
	r.Post("/instances/import", h.ImportInstances)
	r.Patch("/instances/{instanceID}", h.UpdateInstance)
	r.Get("/instances/{instanceID}/groups", h.ListInstanceGroups)
	r.Post("/instances/{instanceID}/link", h.LinkInstance)
	r.Post("/instances/{instanceID}/unlink", h.UnlinkInstance)
	r.Post("/instances/unlink-all", h.UnlinkAllInstances)
	r.Post("/resolve", h.ResolveRoute)

	return r
}

// GET /v1/registry/instances
func (h *RegistryHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())

	instances, err := h.registry.ListConnected(r.Context(), loc.ID)
	if err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("failed to list instances")
		writeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(instances))
	for i := range instances {
		out = append(out, formatInstance(&instances[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

type connectRequest struct {
	DisplayName  string  `json:"displayName"`
	BaseURL      *string `json:"baseUrl"`
	IgnoreGroups bool    `json:"ignoreGroups"`
}

// POST /v1/registry/instances
func (h *RegistryHandler) ConnectInstance(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.DisplayName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "displayName is required"})
		return
	}

	inst, err := h.registry.Connect(r.Context(), loc.TenantID, req.DisplayName, req.BaseURL, req.IgnoreGroups)
	if err != nil {
		log.Error().Err(err).Str("tenantId", loc.TenantID).Msg("failed to register instance")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatInstance(inst))
}

// POST /v1/registry/instances/import
func (h *RegistryHandler) ImportInstances(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())

	imported, err := h.registry.ImportFromBackend(r.Context(), loc.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", loc.TenantID).Msg("instance import failed")
		writeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(imported))
	for i := range imported {
		out = append(out, formatInstance(&imported[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": out})
}

type updateInstanceRequest struct {
	DisplayName  *string `json:"displayName"`
	IgnoreGroups *bool   `json:"ignoreGroups"`
}

// PATCH /v1/registry/instances/{instanceID}
func (h *RegistryHandler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	var req updateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	inst, err := h.registry.UpdateSettings(r.Context(), loc.TenantID, instanceID, model.UpdateInstanceParams{
		DisplayName:  req.DisplayName,
		IgnoreGroups: req.IgnoreGroups,
	})
	if err != nil {
		log.Error().Err(err).Str("instanceId", instanceID).Msg("failed to update instance")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatInstance(inst))
}

// GET /v1/registry/instances/{instanceID}/groups
func (h *RegistryHandler) ListInstanceGroups(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	groups, err := h.registry.ListGroups(r.Context(), loc.TenantID, instanceID)
	if err != nil {
		log.Error().Err(err).Str("instanceId", instanceID).Msg("failed to list groups")
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// POST /v1/registry/instances/{instanceID}/link
func (h *RegistryHandler) LinkInstance(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.registry.Link(r.Context(), loc.TenantID, instanceID, loc.ID); err != nil {
		log.Error().Err(err).Str("instanceId", instanceID).Msg("failed to link instance")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// POST /v1/registry/instances/{instanceID}/unlink
func (h *RegistryHandler) UnlinkInstance(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.registry.Unlink(r.Context(), loc.TenantID, instanceID); err != nil {
		log.Error().Err(err).Str("instanceId", instanceID).Msg("failed to unlink instance")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// POST /v1/registry/instances/unlink-all
func (h *RegistryHandler) UnlinkAllInstances(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())

	count, err := h.registry.UnlinkAll(r.Context(), loc.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", loc.TenantID).Msg("failed to unlink instances")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unlinked", "count": count})
}

type resolveRequest struct {
	Phone     string `json:"phone"`
	ContactID string `json:"contactId"`
}

// POST /v1/registry/resolve
//
// Dry-run of the routing decision: answers which instance an outbound
// message for this contact would go through, without sending anything.
func (h *RegistryHandler) ResolveRoute(w http.ResponseWriter, r *http.Request) {
	loc := middleware.GetLocation(r.Context())

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	inst, err := h.resolver.Resolve(r.Context(), loc.ID, service.ResolveQuery{
		Phone:     req.Phone,
		ContactID: req.ContactID,
	})
	if err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("resolution failed")
		writeError(w, err)
		return
	}
	if inst == nil {
		writeJSON(w, http.StatusOK, map[string]any{"routed": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"routed":   true,
		"instance": formatInstance(inst),
	})
}
