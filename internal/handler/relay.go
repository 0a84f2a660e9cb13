package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/phone"
	"github.com/waconnect/bridge-server-go/internal/service"
)

// Interfaces over the services the relay needs, so handler tests can fake
// them without a database or live backends.

type routingResolver interface {
	Resolve(ctx context.Context, locationID string, q service.ResolveQuery) (*model.Instance, error)
	Remember(ctx context.Context, locationID, rawPhone, contactID, instanceID string) error
	RecordFirstSeenPhone(ctx context.Context, locationID, contactID, rawPhone string) error
}

type overrideApplier interface {
	Apply(ctx context.Context, loc *model.Location, contactPhone, contactID, body string) (*model.Instance, string, error)
}

type messageSender interface {
	SendText(ctx context.Context, baseURL, token, toPhone, text string) error
}

type crmUploader interface {
	UploadInboundMessage(ctx context.Context, token, externalLocationID, phone, name, body string) (string, error)
	GetContact(ctx context.Context, token, contactID string) (*service.CRMContact, error)
}

type locationFinder interface {
	FindByID(ctx context.Context, id string) (*model.Location, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Location, error)
}

type instanceFinder interface {
	FindByID(ctx context.Context, id string) (*model.Instance, error)
}

// RelayHandler glues the CRM and the messaging backend together: outbound
// CRM events are resolved to an instance and sent; inbound backend messages
// are uploaded into the CRM conversation. Business no-ops answer 2xx so the
// sender does not retry; storage and transport failures answer non-2xx so
// it does.
type RelayHandler struct {
	resolver       routingResolver
	overrides      overrideApplier
	backend        messageSender
	crm            crmUploader
	locations      locationFinder
	instances      instanceFinder
	defaultBaseURL string
	countryCode    string
}

func NewRelayHandler(
	resolver routingResolver,
	overrides overrideApplier,
	backend messageSender,
	crm crmUploader,
	locations locationFinder,
	instances instanceFinder,
	defaultBaseURL, countryCode string,
) *RelayHandler {
	return &RelayHandler{
		resolver:       resolver,
		overrides:      overrides,
		backend:        backend,
		crm:            crm,
		locations:      locations,
		instances:      instances,
		defaultBaseURL: defaultBaseURL,
		countryCode:    countryCode,
	}
}

type outboundRequest struct {
	LocationID string `json:"locationId"` // CRM external location id
	ContactID  string `json:"contactId"`
	Phone      string `json:"phone"`
	Message    string `json:"message"`
}

type inboundRequest struct {
	From    string `json:"from"`
	Name    string `json:"name"`
	Message string `json:"message"`
	IsGroup bool   `json:"isGroup"`
}

// OutboundWebhook handles a CRM outbound-message event: interpret any
// override directive, resolve the instance, send, and remember the routing.
func (h *RelayHandler) OutboundWebhook(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.LocationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "locationId is required"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()

	loc, err := h.locations.FindByExternalID(ctx, req.LocationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if loc == nil {
		log.Warn().Str("externalLocationId", req.LocationID).Msg("outbound event for unknown location")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Overrides apply before resolution so this very send uses the new
	// routing.
	inst, text, err := h.overrides.Apply(ctx, loc, req.Phone, req.ContactID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	if inst == nil {
		inst, err = h.resolver.Resolve(ctx, loc.ID, service.ResolveQuery{
			Phone:     req.Phone,
			ContactID: req.ContactID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if inst == nil {
		// Valid outcome: nothing connected. The CRM side suppresses the
		// send rather than retrying.
		log.Info().Str("locationId", loc.ID).Msg("no connected instance, message not sent")
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_route"})
		return
	}

	destination, ok := h.destinationPhone(ctx, loc, req)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalid_phone"})
		return
	}

	if err := h.backend.SendText(ctx, inst.EffectiveBaseURL(h.defaultBaseURL), inst.Token, destination, text); err != nil {
		log.Error().Err(err).Str("instanceId", inst.ID).Msg("outbound send failed")
		writeError(w, err)
		return
	}

	// First successful resolution becomes the durable preference.
	if err := h.resolver.Remember(ctx, loc.ID, destination, req.ContactID, inst.ID); err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("failed to persist routing preference")
	}
	if err := h.resolver.RecordFirstSeenPhone(ctx, loc.ID, req.ContactID, destination); err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("failed to persist phone mapping")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "sent",
		"instanceId": inst.ID,
	})
}

// destinationPhone picks the number to send to: the event's phone, or the
// contact's phone fetched from the CRM when the event carried none.
func (h *RelayHandler) destinationPhone(ctx context.Context, loc *model.Location, req outboundRequest) (string, bool) {
	raw := req.Phone
	if raw == "" && req.ContactID != "" && loc.AccessToken != nil {
		contact, err := h.crm.GetContact(ctx, *loc.AccessToken, req.ContactID)
		if err != nil {
			log.Warn().Err(err).Str("contactId", req.ContactID).Msg("contact lookup failed")
			return "", false
		}
		raw = contact.Phone
	}

	normalized, ok := phone.Normalize(raw, h.countryCode)
	if !ok {
		log.Warn().Str("locationId", loc.ID).Msg("outbound event has no usable destination phone")
		return "", false
	}
	return normalized, true
}

// InboundWebhook receives a message from the messaging backend for one
// instance and uploads it into the CRM conversation, recording the routing
// affinity so replies go back out through the same instance.
func (h *RelayHandler) InboundWebhook(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	ctx := r.Context()

	inst, err := h.instances.FindByID(ctx, instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if inst == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown instance"})
		return
	}
	if inst.LocationID == nil {
		log.Debug().Str("instanceId", inst.ID).Msg("inbound message for unlinked instance, dropping")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if req.IsGroup && inst.IgnoreGroups {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	loc, err := h.locations.FindByID(ctx, *inst.LocationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if loc == nil || loc.AccessToken == nil {
		log.Warn().Str("instanceId", inst.ID).Msg("inbound message but location has no CRM token, dropping")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	fromPhone := stripJID(req.From)

	contactID, err := h.crm.UploadInboundMessage(ctx, *loc.AccessToken, loc.ExternalID, fromPhone, req.Name, req.Message)
	if err != nil {
		log.Error().Err(err).Str("instanceId", inst.ID).Msg("inbound upload to CRM failed")
		writeError(w, err)
		return
	}

	if err := h.resolver.RecordFirstSeenPhone(ctx, loc.ID, contactID, fromPhone); err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("failed to persist phone mapping")
	}
	if err := h.resolver.Remember(ctx, loc.ID, fromPhone, contactID, inst.ID); err != nil {
		log.Error().Err(err).Str("locationId", loc.ID).Msg("failed to persist routing preference")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"contactId": contactID,
	})
}

// stripJID drops the backend's JID suffix ("5511...@s.whatsapp.net").
func stripJID(from string) string {
	if i := strings.IndexAny(from, "@:"); i >= 0 {
		return from[:i]
	}
	return from
}
