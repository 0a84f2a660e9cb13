package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/service"
)

// Fakes over the relay's collaborator interfaces. State-based rather than
// expectation-based: the webhook flows branch a lot and recorded calls are
// easier to assert on.

type fakeResolver struct {
	instance    *model.Instance
	resolveErr  error
	remembered  []string
	firstSeen   []string
	rememberErr error
}

func (f *fakeResolver) Resolve(ctx context.Context, locationID string, q service.ResolveQuery) (*model.Instance, error) {
	return f.instance, f.resolveErr
}

func (f *fakeResolver) Remember(ctx context.Context, locationID, rawPhone, contactID, instanceID string) error {
	f.remembered = append(f.remembered, instanceID)
	return f.rememberErr
}

func (f *fakeResolver) RecordFirstSeenPhone(ctx context.Context, locationID, contactID, rawPhone string) error {
	f.firstSeen = append(f.firstSeen, rawPhone)
	return nil
}

type fakeOverride struct {
	instance *model.Instance
	payload  string
}

func (f *fakeOverride) Apply(ctx context.Context, loc *model.Location, contactPhone, contactID, body string) (*model.Instance, string, error) {
	if f.instance != nil {
		return f.instance, f.payload, nil
	}
	return nil, body, nil
}

type fakeSender struct {
	sent    []string
	sendErr error
}

func (f *fakeSender) SendText(ctx context.Context, baseURL, token, toPhone, text string) error {
	f.sent = append(f.sent, toPhone+"|"+text)
	return f.sendErr
}

type fakeCRM struct {
	contactID string
	contact   *service.CRMContact
	uploadErr error
}

func (f *fakeCRM) UploadInboundMessage(ctx context.Context, token, externalLocationID, phone, name, body string) (string, error) {
	return f.contactID, f.uploadErr
}

func (f *fakeCRM) GetContact(ctx context.Context, token, contactID string) (*service.CRMContact, error) {
	if f.contact == nil {
		return nil, errors.New("contact not found")
	}
	return f.contact, nil
}

type fakeLocationRepo struct {
	byExternal map[string]*model.Location
	byID       map[string]*model.Location
}

func (f *fakeLocationRepo) FindByID(ctx context.Context, id string) (*model.Location, error) {
	return f.byID[id], nil
}

func (f *fakeLocationRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Location, error) {
	return f.byExternal[externalID], nil
}

type fakeInstanceRepoSimple struct {
	byID map[string]*model.Instance
}

func (f *fakeInstanceRepoSimple) FindByID(ctx context.Context, id string) (*model.Instance, error) {
	return f.byID[id], nil
}

func testLocation() *model.Location {
	token := "crm-token"
	return &model.Location{
		ID:          "loc-1",
		TenantID:    "tenant-1",
		ExternalID:  "ext-loc-1",
		AccessToken: &token,
	}
}

func connectedInstance() *model.Instance {
	return &model.Instance{
		ID:          "inst-a",
		TenantID:    "tenant-1",
		DisplayName: "Atendimento",
		Token:       "conn-token",
		Status:      model.InstanceStatusConnected,
	}
}

func relayFixture(resolver *fakeResolver, override *fakeOverride, sender *fakeSender, crm *fakeCRM, locations *fakeLocationRepo, instances *fakeInstanceRepoSimple) *RelayHandler {
	return NewRelayHandler(resolver, override, sender, crm, locations, instances, "http://backend.local", "55")
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestOutboundWebhook(t *testing.T) {
	loc := testLocation()
	locations := &fakeLocationRepo{byExternal: map[string]*model.Location{"ext-loc-1": loc}}

	t.Run("resolves and sends", func(t *testing.T) {
		resolver := &fakeResolver{instance: connectedInstance()}
		sender := &fakeSender{}
		h := relayFixture(resolver, &fakeOverride{}, sender, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"contactId":  "contact-9",
			"phone":      "(11) 98765-4321",
			"message":    "bom dia",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "sent", body["status"])
		assert.Equal(t, "inst-a", body["instanceId"])
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "5511987654321|bom dia", sender.sent[0])
		assert.Equal(t, []string{"inst-a"}, resolver.remembered)
		assert.Equal(t, []string{"5511987654321"}, resolver.firstSeen)
	})

	t.Run("override forces the instance and strips the directive", func(t *testing.T) {
		forced := connectedInstance()
		forced.ID = "inst-b"
		resolver := &fakeResolver{instance: connectedInstance()}
		sender := &fakeSender{}
		override := &fakeOverride{instance: forced, payload: "segue o boleto"}
		h := relayFixture(resolver, override, sender, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"phone":      "5511987654321",
			"message":    "#NAME:Suporte\nsegue o boleto",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "inst-b", body["instanceId"])
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "5511987654321|segue o boleto", sender.sent[0])
	})

	t.Run("no connected instance answers no_route with 200", func(t *testing.T) {
		h := relayFixture(&fakeResolver{}, &fakeOverride{}, &fakeSender{}, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"phone":      "5511987654321",
			"message":    "oi",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "no_route", decodeBody(t, w)["status"])
	})

	t.Run("unknown location is acknowledged, not retried", func(t *testing.T) {
		h := relayFixture(&fakeResolver{}, &fakeOverride{}, &fakeSender{}, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-unknown",
			"message":    "oi",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ignored", decodeBody(t, w)["status"])
	})

	t.Run("missing phone falls back to CRM contact lookup", func(t *testing.T) {
		resolver := &fakeResolver{instance: connectedInstance()}
		sender := &fakeSender{}
		crm := &fakeCRM{contact: &service.CRMContact{ID: "contact-9", Phone: "11912345678"}}
		h := relayFixture(resolver, &fakeOverride{}, sender, crm, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"contactId":  "contact-9",
			"message":    "oi",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "5511912345678|oi", sender.sent[0])
	})

	t.Run("unusable destination phone is a business no-op", func(t *testing.T) {
		resolver := &fakeResolver{instance: connectedInstance()}
		sender := &fakeSender{}
		h := relayFixture(resolver, &fakeOverride{}, sender, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"phone":      "123",
			"message":    "oi",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "invalid_phone", decodeBody(t, w)["status"])
		assert.Empty(t, sender.sent)
	})

	t.Run("send failure propagates as an error status", func(t *testing.T) {
		resolver := &fakeResolver{instance: connectedInstance()}
		sender := &fakeSender{sendErr: errors.New("backend down")}
		h := relayFixture(resolver, &fakeOverride{}, sender, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := postJSON(t, h.OutboundWebhook, "/webhooks/crm", map[string]any{
			"locationId": "ext-loc-1",
			"phone":      "5511987654321",
			"message":    "oi",
		})

		assert.GreaterOrEqual(t, w.Code, 500)
		assert.Empty(t, resolver.remembered, "failed send must not be remembered")
	})
}

func inboundRequestFor(t *testing.T, h *RelayHandler, instanceID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/backend/"+instanceID, bytes.NewReader(data))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("instanceID", instanceID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.InboundWebhook(w, req)
	return w
}

func TestInboundWebhook(t *testing.T) {
	loc := testLocation()
	locID := loc.ID
	locations := &fakeLocationRepo{byID: map[string]*model.Location{"loc-1": loc}}

	linked := connectedInstance()
	linked.LocationID = &locID

	t.Run("uploads to CRM and records affinity", func(t *testing.T) {
		resolver := &fakeResolver{}
		crm := &fakeCRM{contactID: "contact-9"}
		instances := &fakeInstanceRepoSimple{byID: map[string]*model.Instance{"inst-a": linked}}
		h := relayFixture(resolver, &fakeOverride{}, &fakeSender{}, crm, locations, instances)

		w := inboundRequestFor(t, h, "inst-a", map[string]any{
			"from":    "5511987654321@s.whatsapp.net",
			"name":    "Maria",
			"message": "oi, quero saber do produto",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "contact-9", body["contactId"])
		assert.Equal(t, []string{"5511987654321"}, resolver.firstSeen)
		assert.Equal(t, []string{"inst-a"}, resolver.remembered)
	})

	t.Run("unknown instance answers 404", func(t *testing.T) {
		h := relayFixture(&fakeResolver{}, &fakeOverride{}, &fakeSender{}, &fakeCRM{}, locations, &fakeInstanceRepoSimple{})

		w := inboundRequestFor(t, h, "inst-missing", map[string]any{"from": "x", "message": "oi"})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unlinked instance drops the message", func(t *testing.T) {
		unlinked := connectedInstance()
		instances := &fakeInstanceRepoSimple{byID: map[string]*model.Instance{"inst-a": unlinked}}
		resolver := &fakeResolver{}
		h := relayFixture(resolver, &fakeOverride{}, &fakeSender{}, &fakeCRM{}, locations, instances)

		w := inboundRequestFor(t, h, "inst-a", map[string]any{"from": "x", "message": "oi"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ignored", decodeBody(t, w)["status"])
		assert.Empty(t, resolver.firstSeen)
	})

	t.Run("group message dropped when instance ignores groups", func(t *testing.T) {
		grouped := connectedInstance()
		grouped.LocationID = &locID
		grouped.IgnoreGroups = true
		instances := &fakeInstanceRepoSimple{byID: map[string]*model.Instance{"inst-a": grouped}}
		crm := &fakeCRM{contactID: "contact-9"}
		h := relayFixture(&fakeResolver{}, &fakeOverride{}, &fakeSender{}, crm, locations, instances)

		w := inboundRequestFor(t, h, "inst-a", map[string]any{
			"from":    "123456-789@g.us",
			"message": "mensagem de grupo",
			"isGroup": true,
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ignored", decodeBody(t, w)["status"])
	})

	t.Run("upload failure answers 5xx so the backend retries", func(t *testing.T) {
		instances := &fakeInstanceRepoSimple{byID: map[string]*model.Instance{"inst-a": linked}}
		crm := &fakeCRM{uploadErr: errors.New("crm down")}
		h := relayFixture(&fakeResolver{}, &fakeOverride{}, &fakeSender{}, crm, locations, instances)

		w := inboundRequestFor(t, h, "inst-a", map[string]any{"from": "5511987654321@s.whatsapp.net", "message": "oi"})

		assert.GreaterOrEqual(t, w.Code, 500)
	})
}
