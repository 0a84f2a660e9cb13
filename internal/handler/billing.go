package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/waconnect/bridge-server-go/internal/config"
	"github.com/waconnect/bridge-server-go/internal/model"
)

const billingPayloadLimit = 64 * 1024

type lifecycleApplier interface {
	Apply(ctx context.Context, ref model.TenantRef, kind model.BillingEventKind, quantity int) error
}

type eventDeduper interface {
	MarkBillingEvent(ctx context.Context, eventID string, ttl time.Duration) bool
	ReleaseBillingEvent(ctx context.Context, eventID string)
}

// BillingHandler turns Stripe webhook events into account lifecycle
// transitions. Events it does not care about answer 200 immediately;
// processing failures answer 500 so Stripe retries.
type BillingHandler struct {
	lifecycle     lifecycleApplier
	dedup         eventDeduper
	webhookSecret string
}

func NewBillingHandler(lifecycle lifecycleApplier, dedup eventDeduper, webhookSecret string) *BillingHandler {
	return &BillingHandler{
		lifecycle:     lifecycle,
		dedup:         dedup,
		webhookSecret: webhookSecret,
	}
}

func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, billingPayloadLimit))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
		return
	}

	event, err := h.parseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("stripe webhook signature verification failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
		return
	}

	kind, quantity, ref, ok := classifyEvent(event)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if ref.TenantID == "" && ref.Email == "" {
		log.Warn().Str("eventId", event.ID).Str("type", string(event.Type)).
			Msg("billing event carries no tenant reference")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()

	// Stripe redelivers; the redis marker makes replays cheap no-ops.
	if h.dedup != nil && !h.dedup.MarkBillingEvent(ctx, event.ID, config.BillingEventDedupTTL) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	if err := h.lifecycle.Apply(ctx, ref, kind, quantity); err != nil {
		log.Error().Err(err).Str("eventId", event.ID).Str("type", string(event.Type)).
			Msg("failed to apply billing event")
		// Drop the marker so Stripe's redelivery of this event is processed
		// rather than answered as a duplicate.
		if h.dedup != nil {
			h.dedup.ReleaseBillingEvent(ctx, event.ID)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BillingHandler) parseEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if h.webhookSecret == "" {
		// Local/dev convenience only; production config validation rejects
		// an empty secret.
		log.Warn().Msg("stripe webhook secret not set, skipping signature verification")
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return stripe.Event{}, err
		}
		return event, nil
	}
	return webhook.ConstructEvent(payload, sigHeader, h.webhookSecret)
}

// classifyEvent maps the Stripe event types we act on to lifecycle kinds and
// extracts the tenant reference from the payload object.
func classifyEvent(event stripe.Event) (model.BillingEventKind, int, model.TenantRef, bool) {
	if event.Data == nil {
		return "", 0, model.TenantRef{}, false
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", 0, model.TenantRef{}, false
		}
		return model.BillingPaymentSucceeded, 0, invoiceTenantRef(&inv), true

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", 0, model.TenantRef{}, false
		}
		return model.BillingPaymentFailed, 0, invoiceTenantRef(&inv), true

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", 0, model.TenantRef{}, false
		}
		return model.BillingSubscriptionCanceled, 0, subscriptionTenantRef(&sub), true

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", 0, model.TenantRef{}, false
		}
		return model.BillingSubscriptionUpdated, subscriptionQuantity(&sub), subscriptionTenantRef(&sub), true
	}
	return "", 0, model.TenantRef{}, false
}

func invoiceTenantRef(inv *stripe.Invoice) model.TenantRef {
	ref := model.TenantRef{
		TenantID: inv.Metadata["tenant_id"],
		Email:    inv.CustomerEmail,
	}
	if ref.TenantID == "" && inv.SubscriptionDetails != nil {
		ref.TenantID = inv.SubscriptionDetails.Metadata["tenant_id"]
	}
	return ref
}

func subscriptionTenantRef(sub *stripe.Subscription) model.TenantRef {
	ref := model.TenantRef{TenantID: sub.Metadata["tenant_id"]}
	if sub.Customer != nil {
		ref.Email = sub.Customer.Email
	}
	return ref
}

func subscriptionQuantity(sub *stripe.Subscription) int {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0
	}
	return int(sub.Items.Data[0].Quantity)
}
