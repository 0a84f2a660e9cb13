package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/waconnect/bridge-server-go/internal/model"
)

type RoutingRepository interface {
	// FindPreference looks up a routing preference tolerantly: an exact
	// normalized-phone match or a trailing-10-digit match both count, and
	// the newest updated_at wins when several rows match. Historical rows
	// were normalized inconsistently; exact equality would fragment the
	// routing history of one human contact.
	FindPreference(ctx context.Context, locationID, normalizedPhone, last10 string) (*model.ContactRoutingPreference, error)
	FindPreferenceByContact(ctx context.Context, locationID, contactID string) (*model.ContactRoutingPreference, error)
	// SetPreference upserts with the current timestamp. Last write wins;
	// there is no optimistic concurrency because the most recent human or
	// automated override should always take effect.
	SetPreference(ctx context.Context, params model.SetPreferenceParams) (*model.ContactRoutingPreference, error)
	FindPhoneMapping(ctx context.Context, locationID, contactID string) (*model.PhoneContactMapping, error)
	// CreatePhoneMappingIfAbsent records the first-seen phone for a
	// contact; later sightings never overwrite it.
	CreatePhoneMappingIfAbsent(ctx context.Context, params model.CreatePhoneMappingParams) error
}

type routingRepo struct {
	db sqlxDB
}

func NewRoutingRepository(db *sqlx.DB) RoutingRepository {
	return &routingRepo{db: db}
}

func (r *routingRepo) FindPreference(ctx context.Context, locationID, normalizedPhone, last10 string) (*model.ContactRoutingPreference, error) {
	var pref model.ContactRoutingPreference
	err := r.db.GetContext(ctx, &pref, `
		SELECT * FROM contact_routing_preferences
		WHERE location_id = $1
		  AND lead_phone IS NOT NULL
		  AND (lead_phone = $2 OR RIGHT(lead_phone, 10) = $3)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, locationID, normalizedPhone, last10)
	return HandleNotFound(&pref, err)
}

func (r *routingRepo) FindPreferenceByContact(ctx context.Context, locationID, contactID string) (*model.ContactRoutingPreference, error) {
	var pref model.ContactRoutingPreference
	err := r.db.GetContext(ctx, &pref, `
		SELECT * FROM contact_routing_preferences
		WHERE location_id = $1 AND contact_id = $2
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, locationID, contactID)
	return HandleNotFound(&pref, err)
}

func (r *routingRepo) SetPreference(ctx context.Context, params model.SetPreferenceParams) (*model.ContactRoutingPreference, error) {
	var pref model.ContactRoutingPreference
	var err error
	if params.LeadPhone != nil {
		err = r.db.GetContext(ctx, &pref, `
			INSERT INTO contact_routing_preferences (location_id, lead_phone, contact_id, instance_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (location_id, lead_phone) WHERE lead_phone IS NOT NULL DO UPDATE SET
				contact_id = COALESCE(EXCLUDED.contact_id, contact_routing_preferences.contact_id),
				instance_id = EXCLUDED.instance_id,
				updated_at = NOW()
			RETURNING *
		`, params.LocationID, params.LeadPhone, params.ContactID, params.InstanceID)
	} else {
		err = r.db.GetContext(ctx, &pref, `
			INSERT INTO contact_routing_preferences (location_id, lead_phone, contact_id, instance_id)
			VALUES ($1, NULL, $2, $3)
			ON CONFLICT (location_id, contact_id) WHERE lead_phone IS NULL DO UPDATE SET
				instance_id = EXCLUDED.instance_id,
				updated_at = NOW()
			RETURNING *
		`, params.LocationID, params.ContactID, params.InstanceID)
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (r *routingRepo) FindPhoneMapping(ctx context.Context, locationID, contactID string) (*model.PhoneContactMapping, error) {
	var mapping model.PhoneContactMapping
	err := r.db.GetContext(ctx, &mapping, `
		SELECT * FROM phone_contact_mappings
		WHERE location_id = $1 AND contact_id = $2
	`, locationID, contactID)
	return HandleNotFound(&mapping, err)
}

func (r *routingRepo) CreatePhoneMappingIfAbsent(ctx context.Context, params model.CreatePhoneMappingParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phone_contact_mappings (contact_id, location_id, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id, location_id) DO NOTHING
	`, params.ContactID, params.LocationID, params.Phone)
	return err
}
