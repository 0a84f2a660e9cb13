package model

import (
	"time"
)

// ContactRoutingPreference records which instance handles a contact at a
// location. Rows are keyed by normalized lead phone when one is known,
// otherwise by CRM contact id. Among rows matching a lookup, the newest
// updated_at is authoritative; a row pointing at a missing or disconnected
// instance is ignored by the resolver.
type ContactRoutingPreference struct {
	ID         string    `db:"id" json:"id"`
	LocationID string    `db:"location_id" json:"locationId"`
	LeadPhone  *string   `db:"lead_phone" json:"leadPhone,omitempty"`
	ContactID  *string   `db:"contact_id" json:"contactId,omitempty"`
	InstanceID string    `db:"instance_id" json:"instanceId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

type SetPreferenceParams struct {
	LocationID string
	LeadPhone  *string // normalized, or nil for contact-only rows
	ContactID  *string
	InstanceID string
}

// PhoneContactMapping remembers the raw phone a CRM contact was first seen
// with, because the CRM contact id does not always carry the phone inline.
// First-seen wins; the stored phone is normalized only at lookup time.
type PhoneContactMapping struct {
	ID         string    `db:"id" json:"id"`
	ContactID  string    `db:"contact_id" json:"contactId"`
	LocationID string    `db:"location_id" json:"locationId"`
	Phone      string    `db:"phone" json:"phone"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type CreatePhoneMappingParams struct {
	ContactID  string
	LocationID string
	Phone      string
}
