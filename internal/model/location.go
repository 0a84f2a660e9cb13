package model

import (
	"time"
)

// Location is a CRM sub-account. ExternalID is the identifier the CRM
// assigns; inbound webhooks carry it, so lookups go through it rather than
// the primary key. EmbedToken authenticates the iframe-embedded consumer.
type Location struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenantId"`
	ExternalID  string    `db:"external_id" json:"externalId"`
	Name        string    `db:"name" json:"name"`
	EmbedToken  string    `db:"embed_token" json:"-"`
	AccessToken *string   `db:"access_token" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateLocationParams struct {
	TenantID    string
	ExternalID  string
	Name        string
	EmbedToken  string
	AccessToken *string
}
