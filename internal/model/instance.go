package model

import (
	"time"
)

// Instance is one connection to the messaging backend (one WhatsApp number).
// An instance links to at most one location; a location may own many
// instances.
type Instance struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenantId"`
	DisplayName  string         `db:"display_name" json:"displayName"`
	Token        string         `db:"connection_token" json:"-"`
	BaseURL      *string        `db:"base_url" json:"baseUrl,omitempty"`
	Status       InstanceStatus `db:"status" json:"status"`
	LocationID   *string        `db:"location_id" json:"locationId,omitempty"`
	PhoneNumber  *string        `db:"phone_number" json:"phoneNumber,omitempty"`
	IgnoreGroups bool           `db:"ignore_groups" json:"ignoreGroups"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// EffectiveBaseURL resolves the per-instance override against the tenant
// default.
func (i *Instance) EffectiveBaseURL(tenantDefault string) string {
	if i.BaseURL != nil && *i.BaseURL != "" {
		return *i.BaseURL
	}
	return tenantDefault
}

type CreateInstanceParams struct {
	TenantID     string
	DisplayName  string
	Token        string
	BaseURL      *string
	Status       InstanceStatus
	LocationID   *string
	PhoneNumber  *string
	IgnoreGroups bool
}

type UpdateInstanceParams struct {
	DisplayName  *string
	Status       *InstanceStatus
	PhoneNumber  *string
	IgnoreGroups *bool
}
