package model

import (
	"time"
)

// AccountProfile governs whether a tenant's instances may be used at all.
// is_paused=false with paused_at set means the tenant is in its grace
// period; the sweep job pauses it once the period elapses.
type AccountProfile struct {
	ID             string     `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenantId"`
	Email          string     `db:"email" json:"email"`
	IsPaused       bool       `db:"is_paused" json:"isPaused"`
	PausedAt       *time.Time `db:"paused_at" json:"pausedAt,omitempty"`
	InstanceLimit  int        `db:"instance_limit" json:"instanceLimit"`
	BackendAPIKey  *string    `db:"backend_api_key" json:"-"`
	BackendBaseURL *string    `db:"backend_base_url" json:"backendBaseUrl,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// State derives the lifecycle state from the stored flags.
func (p *AccountProfile) State() AccountState {
	if p.IsPaused {
		return AccountStatePaused
	}
	if p.PausedAt != nil {
		return AccountStateGracePeriod
	}
	return AccountStateActive
}

// GraceExpired reports whether the grace period that started at paused_at
// has fully elapsed as of now.
func (p *AccountProfile) GraceExpired(now time.Time, grace time.Duration) bool {
	return !p.IsPaused && p.PausedAt != nil && now.After(p.PausedAt.Add(grace))
}

type CreateAccountProfileParams struct {
	TenantID       string
	Email          string
	InstanceLimit  int
	BackendAPIKey  *string
	BackendBaseURL *string
}

// TenantRef identifies a tenant the way billing webhooks do: by tenant id
// when the provider metadata carries one, otherwise by customer email.
type TenantRef struct {
	TenantID string
	Email    string
}
