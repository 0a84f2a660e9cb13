package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/waconnect/bridge-server-go/internal/model"
)

type AccountProfileRepository interface {
	FindByTenant(ctx context.Context, tenantID string) (*model.AccountProfile, error)
	FindByEmail(ctx context.Context, email string) (*model.AccountProfile, error)
	Create(ctx context.Context, params model.CreateAccountProfileParams) (*model.AccountProfile, error)
	// StartGracePeriod sets paused_at = NOW() only when the tenant is not
	// already in a grace period or paused. Repeated payment failures must
	// not extend the window. Returns true when a new grace period started.
	StartGracePeriod(ctx context.Context, tenantID string) (bool, error)
	// ClearPause reactivates a tenant after successful payment: clears
	// both is_paused and paused_at.
	ClearPause(ctx context.Context, tenantID string) error
	SetPaused(ctx context.Context, tenantID string) error
	UpdateInstanceLimit(ctx context.Context, tenantID string, limit int) error
	// FindGraceExpired returns profiles whose grace period started before
	// the cutoff and that have not been paused yet.
	FindGraceExpired(ctx context.Context, before time.Time) ([]model.AccountProfile, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountProfileRepository
}

type accountProfileRepo struct {
	db sqlxDB
}

func NewAccountProfileRepository(db *sqlx.DB) AccountProfileRepository {
	return &accountProfileRepo{db: db}
}

func (r *accountProfileRepo) WithTx(tx *sqlx.Tx) AccountProfileRepository {
	return &accountProfileRepo{db: tx}
}

func (r *accountProfileRepo) FindByTenant(ctx context.Context, tenantID string) (*model.AccountProfile, error) {
	var profile model.AccountProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM account_profiles WHERE tenant_id = $1
	`, tenantID)
	return HandleNotFound(&profile, err)
}

func (r *accountProfileRepo) FindByEmail(ctx context.Context, email string) (*model.AccountProfile, error) {
	var profile model.AccountProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM account_profiles WHERE LOWER(email) = LOWER($1)
	`, email)
	return HandleNotFound(&profile, err)
}

func (r *accountProfileRepo) Create(ctx context.Context, params model.CreateAccountProfileParams) (*model.AccountProfile, error) {
	var profile model.AccountProfile
	err := r.db.GetContext(ctx, &profile, `
		INSERT INTO account_profiles (tenant_id, email, instance_limit, backend_api_key, backend_base_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.TenantID, params.Email, params.InstanceLimit, params.BackendAPIKey, params.BackendBaseURL)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *accountProfileRepo) StartGracePeriod(ctx context.Context, tenantID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE account_profiles SET paused_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND is_paused = FALSE AND paused_at IS NULL
	`, tenantID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *accountProfileRepo) ClearPause(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_profiles SET is_paused = FALSE, paused_at = NULL, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID)
	return err
}

func (r *accountProfileRepo) SetPaused(ctx context.Context, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_profiles SET is_paused = TRUE, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID)
	return err
}

func (r *accountProfileRepo) UpdateInstanceLimit(ctx context.Context, tenantID string, limit int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_profiles SET instance_limit = $2, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, limit)
	return err
}

func (r *accountProfileRepo) FindGraceExpired(ctx context.Context, before time.Time) ([]model.AccountProfile, error) {
	var profiles []model.AccountProfile
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT * FROM account_profiles
		WHERE is_paused = FALSE AND paused_at IS NOT NULL AND paused_at < $1
		ORDER BY paused_at ASC
	`, before)
	return profiles, err
}
