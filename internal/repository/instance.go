package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/waconnect/bridge-server-go/internal/model"
)

type InstanceRepository interface {
	FindByID(ctx context.Context, id string) (*model.Instance, error)
	FindByToken(ctx context.Context, token string) (*model.Instance, error)
	FindByTenant(ctx context.Context, tenantID string) ([]model.Instance, error)
	FindAll(ctx context.Context) ([]model.Instance, error)
	// FindConnectedByLocation returns connected instances linked to the
	// location, ordered by display name so the resolver's fallback and the
	// switcher UI agree on "first".
	FindConnectedByLocation(ctx context.Context, locationID string) ([]model.Instance, error)
	CountConnectedByTenant(ctx context.Context, tenantID string) (int, error)
	Create(ctx context.Context, params model.CreateInstanceParams) (*model.Instance, error)
	Update(ctx context.Context, id string, params model.UpdateInstanceParams) (*model.Instance, error)
	UpdateStatus(ctx context.Context, id string, status model.InstanceStatus, phoneNumber *string) error
	Link(ctx context.Context, id, locationID string) error
	Unlink(ctx context.Context, id string) error
	// UnlinkAllByTenant clears the location link on every instance the
	// tenant owns in a single statement, so a concurrent resolver never
	// observes a half-unlinked tenant.
	UnlinkAllByTenant(ctx context.Context, tenantID string) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) InstanceRepository
}

type instanceRepo struct {
	db sqlxDB
}

func NewInstanceRepository(db *sqlx.DB) InstanceRepository {
	return &instanceRepo{db: db}
}

func (r *instanceRepo) WithTx(tx *sqlx.Tx) InstanceRepository {
	return &instanceRepo{db: tx}
}

func (r *instanceRepo) FindByID(ctx context.Context, id string) (*model.Instance, error) {
	var inst model.Instance
	err := r.db.GetContext(ctx, &inst, `
		SELECT * FROM instances WHERE id = $1
	`, id)
	return HandleNotFound(&inst, err)
}

func (r *instanceRepo) FindByToken(ctx context.Context, token string) (*model.Instance, error) {
	var inst model.Instance
	err := r.db.GetContext(ctx, &inst, `
		SELECT * FROM instances WHERE connection_token = $1
	`, token)
	return HandleNotFound(&inst, err)
}

func (r *instanceRepo) FindByTenant(ctx context.Context, tenantID string) ([]model.Instance, error) {
	var instances []model.Instance
	err := r.db.SelectContext(ctx, &instances, `
		SELECT * FROM instances
		WHERE tenant_id = $1
		ORDER BY display_name ASC, id ASC
	`, tenantID)
	return instances, err
}

func (r *instanceRepo) FindAll(ctx context.Context) ([]model.Instance, error) {
	var instances []model.Instance
	err := r.db.SelectContext(ctx, &instances, `
		SELECT * FROM instances ORDER BY tenant_id, display_name ASC
	`)
	return instances, err
}

func (r *instanceRepo) FindConnectedByLocation(ctx context.Context, locationID string) ([]model.Instance, error) {
	var instances []model.Instance
	err := r.db.SelectContext(ctx, &instances, `
		SELECT * FROM instances
		WHERE location_id = $1 AND status = 'connected'
		ORDER BY display_name ASC, id ASC
	`, locationID)
	return instances, err
}

func (r *instanceRepo) CountConnectedByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM instances
		WHERE tenant_id = $1 AND status = 'connected'
	`, tenantID)
	return count, err
}

func (r *instanceRepo) Create(ctx context.Context, params model.CreateInstanceParams) (*model.Instance, error) {
	var inst model.Instance
	err := r.db.GetContext(ctx, &inst, `
		INSERT INTO instances
			(tenant_id, display_name, connection_token, base_url, status, location_id, phone_number, ignore_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.TenantID, params.DisplayName, params.Token, params.BaseURL,
		params.Status, params.LocationID, params.PhoneNumber, params.IgnoreGroups)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *instanceRepo) Update(ctx context.Context, id string, params model.UpdateInstanceParams) (*model.Instance, error) {
	var inst model.Instance
	err := r.db.GetContext(ctx, &inst, `
		UPDATE instances SET
			display_name = COALESCE($2, display_name),
			status = COALESCE($3, status),
			phone_number = COALESCE($4, phone_number),
			ignore_groups = COALESCE($5, ignore_groups),
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, params.DisplayName, params.Status, params.PhoneNumber, params.IgnoreGroups)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *instanceRepo) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus, phoneNumber *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE instances SET
			status = $2,
			phone_number = COALESCE($3, phone_number),
			updated_at = NOW()
		WHERE id = $1
	`, id, status, phoneNumber)
	return err
}

func (r *instanceRepo) Link(ctx context.Context, id, locationID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE instances SET location_id = $2, updated_at = NOW() WHERE id = $1
	`, id, locationID)
	return err
}

func (r *instanceRepo) Unlink(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE instances SET location_id = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *instanceRepo) UnlinkAllByTenant(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances SET location_id = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND location_id IS NOT NULL
	`, tenantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
