package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/waconnect/bridge-server-go/internal/model"
)

type LocationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Location, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Location, error)
	FindByEmbedToken(ctx context.Context, token string) (*model.Location, error)
	Create(ctx context.Context, params model.CreateLocationParams) (*model.Location, error)
}

type locationRepo struct {
	db sqlxDB
}

func NewLocationRepository(db *sqlx.DB) LocationRepository {
	return &locationRepo{db: db}
}

func (r *locationRepo) FindByID(ctx context.Context, id string) (*model.Location, error) {
	var loc model.Location
	err := r.db.GetContext(ctx, &loc, `
		SELECT * FROM locations WHERE id = $1
	`, id)
	return HandleNotFound(&loc, err)
}

func (r *locationRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Location, error) {
	var loc model.Location
	err := r.db.GetContext(ctx, &loc, `
		SELECT * FROM locations WHERE external_id = $1
	`, externalID)
	return HandleNotFound(&loc, err)
}

func (r *locationRepo) FindByEmbedToken(ctx context.Context, token string) (*model.Location, error) {
	var loc model.Location
	err := r.db.GetContext(ctx, &loc, `
		SELECT * FROM locations WHERE embed_token = $1
	`, token)
	return HandleNotFound(&loc, err)
}

func (r *locationRepo) Create(ctx context.Context, params model.CreateLocationParams) (*model.Location, error) {
	var loc model.Location
	err := r.db.GetContext(ctx, &loc, `
		INSERT INTO locations (tenant_id, external_id, name, embed_token, access_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.TenantID, params.ExternalID, params.Name, params.EmbedToken, params.AccessToken)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
