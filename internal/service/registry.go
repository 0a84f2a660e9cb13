package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/database"
	apperrors "github.com/waconnect/bridge-server-go/internal/errors"
	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/redis"
	"github.com/waconnect/bridge-server-go/internal/repository"
)

// routingCache is the connected-set cache with invalidation-on-write
// semantics. Satisfied by *redis.RoutingCache.
type routingCache interface {
	GetConnected(ctx context.Context, locationID string) ([]model.Instance, bool)
	SetConnected(ctx context.Context, locationID string, instances []model.Instance)
	Invalidate(ctx context.Context, locationIDs ...string)
}

var _ routingCache = (*redis.RoutingCache)(nil)

// RegistryService owns the instance registry: the durable set of messaging-
// backend connections per tenant, their health, and their links to CRM
// locations. Every mutation invalidates the routing cache for the affected
// locations before returning, so the resolver never routes through a stale
// connected set.
type RegistryService struct {
	db        *database.DB
	instances repository.InstanceRepository
	profiles  repository.AccountProfileRepository
	backend   *BackendClient
	cache     routingCache
}

func NewRegistryService(
	db *database.DB,
	instances repository.InstanceRepository,
	profiles repository.AccountProfileRepository,
	backend *BackendClient,
	cache routingCache,
) *RegistryService {
	return &RegistryService{
		db:        db,
		instances: instances,
		profiles:  profiles,
		backend:   backend,
		cache:     cache,
	}
}

// ListConnected returns the location's connected instances in display-name
// order, through the per-location cache.
func (s *RegistryService) ListConnected(ctx context.Context, locationID string) ([]model.Instance, error) {
	if cached, ok := s.cache.GetConnected(ctx, locationID); ok {
		return cached, nil
	}

	instances, err := s.instances.FindConnectedByLocation(ctx, locationID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	s.cache.SetConnected(ctx, locationID, instances)
	return instances, nil
}

// Connect registers a new instance for the tenant with a fresh connection
// token and probes the backend once for its initial state.
func (s *RegistryService) Connect(ctx context.Context, tenantID, displayName string, baseURL *string, ignoreGroups bool) (*model.Instance, error) {
	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if profile == nil {
		return nil, apperrors.NotFound("Account profile")
	}
	if err := s.checkInstanceLimit(ctx, profile); err != nil {
		return nil, err
	}

	inst, err := s.instances.Create(ctx, model.CreateInstanceParams{
		TenantID:     tenantID,
		DisplayName:  displayName,
		Token:        uuid.NewString(),
		BaseURL:      baseURL,
		Status:       model.InstanceStatusConnecting,
		IgnoreGroups: ignoreGroups,
	})
	if err != nil {
		return nil, apperrors.Storage(err)
	}

	s.probeInstance(ctx, *inst, s.tenantBaseURL(profile))

	log.Info().
		Str("tenantId", tenantID).
		Str("instanceId", inst.ID).
		Msg("instance registered")

	return s.instances.FindByID(ctx, inst.ID)
}

// ImportFromBackend pulls the backend's own instance list with the tenant's
// admin credential and registers the entries not yet present, diffed by
// connection token. The token is globally unique, so an instance already
// claimed by any tenant is skipped.
func (s *RegistryService) ImportFromBackend(ctx context.Context, tenantID string) ([]model.Instance, error) {
	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if profile == nil {
		return nil, apperrors.NotFound("Account profile")
	}
	if profile.BackendAPIKey == nil || *profile.BackendAPIKey == "" {
		return nil, apperrors.MissingRequired("backend admin credential")
	}

	available, err := s.backend.ListInstances(ctx, s.tenantBaseURL(profile), *profile.BackendAPIKey)
	if err != nil {
		return nil, err
	}

	connected, err := s.instances.CountConnectedByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}

	var imported []model.Instance
	importedConnected := 0
	for _, entry := range available {
		existing, err := s.instances.FindByToken(ctx, entry.Token)
		if err != nil {
			return imported, apperrors.Storage(err)
		}
		if existing != nil {
			continue
		}

		// Only connected instances consume the limit; disconnected entries
		// are imported regardless so they show up in the registry.
		if entry.Connected && connected+importedConnected >= profile.InstanceLimit {
			log.Warn().
				Str("tenantId", tenantID).
				Int("limit", profile.InstanceLimit).
				Msg("instance limit reached, skipping connected instance")
			continue
		}

		status := model.InstanceStatusDisconnected
		if entry.Connected {
			status = model.InstanceStatusConnected
		}
		name := entry.Name
		if name == "" {
			name = entry.Phone
		}
		var phone *string
		if entry.Phone != "" {
			phone = &entry.Phone
		}

		inst, err := s.instances.Create(ctx, model.CreateInstanceParams{
			TenantID:    tenantID,
			DisplayName: name,
			Token:       entry.Token,
			Status:      status,
			PhoneNumber: phone,
		})
		if err != nil {
			return imported, apperrors.Storage(err)
		}
		imported = append(imported, *inst)
		if entry.Connected {
			importedConnected++
		}
	}

	log.Info().
		Str("tenantId", tenantID).
		Int("imported", len(imported)).
		Int("listed", len(available)).
		Msg("instance import completed")

	return imported, nil
}

// UnlinkAll severs every instance↔location link the tenant owns in one
// statement and invalidates the routing cache for every affected location.
func (s *RegistryService) UnlinkAll(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	var locationIDs []string

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.instances.WithTx(tx)

		owned, err := repo.FindByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, inst := range owned {
			if inst.LocationID != nil {
				locationIDs = append(locationIDs, *inst.LocationID)
			}
		}

		count, err = repo.UnlinkAllByTenant(ctx, tenantID)
		return err
	})
	if err != nil {
		return 0, apperrors.Storage(err)
	}

	s.cache.Invalidate(ctx, locationIDs...)

	log.Info().
		Str("tenantId", tenantID).
		Int64("count", count).
		Msg("all instances unlinked")

	return count, nil
}

// Link attaches an instance to a location after verifying ownership.
func (s *RegistryService) Link(ctx context.Context, tenantID, instanceID, locationID string) error {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return apperrors.NotFound("Instance")
	}

	if err := s.instances.Link(ctx, instanceID, locationID); err != nil {
		return apperrors.Storage(err)
	}
	if inst.LocationID != nil {
		s.cache.Invalidate(ctx, *inst.LocationID)
	}
	s.cache.Invalidate(ctx, locationID)
	return nil
}

// Unlink detaches a single instance from its location (manual user action).
func (s *RegistryService) Unlink(ctx context.Context, tenantID, instanceID string) error {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return apperrors.NotFound("Instance")
	}

	if err := s.instances.Unlink(ctx, instanceID); err != nil {
		return apperrors.Storage(err)
	}
	if inst.LocationID != nil {
		s.cache.Invalidate(ctx, *inst.LocationID)
	}
	return nil
}

// UpdateSettings changes an instance's display name or group handling after
// verifying ownership.
func (s *RegistryService) UpdateSettings(ctx context.Context, tenantID, instanceID string, params model.UpdateInstanceParams) (*model.Instance, error) {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return nil, apperrors.NotFound("Instance")
	}

	updated, err := s.instances.Update(ctx, instanceID, params)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if inst.LocationID != nil {
		s.cache.Invalidate(ctx, *inst.LocationID)
	}
	return updated, nil
}

// ListGroups fetches the WhatsApp groups visible to an instance, used when
// configuring group-message handling.
func (s *RegistryService) ListGroups(ctx context.Context, tenantID, instanceID string) ([]string, error) {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return nil, apperrors.NotFound("Instance")
	}

	profile, err := s.profiles.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if profile == nil {
		return nil, apperrors.NotFound("Account profile")
	}

	return s.backend.ListGroups(ctx, inst.EffectiveBaseURL(s.tenantBaseURL(profile)), inst.Token)
}

// ProbeAll health-checks every registered instance, grouping by effective
// base URL so each backend server is probed once per cycle. An unreachable
// server marks its whole group disconnected; on reachable servers each
// instance is probed individually.
func (s *RegistryService) ProbeAll(ctx context.Context) error {
	instances, err := s.instances.FindAll(ctx)
	if err != nil {
		return apperrors.Storage(err)
	}

	groups := make(map[string][]model.Instance)
	for _, inst := range instances {
		base := inst.EffectiveBaseURL(s.backend.DefaultBaseURL())
		groups[base] = append(groups[base], inst)
	}

	for base, group := range groups {
		if !s.backend.ServerOnline(ctx, base) {
			for _, inst := range group {
				s.markStatus(ctx, inst, model.InstanceStatusDisconnected, nil)
			}
			continue
		}
		for _, inst := range group {
			s.probeInstance(ctx, inst, base)
		}
	}
	return nil
}

func (s *RegistryService) probeInstance(ctx context.Context, inst model.Instance, baseURL string) {
	info, err := s.backend.FetchInstanceInfo(ctx, baseURL, inst.Token)
	if err != nil {
		log.Warn().Err(err).Str("instanceId", inst.ID).Msg("instance probe failed")
		s.markStatus(ctx, inst, model.InstanceStatusDisconnected, nil)
		return
	}

	var phone *string
	if info.Phone != "" {
		phone = &info.Phone
	}
	s.markStatus(ctx, inst, info.Status, phone)
}

func (s *RegistryService) markStatus(ctx context.Context, inst model.Instance, status model.InstanceStatus, phone *string) {
	if inst.Status == status && phone == nil {
		return
	}
	if err := s.instances.UpdateStatus(ctx, inst.ID, status, phone); err != nil {
		log.Error().Err(err).Str("instanceId", inst.ID).Msg("failed to update instance status")
		return
	}
	if inst.LocationID != nil {
		s.cache.Invalidate(ctx, *inst.LocationID)
	}
	if inst.Status != status {
		log.Info().
			Str("instanceId", inst.ID).
			Str("from", string(inst.Status)).
			Str("to", string(status)).
			Msg("instance status changed")
	}
}

func (s *RegistryService) checkInstanceLimit(ctx context.Context, profile *model.AccountProfile) error {
	connected, err := s.instances.CountConnectedByTenant(ctx, profile.TenantID)
	if err != nil {
		return apperrors.Storage(err)
	}
	if connected >= profile.InstanceLimit {
		return apperrors.Conflict(fmt.Sprintf(
			"instance limit of %d reached for this plan", profile.InstanceLimit))
	}
	return nil
}

func (s *RegistryService) tenantBaseURL(profile *model.AccountProfile) string {
	if profile.BackendBaseURL != nil && *profile.BackendBaseURL != "" {
		return *profile.BackendBaseURL
	}
	return s.backend.DefaultBaseURL()
}
