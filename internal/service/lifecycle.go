package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/config"
	"github.com/waconnect/bridge-server-go/internal/database"
	apperrors "github.com/waconnect/bridge-server-go/internal/errors"
	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/repository"
)

// txRunner runs a function inside a database transaction. Satisfied by
// *database.DB.
type txRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// LifecycleService is the account pause state machine:
//
//	Active → GracePeriod   payment failed (paused_at set once, never extended)
//	GracePeriod → Active   payment succeeded
//	GracePeriod → Paused   sweep, once paused_at + grace period has elapsed
//	Paused → Active        payment succeeded (instances stay unlinked;
//	                       relinking is a user action)
//	any → Paused           subscription canceled, no grace period
//
// The grace→paused transition unlinks every instance the tenant owns and
// sets is_paused in one transaction. Unlinking without pausing would let the
// tenant relink while "active"; pausing without unlinking would leave stale
// routing the resolver still honors.
type LifecycleService struct {
	db        txRunner
	profiles  repository.AccountProfileRepository
	instances repository.InstanceRepository
	cache     routingCache
}

func NewLifecycleService(
	db txRunner,
	profiles repository.AccountProfileRepository,
	instances repository.InstanceRepository,
	cache routingCache,
) *LifecycleService {
	return &LifecycleService{
		db:        db,
		profiles:  profiles,
		instances: instances,
		cache:     cache,
	}
}

// Apply reacts to a normalized billing event. Unknown tenants are logged and
// skipped: billing webhooks fire for signups that never installed the app.
func (s *LifecycleService) Apply(ctx context.Context, ref model.TenantRef, kind model.BillingEventKind, quantity int) error {
	profile, err := s.findProfile(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		log.Warn().
			Str("tenantId", ref.TenantID).
			Str("email", ref.Email).
			Str("kind", string(kind)).
			Msg("billing event for unknown tenant, skipping")
		return nil
	}

	switch kind {
	case model.BillingPaymentSucceeded:
		if err := s.profiles.ClearPause(ctx, profile.TenantID); err != nil {
			return apperrors.Storage(err)
		}
		log.Info().Str("tenantId", profile.TenantID).Msg("payment succeeded, account active")
		return nil

	case model.BillingPaymentFailed:
		started, err := s.profiles.StartGracePeriod(ctx, profile.TenantID)
		if err != nil {
			return apperrors.Storage(err)
		}
		if started {
			log.Info().Str("tenantId", profile.TenantID).Msg("payment failed, grace period started")
		}
		return nil

	case model.BillingSubscriptionCanceled:
		// Cancellation pauses immediately, bypassing the grace period.
		return s.pauseNow(ctx, profile.TenantID)

	case model.BillingSubscriptionUpdated:
		if quantity > 0 {
			if err := s.profiles.UpdateInstanceLimit(ctx, profile.TenantID, quantity); err != nil {
				return apperrors.Storage(err)
			}
			log.Info().Str("tenantId", profile.TenantID).Int("limit", quantity).Msg("instance limit updated")
		}
		return nil

	default:
		log.Debug().Str("kind", string(kind)).Msg("unhandled billing event kind")
		return nil
	}
}

// SweepExpired pauses every tenant whose grace period has elapsed. Returns
// the number of tenants paused. Invoked by the scheduled sweep job; safe to
// run concurrently with resolution (a racing resolve may use an instance one
// last time before the unlink lands, which is acceptable).
func (s *LifecycleService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-config.GracePeriod)
	expired, err := s.profiles.FindGraceExpired(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Storage(err)
	}

	paused := 0
	for _, profile := range expired {
		if err := s.pauseNow(ctx, profile.TenantID); err != nil {
			log.Error().Err(err).Str("tenantId", profile.TenantID).Msg("grace sweep failed for tenant")
			continue
		}
		paused++
	}

	if paused > 0 {
		log.Info().Int("count", paused).Msg("grace-expired tenants paused")
	}
	return paused, nil
}

// pauseNow sets is_paused and unlinks every owned instance atomically.
func (s *LifecycleService) pauseNow(ctx context.Context, tenantID string) error {
	var locationIDs []string
	var unlinked int64

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		instances := s.instances.WithTx(tx)

		owned, err := instances.FindByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, inst := range owned {
			if inst.LocationID != nil {
				locationIDs = append(locationIDs, *inst.LocationID)
			}
		}

		unlinked, err = instances.UnlinkAllByTenant(ctx, tenantID)
		if err != nil {
			return err
		}

		return s.profiles.WithTx(tx).SetPaused(ctx, tenantID)
	})
	if err != nil {
		return apperrors.Storage(err)
	}

	s.cache.Invalidate(ctx, locationIDs...)

	log.Info().
		Str("tenantId", tenantID).
		Int64("unlinked", unlinked).
		Msg("account paused, instances unlinked")

	return nil
}

func (s *LifecycleService) findProfile(ctx context.Context, ref model.TenantRef) (*model.AccountProfile, error) {
	if ref.TenantID != "" {
		profile, err := s.profiles.FindByTenant(ctx, ref.TenantID)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		if profile != nil {
			return profile, nil
		}
	}
	if ref.Email != "" {
		profile, err := s.profiles.FindByEmail(ctx, ref.Email)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		return profile, nil
	}
	return nil, nil
}
