package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/waconnect/bridge-server-go/internal/errors"
	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/phone"
	"github.com/waconnect/bridge-server-go/internal/repository"
)

// ConnectedLister yields the connected instances for a location. Implemented
// by RegistryService; an interface so the resolver can be tested without the
// registry's cache and backend wiring.
type ConnectedLister interface {
	ListConnected(ctx context.Context, locationID string) ([]model.Instance, error)
}

// ResolveQuery carries whatever contact identity the caller has. Either
// field may be empty; both empty falls straight to the location default.
type ResolveQuery struct {
	Phone     string
	ContactID string
}

// ResolverService picks the instance that should handle a conversation.
//
// Precedence, first usable match wins:
//  1. preference stored for the explicitly supplied phone
//  2. preference for the phone the contact was first seen with
//  3. preference stored against the contact id (re-resolved through its
//     lead phone when one is recorded, since a phone-keyed row may be newer)
//  4. the location's first connected instance by display name
//
// Phone-derived signals outrank contact-id ones: contact ids are CRM-
// internal and can be reassigned, while a normalized phone is the stable
// identity of a WhatsApp conversation. "Usable" means the referenced
// instance still exists in the location's connected set; stale preferences
// are skipped, not errors.
type ResolverService struct {
	registry    ConnectedLister
	routing     repository.RoutingRepository
	countryCode string
}

func NewResolverService(registry ConnectedLister, routing repository.RoutingRepository, countryCode string) *ResolverService {
	return &ResolverService{
		registry:    registry,
		routing:     routing,
		countryCode: countryCode,
	}
}

// Resolve returns the instance to use, or nil when the location has no
// connected instance. A nil result is a valid "no route" outcome, not an
// error; errors are storage failures only.
func (s *ResolverService) Resolve(ctx context.Context, locationID string, q ResolveQuery) (*model.Instance, error) {
	connected, err := s.registry.ListConnected(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if len(connected) == 0 {
		log.Debug().Str("locationId", locationID).Msg("no connected instances, no route")
		return nil, nil
	}

	// 1. Explicit phone.
	if q.Phone != "" {
		if inst, err := s.resolveByPhone(ctx, locationID, q.Phone, connected); inst != nil || err != nil {
			return inst, err
		}
	}

	if q.ContactID != "" {
		// 2. Phone the contact was first seen with.
		mapping, err := s.routing.FindPhoneMapping(ctx, locationID, q.ContactID)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		if mapping != nil {
			if inst, err := s.resolveByPhone(ctx, locationID, mapping.Phone, connected); inst != nil || err != nil {
				return inst, err
			}
		}

		// 3. Preference keyed by contact id.
		pref, err := s.routing.FindPreferenceByContact(ctx, locationID, q.ContactID)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		if pref != nil {
			if pref.LeadPhone != nil {
				// A phone-keyed row may supersede this one; re-resolve
				// through the richer last-10 matching.
				if inst, err := s.resolveByPhone(ctx, locationID, *pref.LeadPhone, connected); inst != nil || err != nil {
					return inst, err
				}
			} else if inst := pickInstance(connected, pref.InstanceID); inst != nil {
				return inst, nil
			}
		}
	}

	// 4. Location default: first connected instance in registry order.
	return &connected[0], nil
}

func (s *ResolverService) resolveByPhone(ctx context.Context, locationID, rawPhone string, connected []model.Instance) (*model.Instance, error) {
	normalized, ok := phone.Normalize(rawPhone, s.countryCode)
	if !ok {
		return nil, nil
	}

	pref, err := s.routing.FindPreference(ctx, locationID, normalized, phone.Last10(normalized))
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if pref == nil {
		return nil, nil
	}

	inst := pickInstance(connected, pref.InstanceID)
	if inst == nil {
		// Preference points at an unlinked or disconnected instance;
		// it is not authoritative anymore.
		log.Debug().
			Str("locationId", locationID).
			Str("instanceId", pref.InstanceID).
			Msg("stored preference no longer usable, falling through")
	}
	return inst, nil
}

// Remember persists a routing decision so later events for the same contact
// land on the same instance.
func (s *ResolverService) Remember(ctx context.Context, locationID, rawPhone, contactID, instanceID string) error {
	var leadPhone *string
	if normalized, ok := phone.Normalize(rawPhone, s.countryCode); ok {
		leadPhone = &normalized
	}
	var contact *string
	if contactID != "" {
		contact = &contactID
	}
	if leadPhone == nil && contact == nil {
		return nil
	}

	_, err := s.routing.SetPreference(ctx, model.SetPreferenceParams{
		LocationID: locationID,
		LeadPhone:  leadPhone,
		ContactID:  contact,
		InstanceID: instanceID,
	})
	if err != nil {
		return apperrors.Storage(err)
	}
	return nil
}

// RecordFirstSeenPhone stores the contact→phone mapping used by precedence
// step 2. First writer wins.
func (s *ResolverService) RecordFirstSeenPhone(ctx context.Context, locationID, contactID, rawPhone string) error {
	if contactID == "" || rawPhone == "" {
		return nil
	}
	if err := s.routing.CreatePhoneMappingIfAbsent(ctx, model.CreatePhoneMappingParams{
		ContactID:  contactID,
		LocationID: locationID,
		Phone:      rawPhone,
	}); err != nil {
		return apperrors.Storage(err)
	}
	return nil
}

func pickInstance(connected []model.Instance, id string) *model.Instance {
	for i := range connected {
		if connected[i].ID == id {
			return &connected[i]
		}
	}
	return nil
}
