package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/model"
	"github.com/waconnect/bridge-server-go/internal/phone"
)

const (
	phoneDirectivePrefix = "#PHONE:"
	nameDirectivePrefix  = "#NAME:"
)

// phoneValueChars are the characters a #PHONE: directive value may contain.
const phoneValueChars = "0123456789+-(). "

// phoneValueFullDigits is the digit count at which the value scan stops
// consuming further tokens, so a payload starting with a digit ("9h") is not
// folded into the phone number.
const phoneValueFullDigits = 10

// Directive is a parsed routing override from a chat message body.
type Directive struct {
	Kind    string // "phone" or "name"
	Value   string
	Payload string // the rest of the message, the actual text to send
}

// ParseDirective recognizes a leading #PHONE: or #NAME: override. The
// directive prefix is matched case-insensitively. For #PHONE the value is
// the leading run of phone-character tokens after the colon, ending early
// once the tokens carry a full number; for #NAME the value runs to the end
// of the first line (instance names may contain spaces).
// Returns nil when the body carries no directive.
func ParseDirective(body string) *Directive {
	trimmed := strings.TrimSpace(body)
	upper := strings.ToUpper(trimmed)

	if strings.HasPrefix(upper, phoneDirectivePrefix) {
		value, payload := scanPhoneValue(trimmed[len(phoneDirectivePrefix):])
		return &Directive{
			Kind:    "phone",
			Value:   value,
			Payload: payload,
		}
	}

	if strings.HasPrefix(upper, nameDirectivePrefix) {
		rest := trimmed[len(nameDirectivePrefix):]
		value := rest
		payload := ""
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			value = rest[:i]
			payload = rest[i+1:]
		}
		return &Directive{
			Kind:    "name",
			Value:   strings.TrimSpace(value),
			Payload: strings.TrimSpace(payload),
		}
	}

	return nil
}

// scanPhoneValue splits the text after #PHONE: into the phone value and the
// message payload. The value grows token by token as long as each token is
// made of phone characters only and the collected digits do not yet form a
// full number; a newline always ends the value.
func scanPhoneValue(rest string) (value, payload string) {
	digits := 0
	end := 0
	i := 0
	for i < len(rest) {
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
			i++
		}
		start := i
		for i < len(rest) && rest[i] != ' ' && rest[i] != '\t' && rest[i] != '\n' {
			i++
		}
		token := rest[start:i]
		if token == "" || digits >= phoneValueFullDigits || !isPhoneToken(token) {
			break
		}
		for _, r := range token {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		end = i
	}
	return strings.TrimSpace(rest[:end]), strings.TrimSpace(rest[end:])
}

func isPhoneToken(token string) bool {
	for _, r := range token {
		if !strings.ContainsRune(phoneValueChars, r) {
			return false
		}
	}
	return true
}

// commenter writes the override confirmation into the conversation.
// Satisfied by CRMClient.
type commenter interface {
	AddSystemComment(ctx context.Context, token, contactID, comment string) error
}

// OverrideService lets a human force a routing decision from inside the
// chat. Overrides apply synchronously before the message is relayed, so the
// triggering send already uses the new routing. Unmatched or malformed
// directives are deliberate no-ops: chat input is informal and a typo must
// not break delivery.
type OverrideService struct {
	registry    ConnectedLister
	resolver    *ResolverService
	crm         commenter
	countryCode string
}

func NewOverrideService(registry ConnectedLister, resolver *ResolverService, crm commenter, countryCode string) *OverrideService {
	return &OverrideService{
		registry:    registry,
		resolver:    resolver,
		crm:         crm,
		countryCode: countryCode,
	}
}

// Apply interprets an override directive in body for the given contact.
// It returns the forced instance (nil when no override applied) and the
// message text that should actually be sent. Only storage failures error.
func (s *OverrideService) Apply(ctx context.Context, loc *model.Location, contactPhone, contactID, body string) (*model.Instance, string, error) {
	directive := ParseDirective(body)
	if directive == nil {
		return nil, body, nil
	}

	connected, err := s.registry.ListConnected(ctx, loc.ID)
	if err != nil {
		return nil, body, err
	}

	var target *model.Instance
	switch directive.Kind {
	case "phone":
		target = s.matchByPhone(connected, directive.Value)
	case "name":
		target = matchByName(connected, directive.Value)
	}

	if target == nil {
		// No-op on ambiguity: send the original message unmodified with
		// no routing change.
		log.Info().
			Str("locationId", loc.ID).
			Str("kind", directive.Kind).
			Str("value", directive.Value).
			Msg("override directive did not match any connected instance, ignoring")
		return nil, body, nil
	}

	if err := s.resolver.Remember(ctx, loc.ID, contactPhone, contactID, target.ID); err != nil {
		return nil, body, err
	}

	log.Info().
		Str("locationId", loc.ID).
		Str("instanceId", target.ID).
		Str("contactId", contactID).
		Msg("routing override applied")

	s.confirm(ctx, loc, contactID, target)

	return target, directive.Payload, nil
}

func (s *OverrideService) matchByPhone(connected []model.Instance, value string) *model.Instance {
	if _, ok := phone.Normalize(value, s.countryCode); !ok {
		return nil
	}
	for i := range connected {
		if connected[i].PhoneNumber == nil {
			continue
		}
		if phone.Match(*connected[i].PhoneNumber, value, s.countryCode) {
			return &connected[i]
		}
	}
	return nil
}

func matchByName(connected []model.Instance, value string) *model.Instance {
	for i := range connected {
		if strings.EqualFold(connected[i].DisplayName, value) {
			return &connected[i]
		}
	}
	return nil
}

// confirm leaves a system comment in the conversation. UX affordance only:
// a failed write is logged and never blocks the send.
func (s *OverrideService) confirm(ctx context.Context, loc *model.Location, contactID string, target *model.Instance) {
	if s.crm == nil || contactID == "" || loc.AccessToken == nil {
		return
	}
	comment := fmt.Sprintf("Conversation routed to %q from now on.", target.DisplayName)
	if err := s.crm.AddSystemComment(ctx, *loc.AccessToken, contactID, comment); err != nil {
		log.Warn().Err(err).Str("contactId", contactID).Msg("override confirmation comment failed")
	}
}
