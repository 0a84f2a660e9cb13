package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/waconnect/bridge-server-go/internal/model"
)

// RoutingCache caches the connected-instance set per location. It is an
// explicit invalidation-on-write cache: every registry mutation invalidates
// the affected locations before returning, so the resolver never trusts a
// connected set across an unlink. Redis failures degrade to cache misses.
type RoutingCache struct {
	client *Client
	ttl    time.Duration
}

func NewRoutingCache(client *Client, ttl time.Duration) *RoutingCache {
	return &RoutingCache{client: client, ttl: ttl}
}

func (c *RoutingCache) GetConnected(ctx context.Context, locationID string) ([]model.Instance, bool) {
	data, err := c.client.Get(ctx, connectedInstancesKey(locationID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("locationId", locationID).Msg("routing cache read failed")
		}
		return nil, false
	}

	var instances []model.Instance
	if err := json.Unmarshal(data, &instances); err != nil {
		log.Warn().Err(err).Str("locationId", locationID).Msg("routing cache entry corrupt, dropping")
		c.Invalidate(ctx, locationID)
		return nil, false
	}
	return instances, true
}

func (c *RoutingCache) SetConnected(ctx context.Context, locationID string, instances []model.Instance) {
	data, err := json.Marshal(instances)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, connectedInstancesKey(locationID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("locationId", locationID).Msg("routing cache write failed")
	}
}

func (c *RoutingCache) Invalidate(ctx context.Context, locationIDs ...string) {
	if len(locationIDs) == 0 {
		return
	}
	keys := make([]string, len(locationIDs))
	for i, id := range locationIDs {
		keys[i] = connectedInstancesKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Strs("locationIds", locationIDs).Msg("routing cache invalidation failed")
	}
}

// MarkBillingEvent records a billing webhook event id, returning false when
// the id was already seen within the dedup window. Redis errors report the
// event as unseen so a flaky cache never drops billing events.
func (c *Client) MarkBillingEvent(ctx context.Context, eventID string, ttl time.Duration) bool {
	ok, err := c.SetNX(ctx, billingEventKey(eventID), 1, ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("eventId", eventID).Msg("billing event dedup check failed")
		return true
	}
	return ok
}

// ReleaseBillingEvent drops the dedup marker for an event whose processing
// failed, so the provider's redelivery is handled instead of answered as a
// duplicate.
func (c *Client) ReleaseBillingEvent(ctx context.Context, eventID string) {
	if err := c.Del(ctx, billingEventKey(eventID)).Err(); err != nil {
		log.Warn().Err(err).Str("eventId", eventID).Msg("billing event dedup release failed")
	}
}
