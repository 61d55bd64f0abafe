// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"resumehub/platform/common/usage"
	"resumehub/platform/shared/logger"
)

const subscriptionKeyPrefix = "sub:"

// DefaultSubscriptionTTL bounds how stale a cached subscription state may be.
// Billing transitions invalidate eagerly, so the TTL only covers writers that
// bypass this process.
const DefaultSubscriptionTTL = 30 * time.Second

// SubscriptionCache is a read-through Redis cache in front of the store's
// subscription lookups. Redis failures degrade to direct store reads; the
// cache never turns a healthy store into an unavailable one.
type SubscriptionCache struct {
	store  *Store
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewSubscriptionCache wraps the store with a Redis cache. A nil client
// disables caching entirely.
func NewSubscriptionCache(store *Store, client *redis.Client, ttl time.Duration) *SubscriptionCache {
	if ttl <= 0 {
		ttl = DefaultSubscriptionTTL
	}
	return &SubscriptionCache{
		store:  store,
		client: client,
		ttl:    ttl,
		log:    logger.New("identity-cache"),
	}
}

// SubscriptionState implements usage.SubscriptionSource with a cache in
// front. A cached "null" marks a known-missing row so repeated anonymous-ish
// lookups do not hammer the store.
func (c *SubscriptionCache) SubscriptionState(ctx context.Context, accountID string) (*usage.SubscriptionState, error) {
	if c.client == nil {
		return c.store.SubscriptionState(ctx, accountID)
	}

	cacheKey := subscriptionKeyPrefix + accountID

	cached, err := c.client.Get(ctx, cacheKey).Result()
	if err == nil {
		if cached == "null" {
			return nil, nil
		}
		var state usage.SubscriptionState
		if jsonErr := json.Unmarshal([]byte(cached), &state); jsonErr == nil {
			return &state, nil
		}
		// Unreadable entry, fall through and overwrite it.
	} else if !errors.Is(err, redis.Nil) {
		c.log.Debug(accountID, "", "Subscription cache read failed, falling back to store", map[string]interface{}{
			"error": err.Error(),
		})
	}

	state, err := c.store.SubscriptionState(ctx, accountID)
	if err != nil {
		return nil, err
	}

	payload := []byte("null")
	if state != nil {
		if encoded, jsonErr := json.Marshal(state); jsonErr == nil {
			payload = encoded
		}
	}
	if setErr := c.client.Set(ctx, cacheKey, payload, c.ttl).Err(); setErr != nil {
		c.log.Debug(accountID, "", "Subscription cache write failed", map[string]interface{}{
			"error": setErr.Error(),
		})
	}

	return state, nil
}

// Invalidate drops the cached state for an account. Called after every
// subscription transition so entitlement changes take effect immediately.
func (c *SubscriptionCache) Invalidate(ctx context.Context, accountID string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, subscriptionKeyPrefix+accountID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}
	return nil
}
