// Copyright 2025 ResumeHub
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package billing drives subscription state transitions. Checkout is a mock
// pending a real payment gateway; webhook events are the only writers of
// subscription state, so entitlement readers stay passive.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resumehub/platform/shared/logger"
)

// Webhook event types.
const (
	EventCheckoutCompleted     = "checkout.completed"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

const defaultTier = "premium"

// DefaultPeriod is the subscription length applied when an event omits one.
const DefaultPeriod = 30 * 24 * time.Hour

// ErrUnknownEvent is returned for webhook event types this processor does not
// handle.
var ErrUnknownEvent = errors.New("unknown billing event type")

// ErrUnavailable is returned when no subscription store is configured, i.e.
// the service is running without a database.
var ErrUnavailable = errors.New("billing unavailable: no subscription store")

// Event is the webhook payload shape.
type Event struct {
	Type       string     `json:"type"`
	AccountID  string     `json:"account_id"`
	Tier       string     `json:"tier,omitempty"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
}

// CheckoutProvider starts a checkout session for an account.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, accountID, email string) (string, error)
}

// MockCheckout returns a fixed checkout URL with the account id appended.
type MockCheckout struct {
	BaseURL string
}

// NewMockCheckout creates the mock provider. An empty base URL gets a
// sensible default.
func NewMockCheckout(baseURL string) *MockCheckout {
	if baseURL == "" {
		baseURL = "https://checkout.example.com/session"
	}
	return &MockCheckout{BaseURL: baseURL}
}

var _ CheckoutProvider = (*MockCheckout)(nil)

// CreateCheckoutSession implements CheckoutProvider.
func (m *MockCheckout) CreateCheckoutSession(ctx context.Context, accountID, email string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id is required")
	}
	return fmt.Sprintf("%s?account=%s", m.BaseURL, accountID), nil
}

// Subscriptions is the slice of the identity store the processor needs.
type Subscriptions interface {
	ActivateSubscription(ctx context.Context, accountID, tier string, periodEnd time.Time, billingCustomerID string) error
	DeactivateSubscription(ctx context.Context, accountID string) error
}

// Invalidator drops cached subscription state after a transition.
type Invalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// Processor applies webhook events to the subscription store.
type Processor struct {
	subs  Subscriptions
	cache Invalidator
	log   *logger.Logger
	now   func() time.Time
}

// NewProcessor creates a webhook processor. cache may be nil when no
// subscription cache is configured; subs may be nil when no database is
// configured, in which case every event returns ErrUnavailable.
func NewProcessor(subs Subscriptions, cache Invalidator) *Processor {
	return &Processor{
		subs:  subs,
		cache: cache,
		log:   logger.New("billing"),
		now:   time.Now,
	}
}

// HandleEvent applies one webhook event. Activation events without a period
// end get DefaultPeriod from now; unknown event types return ErrUnknownEvent.
func (p *Processor) HandleEvent(ctx context.Context, ev Event) error {
	if ev.AccountID == "" {
		return fmt.Errorf("billing event missing account id")
	}
	if p.subs == nil {
		return ErrUnavailable
	}

	var err error
	switch ev.Type {
	case EventCheckoutCompleted, EventSubscriptionRenewed:
		tier := ev.Tier
		if tier == "" {
			tier = defaultTier
		}
		periodEnd := p.now().Add(DefaultPeriod)
		if ev.PeriodEnd != nil {
			periodEnd = *ev.PeriodEnd
		}
		err = p.subs.ActivateSubscription(ctx, ev.AccountID, tier, periodEnd, ev.CustomerID)
	case EventSubscriptionCancelled, EventSubscriptionExpired:
		err = p.subs.DeactivateSubscription(ctx, ev.AccountID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type)
	}

	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", ev.Type, err)
	}

	if p.cache != nil {
		if cacheErr := p.cache.Invalidate(ctx, ev.AccountID); cacheErr != nil {
			// The transition is durable; stale reads age out with the TTL.
			p.log.Warn(ev.AccountID, "", "Failed to invalidate subscription cache", map[string]interface{}{
				"error": cacheErr.Error(),
			})
		}
	}

	p.log.Info(ev.AccountID, "", "Applied billing event", map[string]interface{}{
		"event_type": ev.Type,
	})
	return nil
}
