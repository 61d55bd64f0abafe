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

package usage

import (
	"context"
	"time"

	"resumehub/platform/shared/logger"
)

// Gate is the usage-metering decision point. Given a request identity it
// resolves the daily limit, reads today's counter, and answers whether a
// generation may proceed; after a successful generation it records one unit.
//
// The check and the increment are two separate ledger operations, so two
// concurrent requests can both pass the check before either increments. The
// limit is therefore a soft cap: transiently exceedable by the number of
// in-flight requests, never by more.
type Gate struct {
	ledger   Ledger
	subs     SubscriptionSource
	limits   Limits
	resolver IdentityResolver
	log      *logger.Logger
	now      func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLimits overrides the built-in tier limits.
func WithLimits(limits Limits) GateOption {
	return func(g *Gate) { g.limits = limits }
}

// WithIdentityResolver overrides the anonymous keying strategy.
func WithIdentityResolver(r IdentityResolver) GateOption {
	return func(g *Gate) { g.resolver = r }
}

// WithClock overrides the day-boundary clock, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a usage gate over a ledger and a subscription source.
func NewGate(ledger Ledger, subs SubscriptionSource, opts ...GateOption) *Gate {
	g := &Gate{
		ledger:   ledger,
		subs:     subs,
		limits:   DefaultLimits(),
		resolver: NewIdentityResolver(AnonymousShared),
		log:      logger.New("usage-gate"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckUsage answers whether the identity may generate right now. It is a
// pure read: no ledger record is created or mutated, so it is safe to call
// repeatedly. A ledger failure surfaces as ErrLedgerUnavailable and must not
// be reported to callers as quota exhaustion.
func (g *Gate) CheckUsage(ctx context.Context, id Identity) (Status, error) {
	key, err := g.resolver.Key(id)
	if err != nil {
		return Status{}, err
	}

	ent := g.resolveEntitlement(ctx, id)

	current, err := g.ledger.GetCount(ctx, key, DayOf(g.now()))
	if err != nil {
		return Status{}, err
	}

	remaining := ent.DailyLimit - current
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		CanGenerate:  current < ent.DailyLimit,
		CurrentUsage: current,
		DailyLimit:   ent.DailyLimit,
		Remaining:    remaining,
		Subscribed:   ent.Premium,
	}, nil
}

// RecordGeneration atomically adds one unit of usage for the identity and
// returns the new count. Callers must invoke it only after a generation
// succeeded; a failed generation attempt must never consume quota. The gate
// performs no retries: at-most-once accounting is preferred over risking a
// double count.
func (g *Gate) RecordGeneration(ctx context.Context, id Identity) (int, error) {
	key, err := g.resolver.Key(id)
	if err != nil {
		return 0, err
	}
	return g.ledger.IncrementAndGet(ctx, key, DayOf(g.now()))
}

// resolveEntitlement reads the subscription state and maps it to a limit.
// Missing rows and subscription-store failures both degrade to the free tier
// so the gate stays available; both are logged as anomalous for registered
// accounts, since every account should have a subscription row.
func (g *Gate) resolveEntitlement(ctx context.Context, id Identity) Entitlement {
	if id.Anonymous() {
		return g.limits.Resolve(id, nil)
	}

	sub, err := g.subs.SubscriptionState(ctx, id.AccountID)
	if err != nil {
		g.log.Warn(id.AccountID, "", "Subscription lookup failed, treating as free tier", map[string]interface{}{
			"error": err.Error(),
		})
		return g.limits.Resolve(id, nil)
	}
	if sub == nil {
		g.log.Warn(id.AccountID, "", "Account has no subscription row, treating as free tier", nil)
	}
	return g.limits.Resolve(id, sub)
}
