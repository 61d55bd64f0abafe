// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"time"
)

// AnonymousMarker is the sentinel email used as the ledger key for anonymous
// callers when anonymous identities are collapsed into a shared bucket.
const AnonymousMarker = "anonymous"

// Identity is the caller a usage record is attributed to. AccountID and Email
// are empty for anonymous callers; AnonToken optionally carries a
// client-supplied stable token for anonymous keying in token mode.
type Identity struct {
	AccountID string
	Email     string
	AnonToken string
}

// Anonymous reports whether the identity has no authenticated account.
func (i Identity) Anonymous() bool {
	return i.AccountID == ""
}

// Key is the ledger key for one identity. Email carries the account email, the
// anonymous marker, or a prefixed anonymous token; it is the column the
// per-day uniqueness constraint hangs off. AccountID is denormalized alongside
// it for registered accounts and empty otherwise.
type Key struct {
	AccountID string
	Email     string
}

// Entitlement is the resolved daily generation allowance for an identity.
type Entitlement struct {
	DailyLimit int
	Premium    bool
}

// SubscriptionState is the subscription snapshot the entitlement resolver
// reads. PeriodEnd is informational only: the resolver trusts Active and
// performs no expiry comparison (staleness is bounded by how promptly the
// billing collaborator flips the flag).
type SubscriptionState struct {
	Active    bool
	Tier      string
	PeriodEnd *time.Time
}

// SubscriptionSource resolves the current subscription state for an account.
// A nil state with a nil error means no subscription row exists.
type SubscriptionSource interface {
	SubscriptionState(ctx context.Context, accountID string) (*SubscriptionState, error)
}

// Status is the usage gate's answer to a pre-flight check.
type Status struct {
	CanGenerate  bool `json:"can_generate"`
	CurrentUsage int  `json:"current_usage"`
	DailyLimit   int  `json:"daily_limit"`
	Remaining    int  `json:"remaining"`
	Subscribed   bool `json:"subscribed"`
}

var (
	// ErrLedgerUnavailable marks storage-layer failures on ledger reads or
	// increments. Callers must never interpret it as quota exceeded.
	ErrLedgerUnavailable = errors.New("usage ledger unavailable")

	// ErrInvalidIdentity marks identities rejected before touching the ledger.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidDay marks a day string that is not a date-only UTC value.
	ErrInvalidDay = errors.New("invalid day")
)

// DayFormat is the calendar-day layout used as the ledger day key.
// Days are computed in UTC to avoid ambiguity across deployments.
const DayFormat = "2006-01-02"

// DayOf returns the UTC calendar day for t in ledger key form.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// ValidDay reports whether day is a well-formed date-only key.
func ValidDay(day string) bool {
	_, err := time.Parse(DayFormat, day)
	return err == nil
}
