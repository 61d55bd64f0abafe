// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

// Package identity manages accounts and their subscription records.
//
// Accounts carry bcrypt-hashed credentials and are created together with an
// inactive subscription row in a single transaction, so every account always
// has exactly one subscription record. Subscription transitions (activate on
// checkout completion, deactivate on cancellation) are driven by the billing
// package; this package only persists them.
//
// The Store implements usage.SubscriptionSource directly; wrap it in a
// SubscriptionCache when a Redis client is available to keep entitlement
// checks off the database hot path.
package identity
