// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

package usage

import "fmt"

// AnonymousMode selects how anonymous callers are keyed in the ledger.
type AnonymousMode string

const (
	// AnonymousShared collapses all anonymous callers into one shared
	// per-day bucket under AnonymousMarker. This matches the product's
	// historical behavior and is the default.
	AnonymousShared AnonymousMode = "shared"

	// AnonymousToken keys anonymous usage by a client-supplied stable token
	// (e.g. a signed cookie value), so unrelated anonymous callers no longer
	// share a quota. Callers without a token fall back to the shared bucket.
	AnonymousToken AnonymousMode = "token"
)

// IdentityResolver maps a request identity to its ledger key.
type IdentityResolver struct {
	Mode AnonymousMode
}

// NewIdentityResolver builds a resolver, defaulting unknown modes to shared.
func NewIdentityResolver(mode AnonymousMode) IdentityResolver {
	if mode != AnonymousToken {
		mode = AnonymousShared
	}
	return IdentityResolver{Mode: mode}
}

// Key resolves the ledger key for an identity. Registered accounts key by
// their email with the account id denormalized alongside it; anonymous
// callers key by the shared marker or, in token mode, by their stable token.
func (r IdentityResolver) Key(id Identity) (Key, error) {
	if !id.Anonymous() {
		if id.Email == "" {
			return Key{}, fmt.Errorf("%w: account %s has no email", ErrInvalidIdentity, id.AccountID)
		}
		return Key{AccountID: id.AccountID, Email: id.Email}, nil
	}

	if r.Mode == AnonymousToken && id.AnonToken != "" {
		return Key{Email: "anon:" + id.AnonToken}, nil
	}
	return Key{Email: AnonymousMarker}, nil
}
