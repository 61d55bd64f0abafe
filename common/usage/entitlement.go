// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Built-in daily generation limits per tier.
const (
	AnonymousDailyLimit = 3
	FreeDailyLimit      = 5
	PremiumDailyLimit   = 50
)

// Limits holds the daily generation limits per tier. Operators can override
// the built-ins with a YAML file (see LoadLimits).
type Limits struct {
	Anonymous int `yaml:"anonymous"`
	Free      int `yaml:"free"`
	Premium   int `yaml:"premium"`
}

// DefaultLimits returns the built-in tier limits.
func DefaultLimits() Limits {
	return Limits{
		Anonymous: AnonymousDailyLimit,
		Free:      FreeDailyLimit,
		Premium:   PremiumDailyLimit,
	}
}

// LoadLimits reads tier limits from a YAML file. Fields left unset (or set to
// a non-positive value) keep their built-in defaults, so partial overrides
// are valid:
//
//	free: 10
//	premium: 100
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()

	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("failed to read tier config %s: %w", path, err)
	}

	var file Limits
	if err := yaml.Unmarshal(data, &file); err != nil {
		return limits, fmt.Errorf("failed to parse tier config %s: %w", path, err)
	}

	if file.Anonymous > 0 {
		limits.Anonymous = file.Anonymous
	}
	if file.Free > 0 {
		limits.Free = file.Free
	}
	if file.Premium > 0 {
		limits.Premium = file.Premium
	}

	return limits, nil
}

// Resolve maps an identity and its subscription snapshot to an entitlement.
// Pure and deterministic: anonymous callers get the anonymous limit; accounts
// without a subscription row, or with an inactive one, get the free limit;
// accounts with an active subscription get the premium limit. The resolver
// trusts the Active flag as-is and never compares PeriodEnd against the
// clock; a lapsed subscription whose flag has not been flipped yet still
// resolves as premium.
func (l Limits) Resolve(id Identity, sub *SubscriptionState) Entitlement {
	if id.Anonymous() {
		return Entitlement{DailyLimit: l.Anonymous}
	}
	if sub == nil || !sub.Active {
		return Entitlement{DailyLimit: l.Free}
	}
	return Entitlement{DailyLimit: l.Premium, Premium: true}
}
