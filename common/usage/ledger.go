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
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ledger persists per-identity-per-day generation counters.
//
// Implementations must serialize increments per key, not globally: two
// simultaneous increments for the same (identity, day) must both be
// reflected, while unrelated identities never contend with each other.
type Ledger interface {
	// GetCount returns the counter for (key, day), or 0 when no record
	// exists. A read never creates a record.
	GetCount(ctx context.Context, key Key, day string) (int, error)

	// IncrementAndGet creates the record with count=1 if absent, otherwise
	// atomically adds 1, and returns the new value. Race-free under
	// concurrent calls for the same key.
	IncrementAndGet(ctx context.Context, key Key, day string) (int, error)

	// IncrementIfBelow atomically increments only while the counter is below
	// limit, returning the resulting count and whether the increment was
	// applied. This is the hard-cap primitive; the default gate does not use
	// it (soft-cap semantics), but it is one call-site change away.
	IncrementIfBelow(ctx context.Context, key Key, day string, limit int) (int, bool, error)
}

// PostgresLedger is the production Ledger backed by the usage_records table.
// Every increment is a single upsert statement so the read-modify-write
// happens inside the database, never in application code.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger over an open database handle.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) GetCount(ctx context.Context, key Key, day string) (int, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, err
	}

	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT count FROM usage_records WHERE email = $1 AND day = $2`,
		key.Email, day,
	).Scan(&count)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return count, nil
}

func (l *PostgresLedger) IncrementAndGet(ctx context.Context, key Key, day string) (int, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, err
	}

	var count int
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (id, account_id, email, day, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (email, day)
		DO UPDATE SET count = usage_records.count + 1, updated_at = NOW()
		RETURNING count
	`, uuid.NewString(), nullString(key.AccountID), key.Email, day).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return count, nil
}

func (l *PostgresLedger) IncrementIfBelow(ctx context.Context, key Key, day string, limit int) (int, bool, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, false, err
	}
	if limit <= 0 {
		count, err := l.GetCount(ctx, key, day)
		return count, false, err
	}

	var count int
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (id, account_id, email, day, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (email, day)
		DO UPDATE SET count = usage_records.count + 1, updated_at = NOW()
		WHERE usage_records.count < $5
		RETURNING count
	`, uuid.NewString(), nullString(key.AccountID), key.Email, day, limit).Scan(&count)

	if errors.Is(err, sql.ErrNoRows) {
		// Counter already at or above the limit; the conditional update
		// matched no row.
		count, err := l.GetCount(ctx, key, day)
		return count, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return count, true, nil
}

func validateLedgerArgs(key Key, day string) error {
	if key.Email == "" {
		return fmt.Errorf("%w: empty ledger key", ErrInvalidIdentity)
	}
	if !ValidDay(day) {
		return fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return nil
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
