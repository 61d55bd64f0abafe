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

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"resumehub/platform/common/usage"
)

const bcryptCost = 10

// Postgres unique_violation
const pqUniqueViolation = "23505"

var (
	// ErrNotFound is returned when no matching account or subscription exists.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an account with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials is returned on email/password mismatch. It is
	// deliberately identical for unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Account is a registered user record. The credential hash never leaves this
// package.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription is the billing entitlement record for one account. Exactly one
// row exists per account, created inactive at signup and flipped by the
// billing collaborator.
type Subscription struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	Email             string     `json:"email"`
	Subscribed        bool       `json:"subscribed"`
	Tier              *string    `json:"subscription_tier"`
	PeriodEnd         *time.Time `json:"subscription_end"`
	BillingCustomerID *string    `json:"billing_customer_id,omitempty"`
}

// Store persists accounts and their subscriptions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAccount registers a new account and its inactive subscription row in
// one transaction. Returns ErrDuplicateEmail when the email is taken.
func (s *Store) CreateAccount(ctx context.Context, email, password, firstName, lastName string) (*Account, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	account := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, account.ID, email, string(hash), firstName, lastName).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, account_id, email)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), account.ID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account creation: %w", err)
	}

	return account, nil
}

// Authenticate verifies an email/password pair and returns the account.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	var account Account
	var hash string
	var firstName, lastName sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&account.ID, &account.Email, &hash, &firstName, &lastName, &account.CreatedAt, &account.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	account.FirstName = firstName.String
	account.LastName = lastName.String
	return &account, nil
}

// GetByID fetches an account by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	var account Account
	var firstName, lastName sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&account.ID, &account.Email, &firstName, &lastName, &account.CreatedAt, &account.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	account.FirstName = firstName.String
	account.LastName = lastName.String
	return &account, nil
}

// UpdateProfile updates the display name fields.
func (s *Store) UpdateProfile(ctx context.Context, id, firstName, lastName string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET first_name = $2, last_name = $3, updated_at = NOW()
		WHERE id = $1
	`, id, firstName, lastName)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check profile update: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscription fetches the subscription row for an account, or ErrNotFound.
func (s *Store) Subscription(ctx context.Context, accountID string) (*Subscription, error) {
	var sub Subscription
	var tier, customerID sql.NullString
	var periodEnd sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, email, subscribed, tier, current_period_end, billing_customer_id
		FROM subscriptions WHERE account_id = $1
	`, accountID).Scan(&sub.ID, &sub.AccountID, &sub.Email, &sub.Subscribed, &tier, &periodEnd, &customerID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}

	if tier.Valid {
		sub.Tier = &tier.String
	}
	if periodEnd.Valid {
		end := periodEnd.Time
		sub.PeriodEnd = &end
	}
	if customerID.Valid {
		sub.BillingCustomerID = &customerID.String
	}
	return &sub, nil
}

// SubscriptionState implements usage.SubscriptionSource. A missing row maps
// to (nil, nil) so the gate can apply its free-tier fallback policy.
func (s *Store) SubscriptionState(ctx context.Context, accountID string) (*usage.SubscriptionState, error) {
	sub, err := s.Subscription(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &usage.SubscriptionState{
		Active:    sub.Subscribed,
		PeriodEnd: sub.PeriodEnd,
	}
	if sub.Tier != nil {
		state.Tier = *sub.Tier
	}
	return state, nil
}

// ActivateSubscription applies the INACTIVE -> ACTIVE transition, driven by
// the billing collaborator on checkout completion or renewal.
func (s *Store) ActivateSubscription(ctx context.Context, accountID, tier string, periodEnd time.Time, billingCustomerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET subscribed = TRUE, tier = $2, current_period_end = $3,
		    billing_customer_id = $4, updated_at = NOW()
		WHERE account_id = $1
	`, accountID, tier, periodEnd, nullString(billingCustomerID))
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	return checkOneRow(result)
}

// DeactivateSubscription applies the ACTIVE -> INACTIVE transition, driven by
// the billing collaborator on cancellation or expiry.
func (s *Store) DeactivateSubscription(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET subscribed = FALSE, updated_at = NOW()
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return checkOneRow(result)
}

func checkOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
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
