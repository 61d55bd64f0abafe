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

// Package resume persists uploaded and generated resume records. Every
// operation is scoped to the owning account; there is no cross-account read
// path.
package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a resume does not exist or belongs to a
// different account. The two cases are indistinguishable on purpose.
var ErrNotFound = errors.New("resume not found")

// Resume is one stored resume: the extracted text content plus an optional
// pointer to the original uploaded blob.
type Resume struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FilePath  *string   `json:"file_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists resumes in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a resume for an account.
func (s *Store) Create(ctx context.Context, accountID, title, content, filePath string) (*Resume, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if title == "" {
		title = "Untitled Resume"
	}

	r := &Resume{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Content:   content,
	}
	if filePath != "" {
		r.FilePath = &filePath
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resumes (id, account_id, title, content, file_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, r.ID, accountID, r.Title, content, r.FilePath).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create resume: %w", err)
	}

	return r, nil
}

// Get fetches a resume owned by the account.
func (s *Store) Get(ctx context.Context, id, accountID string) (*Resume, error) {
	var r Resume
	var filePath sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, title, content, file_path, created_at, updated_at
		FROM resumes WHERE id = $1 AND account_id = $2
	`, id, accountID).Scan(&r.ID, &r.AccountID, &r.Title, &r.Content, &filePath, &r.CreatedAt, &r.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resume: %w", err)
	}

	if filePath.Valid {
		r.FilePath = &filePath.String
	}
	return &r, nil
}

// ListByAccount returns all resumes for an account, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]Resume, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, title, content, file_path, created_at, updated_at
		FROM resumes WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumes: %w", err)
	}
	defer rows.Close()

	resumes := []Resume{}
	for rows.Next() {
		var r Resume
		var filePath sql.NullString
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Title, &r.Content, &filePath, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resume: %w", err)
		}
		if filePath.Valid {
			r.FilePath = &filePath.String
		}
		resumes = append(resumes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resumes: %w", err)
	}

	return resumes, nil
}

// UpdateContent replaces the stored content of an owned resume.
func (s *Store) UpdateContent(ctx context.Context, id, accountID, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resumes SET content = $3, updated_at = NOW()
		WHERE id = $1 AND account_id = $2
	`, id, accountID, content)
	if err != nil {
		return fmt.Errorf("failed to update resume: %w", err)
	}
	return checkOwnedRow(result)
}

// Delete removes an owned resume.
func (s *Store) Delete(ctx context.Context, id, accountID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM resumes WHERE id = $1 AND account_id = $2
	`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete resume: %w", err)
	}
	return checkOwnedRow(result)
}

func checkOwnedRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
