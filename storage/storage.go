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

// Package storage persists uploaded resume blobs. The default backend is a
// local uploads directory; an S3 backend (including S3-compatible services
// via a custom endpoint) is available for deployments with shared storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxUploadSize caps resume uploads at 10 MB.
const MaxUploadSize = 10 << 20

var (
	// ErrTooLarge is returned for blobs over MaxUploadSize.
	ErrTooLarge = errors.New("file exceeds maximum upload size")

	// ErrUnsupportedType is returned for extensions outside the allowlist.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNotFound is returned when a stored blob does not exist.
	ErrNotFound = errors.New("blob not found")
)

// allowedExtensions mirrors what the upload UI accepts.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// BlobStore stores uploaded files by key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ValidateUpload checks size and extension before anything is stored.
func ValidateUpload(filename string, size int64) error {
	if size > MaxUploadSize {
		return ErrTooLarge
	}
	ext := strings.ToLower(path.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	return nil
}

// NewKey builds a collision-free storage key preserving the original
// extension.
func NewKey(filename string) string {
	return uuid.NewString() + strings.ToLower(path.Ext(filename))
}
