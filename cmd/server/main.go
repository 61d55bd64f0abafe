// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the ResumeHub platform service.
//
// The platform serves the resume generation API:
// - Account signup/signin with JWT sessions
// - Resume upload, text extraction, and storage
// - Tailored resume generation behind a per-day usage gate
// - Subscription status and billing webhooks
//
// Usage:
//
//	./server
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	JWT_SECRET - Secret for JWT token signing
//	REDIS_ADDR - Optional subscription cache
//	S3_BUCKET - Optional S3 upload storage (default: local disk)
package main

import (
	"resumehub/platform/server"
)

func main() {
	server.Run()
}
