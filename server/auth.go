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

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"resumehub/platform/common/usage"
)

const tokenLifetime = 24 * time.Hour

// clientTokenHeader carries the stable anonymous token when the anonymous
// identity mode is "token".
const clientTokenHeader = "X-Client-Token"

type contextKey string

const identityContextKey contextKey = "identity"

// issueToken signs a 24h HS256 token for an account.
func (s *Server) issueToken(accountID, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": accountID,
		"email":      email,
		"iat":        now.Unix(),
		"exp":        now.Add(tokenLifetime).Unix(),
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parseToken validates a bearer token and returns the authenticated identity.
func (s *Server) parseToken(tokenString string) (usage.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return usage.Identity{}, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return usage.Identity{}, fmt.Errorf("invalid token claims")
	}

	accountID, _ := claims["account_id"].(string)
	email, _ := claims["email"].(string)
	if accountID == "" || email == "" {
		return usage.Identity{}, fmt.Errorf("token missing identity claims")
	}

	return usage.Identity{AccountID: accountID, Email: email}, nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// requireAuth rejects requests without a valid token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			sendError(w, "Access token required", http.StatusUnauthorized)
			return
		}

		id, err := s.parseToken(tokenString)
		if err != nil {
			sendError(w, "Invalid or expired token", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next(w, r.WithContext(ctx))
	}
}

// optionalAuth attaches an identity when a valid token is present and falls
// back to an anonymous identity otherwise. An invalid token is treated the
// same as no token; the usage endpoint must answer for everyone.
func (s *Server) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := usage.Identity{AnonToken: r.Header.Get(clientTokenHeader)}

		if tokenString := bearerToken(r); tokenString != "" {
			if parsed, err := s.parseToken(tokenString); err == nil {
				id = parsed
			}
		}

		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next(w, r.WithContext(ctx))
	}
}

// identityFrom returns the identity attached by the auth middleware.
func identityFrom(ctx context.Context) usage.Identity {
	if id, ok := ctx.Value(identityContextKey).(usage.Identity); ok {
		return id
	}
	return usage.Identity{}
}
