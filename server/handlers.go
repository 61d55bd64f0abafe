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
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"resumehub/platform/billing"
	"resumehub/platform/common/usage"
	"resumehub/platform/identity"
	"resumehub/platform/resume"
	"resumehub/platform/storage"
)

func sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendError(w http.ResponseWriter, message string, statusCode int) {
	sendJSON(w, statusCode, map[string]string{"message": message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "resumehub-platform",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

// accountPayload is the user object returned by the auth endpoints.
type accountPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func accountResponse(a *identity.Account) accountPayload {
	return accountPayload{ID: a.ID, Email: a.Email, FirstName: a.FirstName, LastName: a.LastName}
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		sendError(w, "Account features unavailable: database not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	account, err := s.identity.CreateAccount(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if errors.Is(err, identity.ErrDuplicateEmail) {
		sendError(w, "User already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.ErrorWithCode("", "", "Signup failed", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	token, err := s.issueToken(account.ID, account.Email)
	if err != nil {
		s.log.ErrorWithCode(account.ID, "", "Failed to issue token", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	s.log.Info(account.ID, "", "Account created", nil)
	sendJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User created successfully",
		"token":   token,
		"user":    accountResponse(account),
	})
}

func (s *Server) signinHandler(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		sendError(w, "Account features unavailable: database not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	account, err := s.identity.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.log.ErrorWithCode("", "", "Signin failed", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	token, err := s.issueToken(account.ID, account.Email)
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"token":   token,
		"user":    accountResponse(account),
	})
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	account, err := s.identity.GetByID(r.Context(), id.AccountID)
	if errors.Is(err, identity.ErrNotFound) {
		sendError(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, accountResponse(account))
}

func (s *Server) usageHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := identityFrom(r.Context())

	status, err := s.gate.CheckUsage(r.Context(), id)
	if err != nil {
		s.metrics.recordRequest("error", "usage", time.Since(start))
		s.mapUsageError(w, id, err)
		return
	}

	s.metrics.recordRequest("success", "usage", time.Since(start))
	sendJSON(w, http.StatusOK, status)
}

// mapUsageError keeps infrastructure failures distinct from quota exhaustion.
func (s *Server) mapUsageError(w http.ResponseWriter, id usage.Identity, err error) {
	switch {
	case errors.Is(err, usage.ErrInvalidIdentity), errors.Is(err, usage.ErrInvalidDay):
		sendError(w, "Invalid request", http.StatusBadRequest)
	case errors.Is(err, usage.ErrLedgerUnavailable):
		s.log.ErrorWithCode(id.AccountID, "", "Usage ledger unavailable", http.StatusServiceUnavailable, err, nil)
		sendError(w, "Usage tracking temporarily unavailable", http.StatusServiceUnavailable)
	default:
		s.log.ErrorWithCode(id.AccountID, "", "Usage check failed", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error", http.StatusInternalServerError)
	}
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	if err := r.ParseMultipartForm(storage.MaxUploadSize); err != nil {
		sendError(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := storage.ValidateUpload(header.Filename, header.Size); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			sendError(w, "File exceeds the 10MB upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, "Unsupported file type", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, storage.MaxUploadSize+1))
	if err != nil {
		sendError(w, "Failed to read upload", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > storage.MaxUploadSize {
		sendError(w, "File exceeds the 10MB upload limit", http.StatusRequestEntityTooLarge)
		return
	}

	key := storage.NewKey(header.Filename)
	if err := s.blobs.Put(r.Context(), key, data); err != nil {
		s.log.ErrorWithCode(id.AccountID, "", "Failed to store upload", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error during upload", http.StatusInternalServerError)
		return
	}

	extracted := s.extractor.Extract(data, header.Header.Get("Content-Type"))

	rec, err := s.resumes.Create(r.Context(), id.AccountID, header.Filename, extracted, key)
	if err != nil {
		s.log.ErrorWithCode(id.AccountID, "", "Failed to save resume", http.StatusInternalServerError, err, nil)
		sendError(w, "Error saving resume", http.StatusInternalServerError)
		return
	}

	s.log.Info(id.AccountID, "", "Resume uploaded", map[string]interface{}{
		"resume_id": rec.ID,
		"filename":  header.Filename,
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Resume uploaded successfully",
		"resumeId": rec.ID,
		"filename": header.Filename,
	})
}

func (s *Server) generateWithJobHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := identityFrom(r.Context())

	var req struct {
		ResumeID       string `json:"resumeId"`
		JobDescription string `json:"jobDescription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ResumeID == "" || req.JobDescription == "" {
		sendError(w, "Resume ID and job description are required", http.StatusBadRequest)
		return
	}

	rec, err := s.resumes.Get(r.Context(), req.ResumeID, id.AccountID)
	if errors.Is(err, resume.ErrNotFound) {
		sendError(w, "Resume not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	// Pre-flight quota check. The counter moves only after a successful
	// generation, so a failed run never consumes quota.
	status, err := s.gate.CheckUsage(r.Context(), id)
	if err != nil {
		s.metrics.recordRequest("error", "generate", time.Since(start))
		s.mapUsageError(w, id, err)
		return
	}
	if !status.CanGenerate {
		s.metrics.recordRequest("blocked", "generate", time.Since(start))
		s.log.Info(id.AccountID, "", "Generation blocked by daily limit", map[string]interface{}{
			"current_usage": status.CurrentUsage,
			"daily_limit":   status.DailyLimit,
		})
		sendJSON(w, http.StatusForbidden, map[string]interface{}{
			"message": "Daily generation limit reached",
			"usage":   status,
		})
		return
	}

	generated, err := s.generator.Generate(r.Context(), rec.Content, req.JobDescription)
	if err != nil {
		s.metrics.recordRequest("error", "generate", time.Since(start))
		s.log.ErrorWithCode(id.AccountID, "", "Generation failed", http.StatusBadGateway, err, nil)
		sendError(w, "Resume generation failed", http.StatusBadGateway)
		return
	}

	if _, err := s.gate.RecordGeneration(r.Context(), id); err != nil {
		// The user already has their result; an unrecorded generation is the
		// lesser harm. Undercount rather than fail the request.
		s.log.ErrorWithCode(id.AccountID, "", "Failed to record generation", http.StatusInternalServerError, err, nil)
	}

	s.metrics.recordRequest("success", "generate", time.Since(start))
	s.metrics.recordGeneration()
	sendJSON(w, http.StatusOK, generated)
}

// resumeSummary is the list view of a resume.
type resumeSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) listResumesHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	resumes, err := s.resumes.ListByAccount(r.Context(), id.AccountID)
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	summaries := make([]resumeSummary, 0, len(resumes))
	for _, rec := range resumes {
		summaries = append(summaries, resumeSummary{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt})
	}
	sendJSON(w, http.StatusOK, summaries)
}

func (s *Server) updateResumeHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	resumeID := mux.Vars(r)["id"]

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.resumes.UpdateContent(r.Context(), resumeID, id.AccountID, req.Content)
	if errors.Is(err, resume.ErrNotFound) {
		sendError(w, "Resume not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{"message": "Resume updated successfully"})
}

func (s *Server) deleteResumeHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	resumeID := mux.Vars(r)["id"]

	rec, err := s.resumes.Get(r.Context(), resumeID, id.AccountID)
	if errors.Is(err, resume.ErrNotFound) {
		sendError(w, "Resume not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	if err := s.resumes.Delete(r.Context(), resumeID, id.AccountID); err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	// Blob cleanup is best-effort; the row is already gone.
	if rec.FilePath != nil {
		if err := s.blobs.Delete(r.Context(), *rec.FilePath); err != nil {
			s.log.Warn(id.AccountID, "", "Failed to delete resume blob", map[string]interface{}{
				"key":   *rec.FilePath,
				"error": err.Error(),
			})
		}
	}

	sendJSON(w, http.StatusOK, map[string]string{"message": "Resume deleted successfully"})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.identity.UpdateProfile(r.Context(), id.AccountID, req.FirstName, req.LastName)
	if errors.Is(err, identity.ErrNotFound) {
		sendError(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{"message": "Profile updated successfully"})
}

func (s *Server) subscriptionStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	sub, err := s.identity.Subscription(r.Context(), id.AccountID)
	if errors.Is(err, identity.ErrNotFound) {
		sendJSON(w, http.StatusOK, map[string]interface{}{
			"subscribed":        false,
			"subscription_tier": nil,
			"subscription_end":  nil,
		})
		return
	}
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"subscribed":        sub.Subscribed,
		"subscription_tier": sub.Tier,
		"subscription_end":  sub.PeriodEnd,
	})
}

func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	url, err := s.checkout.CreateCheckoutSession(r.Context(), id.AccountID, id.Email)
	if err != nil {
		sendError(w, "Server error", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var event billing.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		sendError(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	err := s.billing.HandleEvent(r.Context(), event)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, map[string]string{"message": "Event processed"})
	case errors.Is(err, billing.ErrUnknownEvent):
		sendError(w, "Unknown event type", http.StatusBadRequest)
	case errors.Is(err, billing.ErrUnavailable):
		sendError(w, "Billing unavailable: database not configured", http.StatusServiceUnavailable)
	case errors.Is(err, identity.ErrNotFound):
		sendError(w, "Account not found", http.StatusNotFound)
	default:
		s.log.ErrorWithCode(event.AccountID, "", "Webhook processing failed", http.StatusInternalServerError, err, nil)
		sendError(w, "Server error", http.StatusInternalServerError)
	}
}
