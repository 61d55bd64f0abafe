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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumehub/platform/billing"
	"resumehub/platform/common/usage"
	"resumehub/platform/extract"
	"resumehub/platform/generate"
	"resumehub/platform/identity"
	"resumehub/platform/resume"
	"resumehub/platform/storage"
)

// stubSubscriptions reports configurable subscription state
type stubSubscriptions struct {
	states map[string]*usage.SubscriptionState
}

func (s *stubSubscriptions) SubscriptionState(ctx context.Context, accountID string) (*usage.SubscriptionState, error) {
	if s.states == nil {
		return nil, nil
	}
	return s.states[accountID], nil
}

// stubGenerator wraps the mock generator with a failure switch
type stubGenerator struct {
	fail  bool
	calls int
	inner *generate.Mock
}

func (g *stubGenerator) Generate(ctx context.Context, resumeText, jobDescription string) (*generate.Resume, error) {
	g.calls++
	if g.fail {
		return nil, errors.New("model backend unavailable")
	}
	return g.inner.Generate(ctx, resumeText, jobDescription)
}

type testEnv struct {
	srv    *Server
	ledger *usage.MemoryLedger
	mock   sqlmock.Sqlmock
	gen    *stubGenerator
	subs   *stubSubscriptions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ledger := usage.NewMemoryLedger()
	subs := &stubSubscriptions{}
	gen := &stubGenerator{inner: generate.NewMock()}
	identityStore := identity.NewStore(db)

	srv := NewServer(Config{
		Port:      "0",
		JWTSecret: []byte("test-secret"),
	}, Deps{
		Gate:      usage.NewGate(ledger, subs),
		Identity:  identityStore,
		Resumes:   resume.NewStore(db),
		Blobs:     blobs,
		Extractor: extract.NewBasic(),
		Generator: gen,
		Checkout:  billing.NewMockCheckout(""),
		Billing:   billing.NewProcessor(identityStore, nil),
	})

	return &testEnv{srv: srv, ledger: ledger, mock: mock, gen: gen, subs: subs}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, accountID, email string) string {
	t.Helper()
	token, err := e.srv.issueToken(accountID, email)
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func today() string {
	return usage.DayOf(time.Now())
}

// TestHealthEndpoint tests the liveness route
func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

// TestUsageEndpointAnonymous tests the anonymous quota response shape
func TestUsageEndpointAnonymous(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/resumes/usage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status usage.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.CanGenerate)
	assert.Equal(t, 0, status.CurrentUsage)
	assert.Equal(t, 3, status.DailyLimit)
	assert.Equal(t, 3, status.Remaining)
	assert.False(t, status.Subscribed)
}

// TestUsageEndpointGarbageToken tests that an invalid token degrades to
// anonymous instead of failing
func TestUsageEndpointGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/resumes/usage", "not-a-real-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status usage.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 3, status.DailyLimit, "garbage token must fall back to the anonymous tier")
}

// TestUsageEndpointAuthenticated tests the free-tier view for an account
func TestUsageEndpointAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acct-1", "a@example.com")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := env.ledger.IncrementAndGet(ctx, usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
		require.NoError(t, err)
	}

	rec := env.do(t, "GET", "/api/resumes/usage", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status usage.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.CurrentUsage)
	assert.Equal(t, 5, status.DailyLimit)
	assert.Equal(t, 3, status.Remaining)
}

// TestAuthRequired tests the protected-route guard
func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/resumes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/api/resumes", "garbage", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// TestSignup tests account creation responses
func TestSignup(t *testing.T) {
	t.Run("success returns token and user", func(t *testing.T) {
		env := newTestEnv(t)
		now := time.Now()

		env.mock.ExpectBegin()
		env.mock.ExpectQuery("INSERT INTO accounts").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		env.mock.ExpectExec("INSERT INTO subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		rec := env.do(t, "POST", "/api/auth/signup", "", map[string]string{
			"email": "new@example.com", "password": "secret123", "firstName": "Ada",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["token"])
		assert.Equal(t, "User created successfully", body["message"])
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectBegin()
		env.mock.ExpectQuery("INSERT INTO accounts").
			WillReturnError(&pq.Error{Code: "23505"})
		env.mock.ExpectRollback()

		rec := env.do(t, "POST", "/api/auth/signup", "", map[string]string{
			"email": "taken@example.com", "password": "secret123",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "User already exists", decodeBody(t, rec)["message"])
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/api/auth/signup", "", map[string]string{"email": "a@example.com"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestSignin tests credential responses
func TestSignin(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectQuery("SELECT id, email, password_hash").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "created_at", "updated_at"}).
				AddRow("acct-1", "a@example.com", "$2a$10$invalidhashinvalidhashinvalidhashinvalidhashinvalid1u", nil, nil, time.Now(), time.Now()))

		rec := env.do(t, "POST", "/api/auth/signin", "", map[string]string{
			"email": "a@example.com", "password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["message"])
	})

	t.Run("unknown email", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectQuery("SELECT id, email, password_hash").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec := env.do(t, "POST", "/api/auth/signin", "", map[string]string{
			"email": "nobody@example.com", "password": "whatever",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func expectResumeFetch(mock sqlmock.Sqlmock, resumeID, accountID string) {
	mock.ExpectQuery("SELECT id, account_id, title, content, file_path").
		WithArgs(resumeID, accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "title", "content", "file_path", "created_at", "updated_at"}).
			AddRow(resumeID, accountID, "My Resume", "source resume text", nil, time.Now(), time.Now()))
}

// TestGenerateWithJob tests the check -> generate -> record flow
func TestGenerateWithJob(t *testing.T) {
	t.Run("success increments usage", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")
		expectResumeFetch(env.mock, "res-1", "acct-1")

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{
			"resumeId": "res-1", "jobDescription": "Senior Go engineer",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var generated generate.Resume
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
		assert.Contains(t, generated.Summary, "Senior Go engineer")

		count, err := env.ledger.GetCount(context.Background(), usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
		require.NoError(t, err)
		assert.Equal(t, 1, count, "a successful generation must consume exactly one unit")
	})

	t.Run("generator failure does not consume quota", func(t *testing.T) {
		env := newTestEnv(t)
		env.gen.fail = true
		token := env.token(t, "acct-1", "a@example.com")
		expectResumeFetch(env.mock, "res-1", "acct-1")

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{
			"resumeId": "res-1", "jobDescription": "Senior Go engineer",
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		count, err := env.ledger.GetCount(context.Background(), usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
		require.NoError(t, err)
		assert.Equal(t, 0, count, "a failed generation must not consume quota")
	})

	t.Run("limit reached blocks before generating", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")
		expectResumeFetch(env.mock, "res-1", "acct-1")

		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := env.ledger.IncrementAndGet(ctx, usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
			require.NoError(t, err)
		}

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{
			"resumeId": "res-1", "jobDescription": "Senior Go engineer",
		})
		require.Equal(t, http.StatusForbidden, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "Daily generation limit reached", body["message"])
		usageBody, ok := body["usage"].(map[string]interface{})
		require.True(t, ok, "blocked response must carry the structured usage body")
		assert.Equal(t, false, usageBody["can_generate"])
		assert.Equal(t, float64(5), usageBody["current_usage"])

		assert.Equal(t, 0, env.gen.calls, "the generator must not run when blocked")

		count, err := env.ledger.GetCount(ctx, usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
		require.NoError(t, err)
		assert.Equal(t, 5, count, "a blocked request must not consume quota")
	})

	t.Run("premium account passes at free-tier limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.subs.states = map[string]*usage.SubscriptionState{
			"acct-1": {Active: true, Tier: "premium"},
		}
		token := env.token(t, "acct-1", "a@example.com")
		expectResumeFetch(env.mock, "res-1", "acct-1")

		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := env.ledger.IncrementAndGet(ctx, usage.Key{AccountID: "acct-1", Email: "a@example.com"}, today())
			require.NoError(t, err)
		}

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{
			"resumeId": "res-1", "jobDescription": "Senior Go engineer",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing resume", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		env.mock.ExpectQuery("SELECT id, account_id, title, content, file_path").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{
			"resumeId": "res-missing", "jobDescription": "job",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		rec := env.do(t, "POST", "/api/resumes/generate-with-job", token, map[string]string{"resumeId": "res-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestUsageEndpointLedgerFailure tests that infrastructure failure is a 503,
// never a quota refusal
func TestUsageEndpointLedgerFailure(t *testing.T) {
	env := newTestEnv(t)

	// Swap in a gate whose ledger always fails.
	env.srv.gate = usage.NewGate(failingLedger{}, env.subs)

	rec := env.do(t, "GET", "/api/resumes/usage", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingLedger struct{}

func (failingLedger) GetCount(ctx context.Context, key usage.Key, day string) (int, error) {
	return 0, usage.ErrLedgerUnavailable
}

func (failingLedger) IncrementAndGet(ctx context.Context, key usage.Key, day string) (int, error) {
	return 0, usage.ErrLedgerUnavailable
}

func (failingLedger) IncrementIfBelow(ctx context.Context, key usage.Key, day string, limit int) (int, bool, error) {
	return 0, false, usage.ErrLedgerUnavailable
}

// TestUpload tests the multipart upload flow
func TestUpload(t *testing.T) {
	t.Run("text file stored and extracted", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		env.mock.ExpectQuery("INSERT INTO resumes").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "resume.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("resume body"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/api/upload", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)

		rec := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "Resume uploaded successfully", body["message"])
		assert.NotEmpty(t, body["resumeId"])
		assert.Equal(t, "resume.pdf", body["filename"])
	})

	t.Run("unsupported extension rejected", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", "malware.exe")
		require.NoError(t, err)
		_, err = part.Write([]byte("nope"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/api/upload", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)

		rec := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("other", "x"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest("POST", "/api/upload", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)

		rec := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestSubscriptionStatus tests the status route shapes
func TestSubscriptionStatus(t *testing.T) {
	t.Run("missing row reports unsubscribed", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		env.mock.ExpectQuery("SELECT id, account_id, email, subscribed").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rec := env.do(t, "GET", "/api/subscription/status", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["subscribed"])
		assert.Nil(t, body["subscription_tier"])
	})

	t.Run("active subscription", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")
		end := time.Now().Add(24 * time.Hour)

		env.mock.ExpectQuery("SELECT id, account_id, email, subscribed").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "email", "subscribed", "tier", "current_period_end", "billing_customer_id"}).
				AddRow("sub-1", "acct-1", "a@example.com", true, "premium", end, nil))

		rec := env.do(t, "GET", "/api/subscription/status", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["subscribed"])
		assert.Equal(t, "premium", body["subscription_tier"])
	})
}

// TestCheckout tests the mock checkout session route
func TestCheckout(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acct-1", "a@example.com")

	rec := env.do(t, "POST", "/api/subscription/checkout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["checkout_url"], "acct-1")
}

// TestWebhook tests the billing webhook route
func TestWebhook(t *testing.T) {
	t.Run("activation event", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectExec("UPDATE subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := env.do(t, "POST", "/api/billing/webhook", "", billing.Event{
			Type: billing.EventCheckoutCompleted, AccountID: "acct-1",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown event type", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, "POST", "/api/billing/webhook", "", billing.Event{
			Type: "payment.disputed", AccountID: "acct-1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectExec("UPDATE subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 0))

		rec := env.do(t, "POST", "/api/billing/webhook", "", billing.Event{
			Type: billing.EventSubscriptionCancelled, AccountID: "acct-missing",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestUpdateResume tests owner-scoped content editing via the API
func TestUpdateResume(t *testing.T) {
	t.Run("owner update", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		env.mock.ExpectExec("UPDATE resumes SET content").
			WithArgs("res-1", "acct-1", "revised resume text").
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := env.do(t, "PUT", "/api/resumes/res-1", token, map[string]string{
			"content": "revised resume text",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Resume updated successfully", decodeBody(t, rec)["message"])
	})

	t.Run("missing or foreign resume", func(t *testing.T) {
		env := newTestEnv(t)
		token := env.token(t, "acct-1", "a@example.com")

		env.mock.ExpectExec("UPDATE resumes SET content").
			WillReturnResult(sqlmock.NewResult(0, 0))

		rec := env.do(t, "PUT", "/api/resumes/res-other", token, map[string]string{
			"content": "x",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestDeleteResume tests owner-scoped deletion via the API
func TestDeleteResume(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acct-1", "a@example.com")

	expectResumeFetch(env.mock, "res-1", "acct-1")
	env.mock.ExpectExec("DELETE FROM resumes").
		WithArgs("res-1", "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(t, "DELETE", "/api/resumes/res-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Resume deleted successfully", decodeBody(t, rec)["message"])
}

// TestProfileUpdate tests the profile route
func TestProfileUpdate(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acct-1", "a@example.com")

	env.mock.ExpectExec("UPDATE accounts SET first_name").
		WithArgs("acct-1", "Grace", "Hopper").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(t, "PUT", "/api/profile", token, map[string]string{
		"firstName": "Grace", "lastName": "Hopper",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestNoDatabaseDegradation tests that account routes 503 while the usage
// endpoint keeps working without a database
func TestNoDatabaseDegradation(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srv := NewServer(Config{JWTSecret: []byte("test-secret")}, Deps{
		Gate:      usage.NewGate(ledger, &stubSubscriptions{}),
		Blobs:     blobs,
		Extractor: extract.NewBasic(),
		Generator: generate.NewMock(),
		Checkout:  billing.NewMockCheckout(""),
		Billing:   billing.NewProcessor(nil, nil),
	})
	env := &testEnv{srv: srv, ledger: ledger}

	rec := env.do(t, "GET", "/api/resumes/usage", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := srv.issueToken("acct-1", "a@example.com")
	require.NoError(t, err)
	rec = env.do(t, "GET", "/api/resumes", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, "POST", "/api/auth/signup", "", map[string]string{
		"email": "a@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The webhook route is unauthenticated and must degrade the same way
	// rather than touch a store that is not there.
	rec = env.do(t, "POST", "/api/billing/webhook", "", billing.Event{
		Type: billing.EventCheckoutCompleted, AccountID: "acct-1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestTokenRoundTrip tests issue/parse symmetry and claim validation
func TestTokenRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.srv.issueToken("acct-1", "a@example.com")
	require.NoError(t, err)

	id, err := env.srv.parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id.AccountID)
	assert.Equal(t, "a@example.com", id.Email)

	_, err = env.srv.parseToken("garbage")
	assert.Error(t, err)

	other := NewServer(Config{JWTSecret: []byte("different-secret")}, Deps{})
	wrongKey, err := other.issueToken("acct-1", "a@example.com")
	require.NoError(t, err)
	_, err = env.srv.parseToken(wrongKey)
	assert.Error(t, err, "token signed with another key must be rejected")
}

// TestMetricsEndpoint tests the JSON metrics route
func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "GET", "/api/resumes/usage", "", nil)

	rec := env.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_requests"])
	assert.Equal(t, float64(1), body["success_requests"])
}

// TestClientTokenHeader tests per-token anonymous identity plumbing
func TestClientTokenHeader(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srv := NewServer(Config{JWTSecret: []byte("test-secret")}, Deps{
		Gate: usage.NewGate(ledger, &stubSubscriptions{},
			usage.WithIdentityResolver(usage.NewIdentityResolver(usage.AnonymousToken))),
		Blobs:     blobs,
		Extractor: extract.NewBasic(),
		Generator: generate.NewMock(),
		Checkout:  billing.NewMockCheckout(""),
		Billing:   billing.NewProcessor(nil, nil),
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ledger.IncrementAndGet(ctx, usage.Key{Email: "anon:tok-a"}, today())
		require.NoError(t, err)
	}

	req := httptest.NewRequest("GET", "/api/resumes/usage", nil)
	req.Header.Set(clientTokenHeader, "tok-a")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var status usage.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.CanGenerate, "exhausted token must be blocked")

	req = httptest.NewRequest("GET", "/api/resumes/usage", nil)
	req.Header.Set(clientTokenHeader, "tok-b")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.CanGenerate, "a fresh token must have its own quota")
}
