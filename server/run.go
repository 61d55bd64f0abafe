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

// Package server exposes the ResumeHub HTTP API: auth, uploads, generation
// behind the daily usage gate, subscription status, and billing webhooks.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"resumehub/platform/billing"
	"resumehub/platform/common/usage"
	"resumehub/platform/extract"
	"resumehub/platform/generate"
	"resumehub/platform/identity"
	"resumehub/platform/resume"
	"resumehub/platform/shared/logger"
	"resumehub/platform/storage"
)

// Config carries the static server settings.
type Config struct {
	Port           string
	JWTSecret      []byte
	AllowedOrigins []string
}

// Deps carries the wired collaborators. Identity and Resumes may be nil when
// no database is configured; the affected routes return 503.
type Deps struct {
	Gate      *usage.Gate
	Identity  *identity.Store
	Resumes   *resume.Store
	Blobs     storage.BlobStore
	Extractor extract.Extractor
	Generator generate.Generator
	Checkout  billing.CheckoutProvider
	Billing   *billing.Processor
}

// Server holds the handler state.
type Server struct {
	cfg       Config
	jwtSecret []byte
	gate      *usage.Gate
	identity  *identity.Store
	resumes   *resume.Store
	blobs     storage.BlobStore
	extractor extract.Extractor
	generator generate.Generator
	checkout  billing.CheckoutProvider
	billing   *billing.Processor
	log       *logger.Logger
	metrics   *serviceMetrics
}

// NewServer assembles a server from its collaborators.
func NewServer(cfg Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		jwtSecret: cfg.JWTSecret,
		gate:      deps.Gate,
		identity:  deps.Identity,
		resumes:   deps.Resumes,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		generator: deps.Generator,
		checkout:  deps.Checkout,
		billing:   deps.Billing,
		log:       logger.New("server"),
		metrics:   newServiceMetrics(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.healthHandler).Methods("GET")

	r.HandleFunc("/api/auth/signup", s.signupHandler).Methods("POST")
	r.HandleFunc("/api/auth/signin", s.signinHandler).Methods("POST")
	r.HandleFunc("/api/auth/me", s.requireAccount(s.meHandler)).Methods("GET")

	// The usage endpoint answers for everyone; a bad token degrades to
	// anonymous instead of failing.
	r.HandleFunc("/api/resumes/usage", s.optionalAuth(s.usageHandler)).Methods("GET")

	r.HandleFunc("/api/upload", s.requireAccount(s.uploadHandler)).Methods("POST")
	r.HandleFunc("/api/resumes/generate-with-job", s.requireAccount(s.generateWithJobHandler)).Methods("POST")
	r.HandleFunc("/api/resumes", s.requireAccount(s.listResumesHandler)).Methods("GET")
	r.HandleFunc("/api/resumes/{id}", s.requireAccount(s.updateResumeHandler)).Methods("PUT")
	r.HandleFunc("/api/resumes/{id}", s.requireAccount(s.deleteResumeHandler)).Methods("DELETE")

	r.HandleFunc("/api/profile", s.requireAccount(s.profileHandler)).Methods("PUT")

	r.HandleFunc("/api/subscription/status", s.requireAccount(s.subscriptionStatusHandler)).Methods("GET")
	r.HandleFunc("/api/subscription/checkout", s.requireAccount(s.checkoutHandler)).Methods("POST")
	r.HandleFunc("/api/billing/webhook", s.webhookHandler).Methods("POST")

	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	return r
}

// requireAccount is requireAuth plus a database availability check for routes
// that cannot work without the account stores.
func (s *Server) requireAccount(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if s.identity == nil || s.resumes == nil {
			sendError(w, "Account features unavailable: database not configured", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	})
}

// Handler wraps the router with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.Router())
}

// Run is the exported entry point for the platform service. It wires every
// dependency from the environment and blocks serving HTTP.
func Run() {
	port := getEnv("PORT", "8080")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("⚠️  JWT_SECRET not set - using insecure development secret")
		jwtSecret = "dev-secret-change-me"
	}

	// Database (optional: without it only anonymous usage checks work)
	var db *sql.DB
	dbURL := databaseURL()
	if dbURL != "" {
		var err error
		db, err = openWithRetry(dbURL, 5)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Println("✅ Database connected")

		migrationsPath := getEnv("MIGRATIONS_PATH", "migrations")
		if err := applyMigrations(db, migrationsPath); err != nil {
			log.Fatalf("Database migrations failed: %v", err)
		}
	} else {
		log.Println("ℹ️  DATABASE_URL not set - account features disabled, usage tracked in memory")
	}

	// Usage ledger and tier limits
	var ledger usage.Ledger
	if db != nil {
		ledger = usage.NewPostgresLedger(db)
	} else {
		ledger = usage.NewMemoryLedger()
	}

	limits := usage.DefaultLimits()
	if path := os.Getenv("TIER_CONFIG_FILE"); path != "" {
		loaded, err := usage.LoadLimits(path)
		if err != nil {
			log.Printf("⚠️  Failed to load tier config %s: %v (using defaults)", path, err)
		} else {
			limits = loaded
			log.Printf("✅ Tier limits loaded from %s", path)
		}
	}

	// Identity, subscriptions, and the optional redis cache
	var identityStore *identity.Store
	var resumeStore *resume.Store
	var subs usage.SubscriptionSource = noSubscriptions{}
	var cache *identity.SubscriptionCache

	if db != nil {
		identityStore = identity.NewStore(db)
		resumeStore = resume.NewStore(db)
		subs = identityStore

		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     addr,
				Password: os.Getenv("REDIS_PASSWORD"),
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				log.Printf("⚠️  Redis unavailable at %s: %v (subscription cache disabled)", addr, err)
			} else {
				cache = identity.NewSubscriptionCache(identityStore, client, identity.DefaultSubscriptionTTL)
				subs = cache
				log.Println("✅ Subscription cache enabled")
			}
		}
	}

	gate := usage.NewGate(ledger, subs,
		usage.WithLimits(limits),
		usage.WithIdentityResolver(usage.NewIdentityResolver(
			usage.AnonymousMode(getEnv("ANON_IDENTITY_MODE", string(usage.AnonymousShared))))))

	// Upload blob storage
	var blobs storage.BlobStore
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		s3Store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			Region:          os.Getenv("AWS_REGION"),
			Bucket:          bucket,
			Prefix:          getEnv("S3_PREFIX", "uploads"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			ForcePathStyle:  os.Getenv("S3_FORCE_PATH_STYLE") == "true",
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		blobs = s3Store
		log.Printf("✅ S3 storage enabled (bucket: %s)", bucket)
	} else {
		localStore, err := storage.NewLocalStore(getEnv("UPLOAD_DIR", "uploads"))
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		blobs = localStore
	}

	var billingCache billing.Invalidator
	if cache != nil {
		billingCache = cache
	}
	var billingSubs billing.Subscriptions
	if identityStore != nil {
		billingSubs = identityStore
	}

	srv := NewServer(Config{
		Port:           port,
		JWTSecret:      []byte(jwtSecret),
		AllowedOrigins: splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}, Deps{
		Gate:      gate,
		Identity:  identityStore,
		Resumes:   resumeStore,
		Blobs:     blobs,
		Extractor: extract.NewBasic(),
		Generator: generate.NewMock(),
		Checkout:  billing.NewMockCheckout(os.Getenv("CHECKOUT_BASE_URL")),
		Billing:   billing.NewProcessor(billingSubs, billingCache),
	})

	log.Printf("🚀 ResumeHub platform listening on port %s", port)
	if err := http.ListenAndServe(":"+port, srv.Handler()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// noSubscriptions reports every account as having no subscription row; the
// gate then applies its free-tier fallback.
type noSubscriptions struct{}

func (noSubscriptions) SubscriptionState(ctx context.Context, accountID string) (*usage.SubscriptionState, error) {
	return nil, nil
}

// databaseURL builds the connection string from separate env vars, falling
// back to a literal DATABASE_URL.
func databaseURL() string {
	host := os.Getenv("DATABASE_HOST")
	password := os.Getenv("DATABASE_PASSWORD")
	if host == "" || password == "" {
		return os.Getenv("DATABASE_URL")
	}

	port := getEnv("DATABASE_PORT", "5432")
	name := getEnv("DATABASE_NAME", "resumehub")
	user := getEnv("DATABASE_USER", "resumehub_app")
	sslMode := getEnv("DATABASE_SSLMODE", "require")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, name, sslMode)
}

// openWithRetry handles slow DNS/database startup in container environments.
func openWithRetry(dbURL string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				return db, nil
			}
		}
		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("⚠️  Database connection failed (attempt %d/%d): %v, retrying in %v", attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, err)
}

// applyMigrations runs the pending *.sql files in lexical order, tracking
// applied versions in schema_migrations.
func applyMigrations(db *sql.DB, dir string) error {
	entries, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(entries) == 0 {
		log.Printf("ℹ️  No migration files found in %s", dir)
		return nil
	}
	sort.Strings(entries)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}

	applied := 0
	for _, path := range entries {
		version := filepath.Base(path)

		var exists bool
		if err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s failed: %w", version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		log.Printf("✅ Migration %s applied", version)
		applied++
	}
	log.Printf("✅ Database migrations completed: %d applied, %d total", applied, len(entries))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
