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
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumehub_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resumehub_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
		[]string{"route"},
	)
	promGenerationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resumehub_generations_total",
			Help: "Total number of successful resume generations",
		},
	)
	promLimitBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resumehub_limit_blocked_total",
			Help: "Total number of generations blocked by the daily limit",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promGenerationsTotal)
	prometheus.MustRegister(promLimitBlockedTotal)
}

// serviceMetrics tracks counters for the JSON /metrics endpoint
type serviceMetrics struct {
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	blockedRequests int64
	generations     int64
	startTime       time.Time
}

func newServiceMetrics() *serviceMetrics {
	return &serviceMetrics{startTime: time.Now()}
}

func (m *serviceMetrics) recordRequest(status string, route string, elapsed time.Duration) {
	atomic.AddInt64(&m.totalRequests, 1)
	switch status {
	case "success":
		atomic.AddInt64(&m.successRequests, 1)
	case "blocked":
		atomic.AddInt64(&m.blockedRequests, 1)
		promLimitBlockedTotal.Inc()
	default:
		atomic.AddInt64(&m.failedRequests, 1)
	}
	promRequestsTotal.WithLabelValues(status).Inc()
	promRequestDuration.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

func (m *serviceMetrics) recordGeneration() {
	atomic.AddInt64(&m.generations, 1)
	promGenerationsTotal.Inc()
}

// metricsHandler returns service counters in JSON form
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()
	total := atomic.LoadInt64(&m.totalRequests)

	rps := float64(0)
	if uptime > 0 {
		rps = float64(total) / uptime
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime_seconds":     uptime,
		"total_requests":     total,
		"success_requests":   atomic.LoadInt64(&m.successRequests),
		"failed_requests":    atomic.LoadInt64(&m.failedRequests),
		"blocked_requests":   atomic.LoadInt64(&m.blockedRequests),
		"generations_total":  atomic.LoadInt64(&m.generations),
		"requests_per_second": rps,
		"timestamp":          time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding metrics response: %v", err)
	}
}
