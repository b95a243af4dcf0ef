package dto

import "time"

// SystemMetrics is a point-in-time summary of service activity.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	Generations              uint64    `json:"generations"`
	GenerationFailures       uint64    `json:"generationFailures"`
	LedgerConflicts          uint64    `json:"ledgerConflicts"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Metrics *SystemMetrics    `json:"metrics,omitempty"`
}
