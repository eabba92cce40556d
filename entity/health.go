package entity

import "time"

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthStatus struct {
	Status                string    `json:"status"`
	DegradedServiceIDs    []string  `json:"degradedServiceIds"`
	BundleCacheAgeSeconds float64   `json:"bundleCacheAgeSeconds"`
	CheckedAt             time.Time `json:"checkedAt"`
}
