package input

import "context"

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if every loaded package finished indexing.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              `json:"healthy"`
	Ready          bool              `json:"ready"`
	PackagesLoaded int               `json:"packages_loaded"`
	PackagesReady  int               `json:"packages_ready"`
	PackagesFailed int               `json:"packages_failed"`
	Components     map[string]string `json:"components"`
}
