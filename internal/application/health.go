package application

import (
	"context"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *PackageRegistry
}

// NewHealthService creates a new health service.
func NewHealthService(registry *PackageRegistry) *HealthService {
	return &HealthService{
		registry: registry,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true when no package is still loading or indexing.
func (s *HealthService) IsReady(ctx context.Context) bool {
	for _, h := range s.GetPackageHealth(ctx) {
		switch h.Status {
		case domain.StatusLoading, domain.StatusIndexing:
			return false
		}
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	packages := s.GetPackageHealth(ctx)

	ready, failed := 0, 0
	for _, h := range packages {
		switch h.Status {
		case domain.StatusReady:
			ready++
		case domain.StatusError:
			failed++
		}
	}

	components := map[string]string{
		"registry": "ok",
	}
	if failed > 0 {
		components["registry"] = "degraded"
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		PackagesLoaded: len(packages),
		PackagesReady:  ready,
		PackagesFailed: failed,
		Components:     components,
	}
}

// PackageHealth contains health info for a single package.
type PackageHealth struct {
	ID      string                  `json:"id"`
	Status  domain.GeoPackageStatus `json:"status"`
	Tables  int                     `json:"tables"`
	Indexed bool                    `json:"indexed"`
}

// GetPackageHealth returns health info for all packages.
func (s *HealthService) GetPackageHealth(ctx context.Context) []PackageHealth {
	packages, _ := s.registry.ListPackages(ctx)

	health := make([]PackageHealth, len(packages))
	for i, pkg := range packages {
		status, _ := s.registry.GetPackageStatus(ctx, pkg.ID)
		health[i] = PackageHealth{
			ID:      pkg.ID,
			Status:  status,
			Tables:  pkg.TableCount(),
			Indexed: pkg.IsIndexed(),
		}
	}

	return health
}
