package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"packages_loaded": details.PackagesLoaded,
		"packages_ready":  details.PackagesReady,
		"packages_failed": details.PackagesFailed,
		"components":      details.Components,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.registry.ListPackages(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list packages")
		return
	}

	response := make([]map[string]interface{}, len(packages))
	for i := range packages {
		response[i] = s.formatPackage(r, &packages[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"packages": response,
		"count":    len(packages),
	})
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.registry.GetPackage(r.Context(), mux.Vars(r)["packageId"])
	if err != nil {
		s.handleError(w, err)
		return
	}

	body := s.formatPackage(r, pkg)
	tables := make([]map[string]interface{}, len(pkg.Tables))
	for i := range pkg.Tables {
		tables[i] = formatTable(&pkg.Tables[i])
	}
	body["tables"] = tables

	s.writeJSON(w, http.StatusOK, body)
}

// handlePackageStatus checks every backend of every table of a package.
func (s *Server) handlePackageStatus(w http.ResponseWriter, r *http.Request) {
	packageID := mux.Vars(r)["packageId"]

	statuses, err := s.registry.Status(r.Context(), packageID)
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id": packageID,
		"tables":     statuses,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(int(application.DefaultSyncCooldown.Seconds())))
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) formatPackage(r *http.Request, pkg *domain.GeoPackage) map[string]interface{} {
	status, _ := s.registry.GetPackageStatus(r.Context(), pkg.ID)
	return map[string]interface{}{
		"id":          pkg.ID,
		"name":        pkg.Name,
		"path":        pkg.Path,
		"size":        pkg.Size,
		"table_count": pkg.TableCount(),
		"indexed":     pkg.IsIndexed(),
		"status":      status,
		"loaded_at":   pkg.LoadedAt,
	}
}

func formatTable(t *domain.FeatureTable) map[string]interface{} {
	table := map[string]interface{}{
		"name":            t.Name,
		"description":     t.Description,
		"geometry_type":   t.GeometryType,
		"geometry_column": t.GeometryColumn,
		"srid":            t.SRID,
		"feature_count":   t.FeatureCount,
		"indexed_kind":    t.IndexedKind.String(),
	}
	if t.Extent != nil {
		table["extent"] = map[string]interface{}{
			"min_x": t.Extent.MinX,
			"min_y": t.Extent.MinY,
			"max_x": t.Extent.MaxX,
			"max_y": t.Extent.MaxY,
		}
	}
	return table
}

// handleError maps domain errors to HTTP status codes.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPackageNotFound):
		s.writeError(w, http.StatusNotFound, "Package not found")
	case errors.Is(err, domain.ErrTableNotFound):
		s.writeError(w, http.StatusNotFound, "Table not found")
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "Package is being reloaded")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
