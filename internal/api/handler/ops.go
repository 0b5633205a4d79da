package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/pushgate/pushgate/internal/api/models"
	"github.com/pushgate/pushgate/internal/api/response"
	"github.com/pushgate/pushgate/internal/provider/resilience"
)

// readinessTimeout bounds the dependency checks of the readiness probe.
const readinessTimeout = 2 * time.Second

// Pinger checks a dependency's connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	database  Pinger
	providers *resilience.Registry
}

// OpsConfig holds the dependencies the readiness probe reports on.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Database is optional; in-memory deployments have none.
	Database Pinger

	// Providers tracks circuit breakers of push providers and key set fetches.
	Providers *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Providers == nil {
		cfg.Providers = resilience.NewRegistry()
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		database:  cfg.Database,
		providers: cfg.Providers,
	}
}

// HealthCheck handles GET /v1/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.NewTimestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ready. A failing database makes the service
// unready (503); an open provider circuit only degrades it.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status:     models.HealthStatusOK,
		Time:       models.NewTimestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		sub := models.SubsystemStatus{Name: "postgres", Status: models.HealthStatusOK}
		if err := h.database.Ping(ctx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
			ready.Status = models.HealthStatusFail
		}
		ready.Subsystems = append(ready.Subsystems, sub)
	}

	for _, p := range h.providers.GetAllHealth() {
		status := toProviderStatus(p)
		if status.Status != models.HealthStatusOK && ready.Status == models.HealthStatusOK {
			ready.Status = models.HealthStatusDegraded
		}
		ready.Providers = append(ready.Providers, status)
	}

	code := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, ready)
}

func toProviderStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	status := models.ProviderStatus{
		Provider:      p.Name,
		Status:        models.HealthStatusOK,
		LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(p.LastFailureAt),
	}
	switch {
	case p.IsUnhealthy():
		status.Status = models.HealthStatusFail
	case p.IsDegraded():
		status.Status = models.HealthStatusDegraded
	}
	if p.LastError != "" {
		msg := p.LastError
		status.Message = &msg
	}
	return status
}
