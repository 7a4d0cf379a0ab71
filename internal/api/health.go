package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/foreman-dev/foreman/pkg/observability"
)

// HealthAPI reports service health. The database is required for
// readiness; the queue is reported but does not fail the check.
type HealthAPI struct {
	environment string
	dbPing      func(c *gin.Context) error
	queuePing   func(c *gin.Context) error
	logger      observability.Logger
}

func NewHealthAPI(environment string, dbPing, queuePing func(c *gin.Context) error, logger observability.Logger) *HealthAPI {
	return &HealthAPI{environment: environment, dbPing: dbPing, queuePing: queuePing, logger: logger}
}

// RegisterRoutes registers the unauthenticated health endpoint
func (a *HealthAPI) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", a.getHealth)
}

func (a *HealthAPI) getHealth(c *gin.Context) {
	services := gin.H{}
	healthy := true

	if err := a.dbPing(c); err != nil {
		services["database"] = "unreachable"
		healthy = false
		a.logger.Error("Health check database ping failed", map[string]interface{}{"error": err.Error()})
	} else {
		services["database"] = "ok"
	}

	if a.queuePing != nil {
		if err := a.queuePing(c); err != nil {
			services["queue"] = "unreachable"
		} else {
			services["queue"] = "ok"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now().UnixMilli(),
		"environment": a.environment,
		"services":    services,
	})
}
