package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Health returns a liveness/readiness handler. With no checks it always
// reports ok; with checks it probes each one under a short deadline and
// returns 503 naming the failing components.
func Health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(checks) == 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		components := make(gin.H, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				components[name] = err.Error()
				healthy = false
			} else {
				components[name] = "ok"
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "components": components})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "components": components})
	}
}
