package ginserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandlers exposes liveness and readiness for orchestrators.
type HealthHandlers struct {
	Ready func() (bool, []string)
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if ready, failing := h.Ready(); !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failing": failing})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
