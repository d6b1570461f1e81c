package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/billing"
	"aibridge-backend/internal/cache"
	"aibridge-backend/internal/database"
	"aibridge-backend/internal/labelstudio"
	"aibridge-backend/internal/storage"
)

var startTime = time.Now()

// HandleHealthCheck returns basic liveness status
func HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "aibridge-api",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

// HandleSystemReady fans out to every dependency. The database gates
// readiness; the rest are reported but optional.
func HandleSystemReady(c *gin.Context) {
	dbReady := false
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbReady = true
			}
		}
	}

	cacheReady := cache.Default.Ping() == nil

	storageReady := false
	if storage.Default != nil {
		storageReady = storage.Default.Health(c.Request.Context()) == nil
	}

	annotationBridge := "disabled"
	if labelstudio.Enabled() {
		if labelstudio.Default.Health(c.Request.Context()) == nil {
			annotationBridge = "healthy"
		} else {
			annotationBridge = "unreachable"
		}
	}

	billingStatus := "disabled"
	if billing.Enabled() {
		billingStatus = "configured"
	}

	status := http.StatusOK
	if !dbReady {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"ready":             dbReady,
		"database":          dbReady,
		"cache":             cacheReady,
		"storage":           storageReady,
		"annotation_bridge": annotationBridge,
		"billing":           billingStatus,
		"service":           "aibridge-api",
	})
}
