package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/cache"
	"aibridge-backend/internal/database"
	"aibridge-backend/internal/models"
)

var startTime = time.Now()

// HandleSystemMetrics returns system-level metrics for the admin UI
func HandleSystemMetrics(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var projectCount, userCount, orgCount, annotationCount int64
	dbConnected := false
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbConnected = true
			}
		}
		database.DB.Model(&models.Project{}).Count(&projectCount)
		database.DB.Model(&models.User{}).Count(&userCount)
		database.DB.Model(&models.Organization{}).Count(&orgCount)
		database.DB.Model(&models.Annotation{}).Count(&annotationCount)
	}

	redisConnected := cache.Default.Ping() == nil

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":     time.Since(startTime).Seconds(),
		"database_connected": dbConnected,
		"redis_connected":    redisConnected,
		"memory": gin.H{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
		"resources": gin.H{
			"projects":      projectCount,
			"users":         userCount,
			"organizations": orgCount,
			"annotations":   annotationCount,
		},
		"timestamp": time.Now(),
	})
}
