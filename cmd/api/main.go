package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"aibridge-backend/internal/annotations"
	"aibridge-backend/internal/auth"
	"aibridge-backend/internal/billing"
	"aibridge-backend/internal/bootstrap"
	"aibridge-backend/internal/cache"
	"aibridge-backend/internal/dashboard"
	"aibridge-backend/internal/database"
	"aibridge-backend/internal/datasets"
	"aibridge-backend/internal/files"
	"aibridge-backend/internal/health"
	"aibridge-backend/internal/labelstudio"
	"aibridge-backend/internal/metrics"
	"aibridge-backend/internal/middleware"
	"aibridge-backend/internal/models"
	"aibridge-backend/internal/organizations"
	"aibridge-backend/internal/projects"
	"aibridge-backend/internal/reviews"
	"aibridge-backend/internal/storage"
)

func main() {
	log.Println("🚀 Starting AI Bridge API Server")
	startedAt := time.Now()

	// Sentry first so initialization failures get captured too
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		host, _ := os.Hostname()
		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     os.Getenv("SENTRY_RELEASE"),
		}
		if host != "" {
			opts.ServerName = host
		}
		if err := sentry.Init(opts); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "aibridge-backend")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := database.RunMigrations(models.All()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✅ Database migrations completed")
	bootstrap.Run(database.DB)

	auth.InitJWT()

	// Optional dependencies degrade gracefully when unconfigured.
	if err := cache.InitRedis(); err != nil {
		log.Printf("⚠️  Redis unavailable, falling back to in-memory cache: %v", err)
	}
	if err := storage.InitS3(); err != nil {
		log.Printf("⚠️  Object storage unavailable: %v", err)
	}
	if err := labelstudio.InitClient(); err != nil {
		log.Printf("⚠️  Annotation bridge unavailable: %v", err)
	}
	billing.InitStripe()

	// Background maintenance
	middleware.StartCleanup()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			auth.CleanupTokenBlacklist(database.DB)
		}
	}()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS must run first so OPTIONS preflights short-circuit cleanly
	router.Use(cors.New(middleware.SecureCORSConfig()))

	securityConfig := middleware.GetSecurityConfig()
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(securityConfig.MaxRequestSize))
	router.Use(middleware.SecurityMonitoring())
	router.Use(metrics.Instrument())
	router.Use(middleware.GeneralRateLimit())

	// Operational surface
	router.GET("/health", health.HandleHealthCheck)
	router.GET("/ready", health.HandleSystemReady)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	{
		// Public routes
		api.GET("/plans", billing.HandleGetPlans)
		api.GET("/billing/pricing", billing.HandleGetPricing)
		api.POST("/billing/webhook", billing.HandleStripeWebhook)

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", middleware.LoginRateLimit(), auth.HandleLogin)
			authRoutes.POST("/register", middleware.RegisterRateLimit(), auth.HandleRegister)
		}

		protected := api.Group("")
		protected.Use(auth.Middleware(database.DB))
		protected.Use(middleware.APIRateLimit())
		{
			// Profile and session
			protected.POST("/auth/logout", auth.HandleLogout)
			protected.GET("/profile", auth.HandleGetProfile)
			protected.PUT("/profile", auth.HandleUpdateProfile)
			protected.PUT("/profile/password", auth.HandleChangePassword)
			protected.POST("/profile/mfa/setup", auth.HandleMFASetup)
			protected.POST("/profile/mfa/enable", auth.HandleMFAEnable)
			protected.POST("/profile/mfa/disable", auth.HandleMFADisable)

			// System telemetry
			protected.GET("/system/metrics", auth.AdminMiddleware(), metrics.HandleSystemMetrics)

			// Projects
			manage := auth.RoleRequired(models.RoleAdmin, models.RoleClientAdmin, models.RoleProjectManager)
			protected.POST("/projects", manage, projects.HandleCreateProject)
			protected.GET("/projects", projects.HandleListProjects)
			protected.GET("/projects/:id", projects.HandleGetProject)
			protected.PUT("/projects/:id", manage, projects.HandleUpdateProject)
			protected.DELETE("/projects/:id",
				auth.RoleRequired(models.RoleAdmin, models.RoleProjectManager),
				projects.HandleDeleteProject)
			protected.GET("/projects/:id/stats", projects.HandleProjectStats)
			protected.GET("/projects/:id/quality", manage, reviews.HandleProjectQuality)

			// Datasets under a project
			protected.POST("/projects/:id/datasets", manage, datasets.HandleCreateDataset)
			protected.GET("/projects/:id/datasets", datasets.HandleListDatasets)

			// Datasets and their files
			protected.GET("/datasets/:id", datasets.HandleGetDataset)
			protected.PUT("/datasets/:id", manage, datasets.HandleUpdateDataset)
			protected.GET("/datasets/:id/items", datasets.HandleListItems)
			protected.POST("/datasets/:id/files/upload", manage, files.HandleUpload)
			protected.POST("/datasets/:id/files/presign", manage, files.HandlePresignUpload)
			protected.POST("/datasets/:id/files/register", manage, files.HandleRegisterDirectUpload)

			// Data items
			protected.GET("/items/:id/download", files.HandleDownload)
			protected.DELETE("/items/:id", manage, files.HandleDeleteItem)

			// Annotations
			annotate := auth.RoleRequired(models.RoleAdmin, models.RoleLabeler)
			protected.POST("/annotations", annotate, annotations.HandleCreateAnnotation)
			protected.GET("/annotations", annotations.HandleListAnnotations)
			protected.GET("/annotations/:id", annotations.HandleGetAnnotation)
			protected.PUT("/annotations/:id", annotations.HandleUpdateAnnotation)
			protected.POST("/annotations/:id/submit", annotate, annotations.HandleSubmitAnnotation)

			// Reviews
			review := auth.RoleRequired(models.RoleAdmin, models.RoleReviewer, models.RoleProjectManager)
			protected.POST("/reviews", review, reviews.HandleCreateReview)
			protected.GET("/reviews", reviews.HandleListReviews)

			// Annotation tool bridge
			protected.POST("/projects/:id/sync", manage, labelstudio.HandleSyncProject)
			protected.POST("/projects/:id/pull", manage, labelstudio.HandlePullAnnotations)
			protected.DELETE("/projects/:id/sync", manage, labelstudio.HandleUnlinkProject)

			// Billing
			clientBilling := auth.RoleRequired(models.RoleAdmin, models.RoleClientAdmin)
			protected.POST("/billing/calculate-cost", billing.HandleCalculateCost)
			protected.GET("/billing/publishable-key", billing.HandleGetPublishableKey)
			protected.POST("/billing/payment-intent", clientBilling, billing.HandleCreatePaymentIntent)
			protected.GET("/billing/payments", billing.HandlePaymentHistory)
			protected.GET("/billing/payments/:id", billing.HandleGetPaymentStatus)
			protected.GET("/billing/payment-methods", clientBilling, billing.HandleListPaymentMethods)
			protected.POST("/billing/subscription", clientBilling, billing.HandleCreateSubscription)
			protected.GET("/billing/subscription", clientBilling, billing.HandleGetCurrentSubscription)
			protected.DELETE("/billing/subscription", clientBilling, billing.HandleCancelSubscription)
			protected.GET("/billing/usage", clientBilling, billing.HandleUsageStats)

			// Dashboards
			protected.GET("/dashboard/admin", auth.AdminMiddleware(), dashboard.HandleAdminDashboard)
			protected.GET("/dashboard/client",
				auth.RoleRequired(models.RoleClientAdmin, models.RoleClientUser),
				dashboard.HandleClientDashboard)
			protected.GET("/dashboard/annotator",
				auth.RoleRequired(models.RoleLabeler, models.RoleReviewer),
				dashboard.HandleAnnotatorDashboard)
			protected.GET("/dashboard/manager",
				auth.RoleRequired(models.RoleProjectManager),
				dashboard.HandleManagerDashboard)

			// Organization management
			protected.GET("/organization", organizations.HandleGetOrganization)
			protected.PUT("/organization", auth.RoleRequired(models.RoleAdmin, models.RoleClientAdmin),
				organizations.HandleUpdateOrganization)
			protected.GET("/organization/members", organizations.HandleListMembers)
			protected.PUT("/organization/members/:id",
				auth.RoleRequired(models.RoleAdmin, models.RoleClientAdmin),
				organizations.HandleUpdateMemberRole)
			protected.GET("/organizations", auth.AdminMiddleware(), organizations.HandleListOrganizations)
		}
	}

	router.GET("/status/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uptime":   time.Since(startedAt).Seconds(),
			"version":  "1.0.0",
			"status":   "healthy",
			"started":  startedAt,
			"database": database.DB != nil,
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✅ Server starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// In-flight requests get 15 seconds to drain on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Forced shutdown: %v", err)
	}
	log.Println("✅ Server stopped")
}
