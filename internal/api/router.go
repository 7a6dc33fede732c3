// Package api wires together all HTTP routes for the CRM security and
// notification backend.
//
// Route grouping philosophy:
//   - /health and /version are unauthenticated probes.
//   - Everything under /api/v1 is the operator surface consumed by the CRM
//     frontend and by internal tooling; it sits behind the shared rate
//     limiter so a misbehaving client cannot starve the audit trail.
package api

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/config"
	"github.com/meridian-crm/meridian/internal/gateway"
	"github.com/meridian-crm/meridian/internal/middleware"
	"github.com/meridian-crm/meridian/internal/safego"
	"github.com/meridian-crm/meridian/internal/scheduler"
	"github.com/meridian-crm/meridian/internal/store"
	"github.com/meridian-crm/meridian/internal/threat"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	scheduler    *scheduler.Scheduler
	localLimiter *middleware.LocalLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	if bg.localLimiter != nil {
		bg.localLimiter.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router along with the domain
// services behind it. rdb may be nil when the server runs in demo mode on
// the in-memory store.
func NewRouter(cfg *config.Config, st store.Store, rdb *redis.Client, gw gateway.Gateway) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Alert interrupt: webhook when configured, local log otherwise.
	var notifier audit.Notifier
	if cfg.Audit.Webhook.URL != "" {
		notifier = audit.NewWebhookNotifier(audit.WebhookNotifierConfig{
			URL:     cfg.Audit.Webhook.URL,
			Headers: cfg.Audit.Webhook.Headers,
			Timeout: time.Duration(cfg.Audit.Webhook.TimeoutSecs) * time.Second,
		})
		log.Printf("audit alerts will be delivered to %s", cfg.Audit.Webhook.URL)
	} else {
		notifier = audit.LogNotifier{}
		log.Println("audit alerts will be logged locally (no webhook configured)")
	}

	trail := audit.NewService(st, notifier)
	detector := threat.NewDetector(trail)

	// Scheduler: rehydrate pending notifications, seed per-type config from
	// the config file on first boot, then start the reaper.
	sched, err := scheduler.New(context.Background(), st, gw, trail,
		time.Duration(cfg.Notifications.ReapIntervalSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize notification scheduler: %v", err)
	}
	if err := sched.SeedConfig(context.Background(), typeOverrides(cfg)); err != nil {
		log.Fatalf("Failed to seed notification config: %v", err)
	}
	safego.Go(func() { sched.Start(context.Background()) })
	log.Printf("Notification scheduler started (reap interval: %ds)", cfg.Notifications.ReapIntervalSeconds)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(st))

	// API version
	router.GET("/version", versionHandler())

	auditHandlers := NewAuditHandlers(trail, detector)
	notificationHandlers := NewNotificationHandlers(sched)

	bg := &BackgroundServices{scheduler: sched}

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		limitCfg := middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   5 * time.Minute,
		}
		var limiter middleware.Limiter
		if rdb != nil {
			limiter = middleware.NewRedisLimiter(rdb, limitCfg)
		} else {
			local := middleware.NewLocalLimiter(limitCfg)
			bg.localLimiter = local
			limiter = local
		}
		apiV1.Use(middleware.RateLimitMiddleware(limiter, limitCfg.RequestsPerMinute))
	}
	{
		auditGroup := apiV1.Group("/audit")
		{
			auditGroup.GET("/logs", auditHandlers.ListLogs)
			auditGroup.POST("/events", auditHandlers.RecordEvent)
			auditGroup.GET("/alerts", auditHandlers.ListAlerts)
			auditGroup.POST("/alerts/:id/resolve", auditHandlers.ResolveAlert)
			auditGroup.GET("/anomalies", auditHandlers.ListAnomalies)
			auditGroup.POST("/integrity-check", auditHandlers.CheckIntegrity)
		}

		notificationsGroup := apiV1.Group("/notifications")
		{
			notificationsGroup.POST("", notificationHandlers.Schedule)
			notificationsGroup.DELETE("/:id", notificationHandlers.Cancel)
			notificationsGroup.GET("/pending", notificationHandlers.Pending)
			notificationsGroup.GET("/config", notificationHandlers.GetConfig)
			notificationsGroup.PATCH("/config", notificationHandlers.UpdateConfig)
		}
	}

	return router, bg
}

// typeOverrides converts the config-file notification table into scheduler
// rows, dropping unknown type names.
func typeOverrides(cfg *config.Config) map[scheduler.EventType]scheduler.TypeConfig {
	overrides := make(map[scheduler.EventType]scheduler.TypeConfig)
	for name, row := range cfg.Notifications.Types {
		t := scheduler.EventType(name)
		if !t.Valid() {
			slog.Warn("ignoring unknown notification type in config", "type", name)
			continue
		}
		overrides[t] = scheduler.TypeConfig{Enabled: row.Enabled, DelayMinutes: row.DelayMinutes}
	}
	return overrides
}

// healthCheckHandler reports liveness. The store is probed with a read of a
// known-absent key: ErrNotFound proves the round trip worked without
// creating state.
func healthCheckHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var probe struct{}
		if err := st.Get(c.Request.Context(), "health:probe", &probe); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "store connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging through slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
