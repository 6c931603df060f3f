package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"monitorrunner/internal/config"
	"monitorrunner/internal/middleware"
	"monitorrunner/internal/models"
	ws "monitorrunner/internal/websocket"
)

// RunnerFunc is implemented by *runner.MonitorRunner.
type RunnerFunc func(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, dryrun bool) models.MonitorRunResult

// NewRouter builds the admin/dry-run/health/metrics/websocket surface
// described in SPEC_FULL.md §6.1: no monitor CRUD, no rule editor.
func NewRouter(cfg *config.Config, runnerFn RunnerFunc, hub *ws.Hub, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(secure.New(secure.Options{
		SSLRedirect:           cfg.Security.HTTPSOnly,
		STSSeconds:            31536000,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ContentSecurityPolicy: "default-src 'self'",
	}))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RateLimit(cfg, logger))
	router.Use(middleware.BurstProtection(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "monitor-runner"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	dryrun := NewDryrunHandler(runnerFn, hub, logger)
	router.POST("/monitors/:id/dryrun", middleware.JWTAuth(cfg), middleware.AdminKeyAuth(cfg), middleware.RequireRole("operator"), dryrun.Run)

	wsHandler := NewWebSocketHandler(hub, logger)
	router.GET("/ws", wsHandler.Handle)

	return router
}
