package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"monitorrunner/internal/api"
	"monitorrunner/internal/cache"
	"monitorrunner/internal/collector"
	"monitorrunner/internal/config"
	"monitorrunner/internal/dispatch"
	"monitorrunner/internal/recovery"
	"monitorrunner/internal/runner"
	"monitorrunner/internal/scripteval"
	"monitorrunner/internal/store"
	ws "monitorrunner/internal/websocket"
	"monitorrunner/pkg/logger"
)

func main() {
	bootCfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log := logger.New(bootCfg.Logger)

	live, err := config.WatchAndLive(log, nil)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := live.Get()

	db, err := store.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	saveRetry := recovery.NewLiveRetryConfig("alert-save", recovery.NewConstantPolicy(
		cfg.Runner.AlertSaveRetryMaxAttempts,
		config.RetryDelay(cfg.Runner.AlertSaveRetryDelayMillis),
		log,
	))
	moveRetry := recovery.NewLiveRetryConfig("move-alerts", recovery.NewExponentialPolicy(
		cfg.Runner.MoveAlertsRetryMaxAttempts,
		config.RetryDelay(cfg.Runner.MoveAlertsRetryInitialMS),
		config.RetryDelay(cfg.Runner.MoveAlertsRetryMaxDelayMS),
		log,
	))
	publishRetry := recovery.NewLiveRetryConfig("publish", recovery.NewExponentialPolicy(
		cfg.Runner.PublishRetryMaxAttempts,
		config.RetryDelay(cfg.Runner.PublishRetryInitialMS),
		config.RetryDelay(cfg.Runner.PublishRetryMaxDelayMS),
		log,
	))

	alertStore := store.New(db, saveRetry, moveRetry, true, log)

	templates := cache.New(30*time.Minute, time.Hour)
	scripts := cache.New(30*time.Minute, time.Hour)

	col := collector.New(cfg.Search.BaseURL, templates, log, nil)
	evaluator := scripteval.New(scripts, log)

	resolveDestination := destinationResolver(live)
	dispatcher := dispatch.New(resolveDestination, buildDestination, templates, dispatch.Options{
		AllowedDestinations: cfg.Runner.AllowedDestinations,
		DeniedDestinations:  cfg.Runner.DeniedDestinations,
		HostDenyList:        cfg.Runner.HostDenyList,
		ActionExecutors:     cfg.Runner.ActionExecutors,
		RateLimitPerSecond:  cfg.Runner.PublishRateLimitPerSecond,
		RateLimitBurst:      cfg.Runner.PublishRateLimitBurst,
		PublishRetry:        publishRetry,
	}, log)

	monitorRunner := runner.NewMonitorRunner(alertStore, col, evaluator, dispatcher, time.Now, nil, log)

	supervisor := runner.NewSupervisor(context.Background(), log)

	hub := ws.NewHub(log)
	supervisor.Go("websocket-hub", func(ctx context.Context) { hub.Run() })

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(cfg, monitorRunner.RunMonitor, hub, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Infof("starting monitor runner on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down monitor runner...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	// hub.Shutdown must run before supervisor.Stop: it's what makes the
	// supervised hub.Run goroutine return, so Stop's wg.Wait doesn't hang.
	hub.Shutdown()
	supervisor.Stop()

	log.Info("monitor runner exited gracefully")
}

// destinationResolver looks a destination up by ID in the hot-reloadable
// config snapshot rather than a database table: destination CRUD is out
// of scope, so the registry is whatever destinations.* the operator has
// configured.
func destinationResolver(live *config.Live) dispatch.DestinationResolver {
	return func(id string) (*dispatch.DestinationConfig, error) {
		for _, d := range live.Get().Destinations {
			if d.ID == id {
				return &dispatch.DestinationConfig{
					ID:     d.ID,
					Type:   d.Type,
					Name:   d.Name,
					Config: d.Config,
				}, nil
			}
		}
		return nil, fmt.Errorf("destination %q is not configured", id)
	}
}

// buildDestination dispatches on a destination's configured type to the
// concrete publisher that knows its transport shape.
func buildDestination(cfg *dispatch.DestinationConfig, logger *logrus.Logger) (dispatch.Destination, error) {
	switch cfg.Type {
	case "slack":
		return dispatch.NewSlackDestination(cfg.Config, logger), nil
	case "custom_webhook":
		return dispatch.NewCustomWebhook(cfg.Config, logger), nil
	case "chime":
		return dispatch.NewChime(cfg.Config, logger), nil
	case "telegram":
		return dispatch.NewTelegram(cfg.Config, logger), nil
	case "email":
		return dispatch.NewEmail(cfg.Config, logger), nil
	case "sns":
		return dispatch.NewSNS(cfg.Config, logger), nil
	default:
		return nil, fmt.Errorf("unknown destination type %q", cfg.Type)
	}
}
