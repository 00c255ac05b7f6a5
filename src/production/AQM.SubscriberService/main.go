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
	container "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Container"
	aqmingestor "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Ingestor"
	parser "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Parser"
	"gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Startup/health"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewSubscriberContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	logger.Info("Starting MQTT Subscriber Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The subscriber does not start without a store
	initCtx, initCancel := context.WithTimeout(ctx, config.Database.ConnectTimeout)
	repo, err := ctr.GetReadingRepository(initCtx)
	initCancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect to the reading store")
	}

	// An empty SPOOL_PATH turns spooling off
	var spool *aqmingestor.Spool
	if config.Ingest.SpoolPath != "" {
		if spool, err = aqmingestor.NewSpool(config.Ingest.SpoolPath); err != nil {
			logger.FatalWithError(err, "Failed to prepare spool")
		}
	}

	p := parser.New(parser.Mode(config.Ingest.ParserMode), logger.WithComponent("parser"))
	ing := aqmingestor.New(config.MQTT, config.Ingest, p, repo, spool, logger)
	if err := ing.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}
	ctr.AddCleanupFunc(func() error {
		ing.Stop()
		return nil
	})

	checker := health.NewHealthChecker(repo)
	checker.AddCheck("mqtt", ing.IsConnected)

	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      newHealthRouter(checker, ing),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}
	go func() {
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("MQTT subscriber running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
}

type breakerReporter interface {
	BreakerState() (aqmingestor.CircuitBreakerState, int)
}

// newHealthRouter serves GET /health with store, broker and breaker status
func newHealthRouter(checker *health.HealthChecker, breaker breakerReporter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status, healthy := checker.GetHealthStatus(ctx)
		state, failures := breaker.BreakerState()
		status["circuit_breaker"] = gin.H{
			"state":         state.String(),
			"failure_count": failures,
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	return router
}
