package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	container "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Container"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
	"gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.DashboardService/controllers"
	"gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.DashboardService/middleware"
	"gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Startup/health"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewDashboardContainer("aqm-dashboard")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	logger.Info("Starting Dashboard Service")

	// Unlike the subscriber, the dashboard keeps serving with the store down and shows it in the banner
	ctx, cancel := context.WithTimeout(context.Background(), config.Database.ConnectTimeout)
	repo, err := ctr.GetReadingRepository(ctx)
	cancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to create reading store client")
	}

	svc, err := dashboard.NewService(repo, config.Dashboard, logger)
	if err != nil {
		logger.FatalWithError(err, "Failed to create dashboard service")
	}

	if config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	dashboardController := controllers.NewDashboardController(svc, config.Database.Database, config.Database.Collection, logger)
	exportController := controllers.NewExportController(svc, logger)
	healthController := controllers.NewHealthController(health.NewHealthChecker(repo), logger)

	dashboardController.RegisterRoutes(router)
	exportController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Dashboard running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
