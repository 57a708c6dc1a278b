package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/api"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/config"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/metrics"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/persistence"
	"github.com/trigg3rX/bls-aggregator/internal/aggregator/rpc"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize configuration
	if err := config.Init(); err != nil {
		panic(fmt.Sprintf("Failed to initialize config: %v", err))
	}

	// Initialize logger
	logConfig := logging.LoggerConfig{
		ProcessName:   logging.AggregatorProcess,
		IsDevelopment: config.IsDevMode(),
	}

	logger, err := logging.NewZapLogger(logConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	logger.Info("Starting aggregator service...")

	// Create aggregation service
	serviceConfig := aggregator.ServiceConfig{
		VerifyOnSubmit:       config.IsVerifyOnSubmitEnabled(),
		ValidateOutput:       config.IsValidateOutputEnabled(),
		DefaultTaskTTL:       config.GetDefaultTaskTTL(),
		CleanupInterval:      config.GetTaskCleanupInterval(),
		AutoCleanupSubmitted: config.IsAutoCleanupSubmitted(),
	}
	service := aggregator.NewAggregationService(logger, serviceConfig)

	// Set up persistence and restore prior state
	snapshotter, backend, err := setupPersistence(service, logger)
	if err != nil {
		logger.Errorf("Failed to set up persistence: %v", err)
		panic(fmt.Sprintf("Failed to set up persistence: %v", err))
	}

	// Start background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		logger.Errorf("Failed to start aggregation service: %v", err)
		panic(fmt.Sprintf("Failed to start aggregation service: %v", err))
	}

	if snapshotter != nil {
		if err := snapshotter.Start(); err != nil {
			logger.Errorf("Failed to start snapshotter: %v", err)
			panic(fmt.Sprintf("Failed to start snapshotter: %v", err))
		}
	}

	metrics.StartMetricsCollection()

	// Initialize server components
	var wg sync.WaitGroup
	serverErrors := make(chan error, 2)

	httpServer := setupHTTPServer(service, logger)

	rpcServerAddr := fmt.Sprintf(":%s", config.GetAggregatorRPCPort())
	rpcServer := rpc.NewRPCServer(service, logger, rpcServerAddr)

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP API server...")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("HTTP server error: %v", err)
		}
	}()

	// Start RPC server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting RPC server...")
		if err := rpcServer.Start(ctx); err != nil {
			serverErrors <- fmt.Errorf("RPC server error: %v", err)
		}
	}()

	logger.Infof("Aggregator service is ready")
	logger.Infof("HTTP API server running on port %s", config.GetAggregatorAPIPort())
	logger.Infof("RPC server running on port %s", config.GetAggregatorRPCPort())

	// Handle graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorf("Server error received: %v", err)
	case sig := <-shutdown:
		logger.Infof("Received shutdown signal: %s", sig.String())
	}

	performGracefulShutdown(httpServer, rpcServer, service, snapshotter, backend, &wg, logger, cancel)
}

func setupPersistence(service *aggregator.AggregationService, logger logging.Logger) (*persistence.Snapshotter, persistence.Backend, error) {
	var backend persistence.Backend
	var err error

	switch config.GetPersistenceBackend() {
	case "file":
		backend, err = persistence.NewFileBackend(config.GetSnapshotFilePath())
	case "scylla":
		backend, err = persistence.NewScyllaBackend(
			persistence.DefaultScyllaConfig(config.GetScyllaHost(), config.GetScyllaKeyspace()))
	case "none":
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	snapshotter := persistence.NewSnapshotter(logger, service.State(), backend, config.GetSnapshotSchedule())

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer restoreCancel()

	restored, err := snapshotter.Restore(restoreCtx)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	if restored > 0 {
		logger.Infof("Restored %d tasks from persistence", restored)
	}

	return snapshotter, backend, nil
}

func setupHTTPServer(service *aggregator.AggregationService, logger logging.Logger) *http.Server {
	if !config.IsDevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.LoggerMiddleware(logger))
	router.Use(api.MetricsMiddleware())

	api.RegisterRoutes(router, service, logger)

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", config.GetAggregatorAPIPort()),
		Handler:      api.CORSHandler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func performGracefulShutdown(
	httpServer *http.Server,
	rpcServer *rpc.RPCServer,
	service *aggregator.AggregationService,
	snapshotter *persistence.Snapshotter,
	backend persistence.Backend,
	wg *sync.WaitGroup,
	logger logging.Logger,
	cancel context.CancelFunc,
) {
	logger.Info("Initiating graceful shutdown...")

	// Create shutdown context
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Cancel main context to stop background workers
	cancel()

	// Shutdown RPC server
	if rpcServer != nil {
		logger.Info("Shutting down RPC server...")
		if err := rpcServer.Stop(shutdownCtx); err != nil {
			logger.Errorf("RPC server shutdown error: %v", err)
		}
	}

	// Shutdown HTTP server
	if httpServer != nil {
		logger.Info("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				logger.Errorf("Forced HTTP server close error: %v", err)
			}
		}
	}

	// Stop aggregation service workers
	if service != nil {
		logger.Info("Stopping aggregation service...")
		if err := service.Stop(); err != nil {
			logger.Errorf("Aggregation service shutdown error: %v", err)
		}
	}

	// Stop snapshotter with a final snapshot, then release the backend
	if snapshotter != nil {
		logger.Info("Stopping snapshotter...")
		snapshotter.Stop()
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			logger.Errorf("Persistence backend close error: %v", err)
		}
	}

	// Wait for all goroutines to finish
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All servers stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	}

	logger.Info("Shutdown complete")
}
