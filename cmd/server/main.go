// SightSync Server
//
// Features:
// - Paginated remote asset listing with page-level retry
// - Staleness-aware asset processing under bounded concurrency
// - Durable blob store (local or S3) with a queryable master index
// - Export session tracking, recovery, and SSE progress events
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/api"
	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/config"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/index"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/remote"
	"github.com/sightsync/sightsync/internal/remote/quicksight"
	"github.com/sightsync/sightsync/internal/session"
	"github.com/sightsync/sightsync/internal/storage"
	"github.com/sightsync/sightsync/internal/storage/local"
	s3storage "github.com/sightsync/sightsync/internal/storage/s3"
	syncengine "github.com/sightsync/sightsync/internal/sync"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("SightSync Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize blob store
	var store storage.Backend
	switch cfg.StorageBackend {
	case "s3":
		store, err = s3storage.New(ctx, s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		store, err = local.New(local.Config{
			RootPath: cfg.LocalStoragePath,
		})
	}
	if err != nil {
		logging.Fatal("blob store init failed", zap.Error(err))
	}
	defer store.Close()
	logging.Info("blob store initialized", zap.String("type", store.Type()))

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	// Initialize index manager and session tracker
	indexManager := index.New(store, broadcaster)
	tracker := session.New(store, broadcaster)

	// Recover a session left behind by a previous process
	if err := tracker.Recover(ctx); err != nil {
		logging.Error("session recovery failed", zap.Error(err))
	}

	// Initialize remote client and call pacer
	remoteClient, err := quicksight.New(ctx, quicksight.Config{
		AccountID: cfg.AccountID,
		Region:    cfg.AwsRegion,
	})
	if err != nil {
		logging.Fatal("remote client init failed", zap.Error(err))
	}
	pacer := remote.NewPacer(cfg.RemoteRatePerSec)

	// Assemble the sync engine
	lister := syncengine.NewLister(remoteClient, tracker, pacer)
	processor := syncengine.NewProcessor(remoteClient, store, indexManager, tracker, broadcaster, pacer,
		syncengine.Options{
			Freshness: cfg.FreshnessWindow,
			Workers: map[asset.Kind]int{
				asset.KindDashboard:  cfg.WorkersDashboard,
				asset.KindDataset:    cfg.WorkersDataset,
				asset.KindAnalysis:   cfg.WorkersAnalysis,
				asset.KindDataSource: cfg.WorkersDataSrc,
			},
		})
	coordinator := syncengine.NewCoordinator(lister, processor, tracker)
	defer coordinator.Shutdown()

	// Create API server
	srv := api.NewServer(coordinator, tracker, indexManager, broadcaster)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		coordinator.Shutdown()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Warm the master index so first queries hit the cache
	go func() {
		if _, err := indexManager.GetMasterIndex(ctx); err != nil {
			logging.Error("master index warm-up failed", zap.Error(err))
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
