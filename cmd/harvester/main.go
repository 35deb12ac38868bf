// Package main wires together the harvest service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/api"
	"github.com/mkrause/newsharvest/internal/artifact/gcs"
	artifactlocal "github.com/mkrause/newsharvest/internal/artifact/local"
	artifactmemory "github.com/mkrause/newsharvest/internal/artifact/memory"
	"github.com/mkrause/newsharvest/internal/backup"
	"github.com/mkrause/newsharvest/internal/clock/system"
	"github.com/mkrause/newsharvest/internal/config"
	"github.com/mkrause/newsharvest/internal/dedup"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/hash/sha256"
	"github.com/mkrause/newsharvest/internal/id/uuid"
	"github.com/mkrause/newsharvest/internal/logging"
	"github.com/mkrause/newsharvest/internal/metrics"
	"github.com/mkrause/newsharvest/internal/orchestrator"
	"github.com/mkrause/newsharvest/internal/processor"
	pubsubpublisher "github.com/mkrause/newsharvest/internal/publisher/pubsub"
	"github.com/mkrause/newsharvest/internal/search"
	"github.com/mkrause/newsharvest/internal/search/rss"
	"github.com/mkrause/newsharvest/internal/search/web"
	storememory "github.com/mkrause/newsharvest/internal/store/memory"
	"github.com/mkrause/newsharvest/internal/store/postgres"
	"github.com/mkrause/newsharvest/internal/taskqueue"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	artifactStore, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	searcher := buildSearcher(cfg, store, logger)

	detector := dedup.New(store, clock, dedup.Config{
		RefetchWindow:    time.Duration(cfg.Dedup.RefetchWindowDays) * 24 * time.Hour,
		SimilarityCheck:  cfg.Dedup.SimilarityCheck,
		SimilarityWindow: time.Duration(cfg.Dedup.SimilarityWindowDays) * 24 * time.Hour,
		SimilarityLimit:  cfg.Dedup.SimilarityLimit,
	}, logger.Named("dedup"))

	proc := processor.New(store, detector, clock, idGen, processor.Config{
		BatchSize: cfg.Processor.BatchSize,
	}, logger.Named("processor"))

	backupSvc := backup.New(store, artifactStore, hasher, clock, logger.Named("backup"))
	scheduler := backup.NewScheduler(backupSvc, store, clock, logger.Named("backup.scheduler"))

	orch := orchestrator.New(store, searcher, proc, backupSvc, publisher, clock, idGen,
		orchestrator.Config{
			DefaultMaxItems:    cfg.Processor.DefaultMaxItems,
			RelevanceThreshold: cfg.Processor.RelevanceThreshold,
			EventTopic:         cfg.PubSub.TopicName,
			AutoBackup:         cfg.Backup.AutoAfterJob,
		}, logger.Named("orchestrator"))

	queue := taskqueue.New(store, orch, clock, idGen, taskqueue.Config{
		MaxRetries:     cfg.Queue.MaxRetries,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay(),
		MaxRetryDelay:  cfg.Queue.MaxRetryDelay(),
		MaxPending:     cfg.Queue.MaxPending,
	}, logger.Named("taskqueue"))

	apiServer := api.NewServer(store, queue, orch, proc, backupSvc, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go queue.Run(ctx)
	go scheduler.Run(ctx)
	go runQueueCleanup(ctx, queue, cfg, logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config) (harvest.Store, func(), error) {
	switch cfg.Store.Provider {
	case "postgres":
		store, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return storememory.New(), func() {}, nil
	}
}

func buildArtifactStore(ctx context.Context, cfg config.Config) (harvest.ArtifactStore, error) {
	switch cfg.Artifact.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcs.New(client, gcs.Config{
			Bucket: cfg.Artifact.GCSBucket,
			Prefix: cfg.Artifact.Prefix,
		})
	case "local":
		return artifactlocal.New(cfg.Artifact.LocalDir)
	default:
		return artifactmemory.New(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (harvest.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return nil, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return pubsubpublisher.New(client)
}

func buildSearcher(cfg config.Config, store harvest.Store, logger *zap.Logger) harvest.Searcher {
	timeout := time.Duration(cfg.Search.TimeoutSeconds) * time.Second
	var providers []harvest.Searcher
	for _, name := range cfg.Search.Providers {
		switch name {
		case "web":
			providers = append(providers, web.New(store, web.Config{
				UserAgent:    cfg.Search.UserAgent,
				Timeout:      timeout,
				LinksPerSite: cfg.Search.LinksPerSite,
			}, logger.Named("search.web")))
		case "rss":
			providers = append(providers, rss.New(store, rss.Config{
				UserAgent: cfg.Search.UserAgent,
				Timeout:   timeout,
			}, logger.Named("search.rss")))
		}
	}
	if len(providers) == 1 {
		return providers[0]
	}
	return search.NewMulti(providers...)
}

func runQueueCleanup(ctx context.Context, queue *taskqueue.Queue, cfg config.Config, logger *zap.Logger) {
	interval := time.Duration(cfg.Queue.CleanupAfterHours) * time.Hour
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := queue.Cleanup(interval)
			logger.Debug("queue cleanup ran", zap.Int("removed", removed))
		}
	}
}
