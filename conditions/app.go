package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"

	"github.com/lookout-labs/lookout-go/internal/capture"
	"github.com/lookout-labs/lookout-go/internal/inventory"
	"github.com/lookout-labs/lookout-go/internal/labeling"
	"github.com/lookout-labs/lookout-go/internal/labeling/strategies"
	"github.com/lookout-labs/lookout-go/internal/ondemand"
	"github.com/lookout-labs/lookout-go/internal/performance"
	"github.com/lookout-labs/lookout-go/internal/pipeline"
	"github.com/lookout-labs/lookout-go/internal/platform/auditlog"
	"github.com/lookout-labs/lookout-go/internal/platform/env"
	"github.com/lookout-labs/lookout-go/internal/platform/httpserver"
	platformstore "github.com/lookout-labs/lookout-go/internal/platform/objectstore"
	"github.com/lookout-labs/lookout-go/internal/platform/postgres"
	"github.com/lookout-labs/lookout-go/internal/platform/redisstore"
	repopg "github.com/lookout-labs/lookout-go/internal/repo/postgres"
	"github.com/lookout-labs/lookout-go/internal/scheduler"
	"github.com/lookout-labs/lookout-go/internal/storage/objectstore"
)

const serviceName = "conditions"

const (
	blobBackendMinio  = "minio"
	blobBackendMemory = "memory"
)

type appConfig struct {
	AutoMigrate    bool
	BlobBackend    string
	CaptureTimeout time.Duration
	InventoryFile  string
}

func appConfigFromEnv() (appConfig, error) {
	autoMigrate, err := env.Bool("LOOKOUT_AUTO_MIGRATE", true)
	if err != nil {
		return appConfig{}, err
	}
	captureTimeout, err := env.Duration("LOOKOUT_CAPTURE_TIMEOUT", 15*time.Second)
	if err != nil {
		return appConfig{}, err
	}
	cfg := appConfig{
		AutoMigrate:    autoMigrate,
		BlobBackend:    strings.ToLower(strings.TrimSpace(env.String("LOOKOUT_BLOB_BACKEND", blobBackendMinio))),
		CaptureTimeout: captureTimeout,
		InventoryFile:  strings.TrimSpace(env.String("LOOKOUT_INVENTORY_FILE", "")),
	}
	switch cfg.BlobBackend {
	case blobBackendMinio, blobBackendMemory:
	default:
		return appConfig{}, fmt.Errorf("LOOKOUT_BLOB_BACKEND must be minio or memory (got %q)", cfg.BlobBackend)
	}
	return cfg, nil
}

// app holds every wired component. Commands build one and close it on exit.
type app struct {
	logger *slog.Logger
	cfg    appConfig

	db          *sql.DB
	storeClient *minio.Client
	storeCfg    platformstore.Config
	redis       *redis.Client

	webcams    *repopg.WebcamStore
	captures   *repopg.CaptureStore
	labelers   *repopg.LabelerStore
	executions *repopg.LabelExecutionStore
	blobs      objectstore.Store
	audit      auditlog.Recorder

	registry   *labeling.Registry
	engine     *labeling.Engine
	runner     *pipeline.Runner
	reader     *pipeline.Reader
	cache      *ondemand.Cache
	aggregator *performance.Aggregator
	scheduler  *scheduler.Scheduler
}

func openDB(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, logger *slog.Logger, cfg appConfig) (_ *app, err error) {
	a := &app{logger: logger, cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.db, err = openDB(ctx); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgres.MigrateUp(a.db, logger); err != nil {
			return nil, err
		}
	}

	if err := a.openBlobs(ctx); err != nil {
		return nil, err
	}

	redisCfg, err := redisstore.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	var entries ondemand.EntryStore = ondemand.NewMemoryEntries()
	if redisCfg.Enabled() {
		if a.redis, err = redisstore.Open(ctx, redisCfg); err != nil {
			return nil, err
		}
		entries = ondemand.NewRedisEntries(a.redis, redisCfg.KeyPrefix, redisCfg.EntryTTL)
	}

	a.webcams = repopg.NewWebcamStore(a.db)
	a.captures = repopg.NewCaptureStore(a.db)
	a.labelers = repopg.NewLabelerStore(a.db)
	a.executions = repopg.NewLabelExecutionStore(a.db)
	a.audit = auditlog.Recorder{DB: a.db, Service: serviceName}

	a.registry = labeling.NewRegistry(a.labelers, strategies.NewDefaultFactory(nil), a.audit, logger)

	engineCfg, err := labeling.EngineConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid labeling config: %w", err)
	}
	if a.engine, err = labeling.NewEngine(a.registry, a.executions, engineCfg, logger); err != nil {
		return nil, err
	}

	capturer := capture.NewCapturer(capture.NewHTTPSource(cfg.CaptureTimeout), a.blobs, a.captures, logger)
	a.runner = pipeline.NewRunner(a.webcams, capturer, a.engine, logger)
	a.reader = pipeline.NewReader(a.executions, a.registry)

	cacheCfg, err := ondemand.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if a.cache, err = ondemand.NewCache(cacheCfg, entries, a.reader, a.runner, logger); err != nil {
		return nil, err
	}

	perfCfg, err := performance.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid performance config: %w", err)
	}
	if a.aggregator, err = performance.NewAggregator(a.executions, a.labelers, perfCfg); err != nil {
		return nil, err
	}

	schedCfg, err := scheduler.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if a.scheduler, err = scheduler.New(schedCfg, a.webcams, a.runner, a.cache, logger); err != nil {
		return nil, err
	}

	if cfg.InventoryFile != "" {
		if err := a.seedInventory(ctx, cfg.InventoryFile); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openBlobs(ctx context.Context) error {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid object store config: %w", err)
	}
	a.storeCfg = storeCfg
	if a.cfg.BlobBackend == blobBackendMemory {
		a.logger.Warn("capture blobs kept in memory", "bucket", storeCfg.BucketCaptures)
		a.blobs = objectstore.NewMemoryStore(storeCfg.BucketCaptures)
		return nil
	}

	client, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		return fmt.Errorf("object store client init failed: %w", err)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBuckets(startupCtx, client, storeCfg); err != nil {
		return fmt.Errorf("object store unavailable: %w", err)
	}
	blobs, err := objectstore.NewMinioStoreWithClient(client, storeCfg.BucketCaptures)
	if err != nil {
		return err
	}
	a.storeClient = client
	a.blobs = blobs
	return nil
}

func (a *app) seedInventory(ctx context.Context, path string) error {
	f, err := inventory.Load(path)
	if err != nil {
		return err
	}
	res, err := inventory.Seed(ctx, f, a.webcams, a.registry, "inventory")
	if err != nil {
		return err
	}
	a.logger.Info("inventory seeded",
		"path", path,
		"webcams", res.Webcams,
		"labelers_created", res.LabelersCreated,
		"labelers_updated", res.LabelersUpdated,
	)
	return nil
}

func (a *app) readinessChecks() []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{{
		Name: "postgres",
		Check: bounded(func(ctx context.Context) error {
			return a.db.PingContext(ctx)
		}),
	}}
	if a.storeClient != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: bounded(func(ctx context.Context) error {
				return platformstore.CheckBuckets(ctx, a.storeClient, a.storeCfg)
			}),
		})
	}
	if a.redis != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "redis",
			Check: bounded(func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			}),
		})
	}
	return checks
}

func bounded(check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return check(checkCtx)
	}
}

// close waits for detached labeling work before releasing connections.
func (a *app) close() {
	if a.engine != nil {
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		done := make(chan struct{})
		go func() {
			a.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-waitCtx.Done():
			a.logger.Warn("background labeling still running at shutdown")
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
