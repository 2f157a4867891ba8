package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dongreenberg/url-embedder/internal/clock/system"
	"github.com/dongreenberg/url-embedder/internal/config"
	"github.com/dongreenberg/url-embedder/internal/dispatcher"
	"github.com/dongreenberg/url-embedder/internal/embedder/pool"
	"github.com/dongreenberg/url-embedder/internal/embedder/remote"
	"github.com/dongreenberg/url-embedder/internal/export"
	collyfetcher "github.com/dongreenberg/url-embedder/internal/fetcher/colly"
	headlessfetcher "github.com/dongreenberg/url-embedder/internal/fetcher/headless"
	"github.com/dongreenberg/url-embedder/internal/hash/sha256"
	"github.com/dongreenberg/url-embedder/internal/headless/detector"
	"github.com/dongreenberg/url-embedder/internal/loader"
	"github.com/dongreenberg/url-embedder/internal/pipeline"
	"github.com/dongreenberg/url-embedder/internal/progress"
	progresssinks "github.com/dongreenberg/url-embedder/internal/progress/sinks"
	memorypublisher "github.com/dongreenberg/url-embedder/internal/publisher/memory"
	pubsubpublisher "github.com/dongreenberg/url-embedder/internal/publisher/pubsub"
	memoryqueue "github.com/dongreenberg/url-embedder/internal/queue/memory"
	"github.com/dongreenberg/url-embedder/internal/scrape"
	"github.com/dongreenberg/url-embedder/internal/splitter"
	gcsstorage "github.com/dongreenberg/url-embedder/internal/storage/gcs"
	localstorage "github.com/dongreenberg/url-embedder/internal/storage/local"
	memorystorage "github.com/dongreenberg/url-embedder/internal/storage/memory"
	postgresstorage "github.com/dongreenberg/url-embedder/internal/storage/postgres"
	"github.com/dongreenberg/url-embedder/internal/worker"
)

// services holds every wired component plus the cleanup chain.
type services struct {
	jobStore  pipeline.JobStore
	blobStore pipeline.BlobStore
	queue     *memoryqueue.Queue
	hub       *progress.Hub
	dispatch  *dispatcher.Dispatcher
	cleanups  []func()
}

func (s *services) close(logger *zap.Logger) {
	if s.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.hub.Close(ctx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	s.queue.Close()
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// buildServices assembles the full pipeline from configuration. Backends are
// selected by presence: a DSN turns on Postgres, a bucket turns on GCS, a
// project plus topic turns on Pub/Sub. Everything else falls back to memory
// or the local filesystem.
func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	svcs := &services{}

	jobStore, err := buildJobStore(ctx, cfg, svcs)
	if err != nil {
		return nil, err
	}
	blobStore, err := buildBlobStore(ctx, cfg, svcs)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg, svcs)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	clk := system.New()

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	var headless pipeline.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
		}
	}
	docLoader := loader.New(probeFetcher, headless, detector.NewHeuristic(0), logger.Named("loader"))
	extractor := scrape.New(probeFetcher, scrape.Config{
		ContinueOnError: cfg.Crawler.ContinueOnError,
	}, logger.Named("scrape"))

	split := splitter.New(splitter.Config{
		ChunkSize:    cfg.Splitter.ChunkSize,
		ChunkOverlap: cfg.Splitter.ChunkOverlap,
	})

	replicas := make([]pipeline.Embedder, 0, len(cfg.Embedder.Endpoints))
	for _, endpoint := range cfg.Embedder.Endpoints {
		replicas = append(replicas, remote.New(remote.Config{
			Endpoint:       endpoint,
			Model:          cfg.Embedder.Model,
			Normalize:      cfg.Embedder.Normalize,
			Timeout:        cfg.EmbedTimeout(),
			MaxRetries:     cfg.Embedder.MaxRetries,
			BackoffInitial: time.Duration(cfg.Embedder.BackoffInitialMs) * time.Millisecond,
			BackoffMax:     time.Duration(cfg.Embedder.BackoffMaxMs) * time.Millisecond,
		}))
	}
	embedPool, err := pool.New(replicas, cfg.Embedder.MaxConcurrencyPerReplica)
	if err != nil {
		return nil, fmt.Errorf("build embedder pool: %w", err)
	}

	branch := cfg.Export.Branch
	if branch == "" {
		branch = os.Getenv("GITHUB_HEAD_REF")
	}
	exporter, err := export.New(export.Config{
		OutputDir: cfg.Export.OutputDir,
		Branch:    branch,
	}, blobStore, logger.Named("export"))
	if err != nil {
		return nil, fmt.Errorf("build exporter: %w", err)
	}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("build prometheus sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		progresssinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	queue := memoryqueue.NewQueue(cfg.Crawler.GlobalQueueDepth)

	workerCfg := worker.Config{
		ContentType:    cfg.Storage.ContentType,
		BlobPrefix:     cfg.Storage.Prefix,
		Topic:          cfg.PubSub.TopicName,
		URLConcurrency: cfg.Crawler.URLConcurrency,
	}
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			blobStore,
			publisher,
			hasher,
			clk,
			extractor,
			docLoader,
			embedPool,
			split,
			exporter,
			hub,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	svcs.jobStore = jobStore
	svcs.blobStore = blobStore
	svcs.queue = queue
	svcs.hub = hub
	svcs.dispatch = dispatcher.New(queue, workers)
	return svcs, nil
}

func buildJobStore(ctx context.Context, cfg config.Config, svcs *services) (pipeline.JobStore, error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewJobStore(), nil
	}
	store, err := postgresstorage.NewJobStore(ctx, postgresstorage.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return nil, fmt.Errorf("build postgres job store: %w", err)
	}
	svcs.cleanups = append(svcs.cleanups, store.Close)
	return store, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, svcs *services) (pipeline.BlobStore, error) {
	if cfg.Storage.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		svcs.cleanups = append(svcs.cleanups, func() { _ = client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs blob store: %w", err)
		}
		return store, nil
	}
	if cfg.Storage.LocalDir != "" {
		if err := os.MkdirAll(cfg.Storage.LocalDir, 0o750); err != nil {
			return nil, fmt.Errorf("create blob directory: %w", err)
		}
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("build local blob store: %w", err)
		}
		return store, nil
	}
	return memorystorage.NewBlobStore(), nil
}

func buildPublisher(ctx context.Context, cfg config.Config, svcs *services) (pipeline.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	svcs.cleanups = append(svcs.cleanups, func() { _ = client.Close() })
	topic := client.Topic(cfg.PubSub.TopicName)
	svcs.cleanups = append(svcs.cleanups, topic.Stop)
	return pubsubpublisher.New(topic), nil
}
