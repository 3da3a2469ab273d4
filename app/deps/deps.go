package deps

import (
	"context"
	"fmt"
	"log/slog"

	"wellbot/config"
	"wellbot/loader"
	"wellbot/loader/service"
	"wellbot/model"
	"wellbot/rag"
	"wellbot/settings"
	"wellbot/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Deps holds the long-lived components shared by the server, the CLI and the
// folder loader.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     store.DBStorer
	Embedder  model.EmbedderInterface
	Ingestor  *rag.Ingestor
	Retriever *rag.Retriever
	Settings  *settings.Provider
	Registry  *prometheus.Registry

	redis *redis.Client
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = cfg.NewLogger()
	}
	d := &Deps{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var err error
	d.Store, err = newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	d.Embedder, err = model.NewEmbedder(cfg.EmbedderConfig(), logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	chunker, err := rag.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Chunking.MinLength)
	if err != nil {
		d.Close()
		return nil, err
	}

	extractor := loader.NewExtractor(loader.Options{
		CropTop:        cfg.PDF.CropTop,
		CropBottom:     cfg.PDF.CropBottom,
		DoclingURL:     cfg.PDF.DoclingURL,
		DoclingTimeout: cfg.Server.IngestTimeout,
	}, logger)

	metrics := rag.NewMetrics(d.Registry)
	d.Ingestor = rag.NewIngestor(d.Store, d.Store, d.Embedder, extractor, chunker, rag.IngestOptions{
		Concurrency: cfg.Chunking.Concurrency,
		BatchSize:   cfg.Embedding.BatchSize,
	}, metrics, logger)
	d.Retriever = rag.NewRetriever(d.Embedder, d.Store, d.Store, metrics, logger)

	var cache settings.Cache
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parse cache.redis_url: %w", err)
		}
		d.redis = redis.NewClient(opts)
		if err := d.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("[CACHE] redis unreachable, config reads fall through to the store", "error", err)
		}
		cache = settings.NewRedisCache(d.redis, cfg.Cache.TTL)
	} else {
		cache = settings.NewLocalCache(cfg.Cache.TTL)
	}
	d.Settings = settings.NewProvider(d.Store, cache, logger)

	return d, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.DBStorer, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("[STORE] using in-memory store, data is lost on exit")
		return store.NewMemoryStore(cfg.Embedding.Dimensions, logger)
	default:
		pg, err := store.NewPostgresStore(ctx, cfg.DSN(), cfg.Embedding.Dimensions, logger)
		if err != nil {
			return nil, fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		if err := pg.Init(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("error to create tables: %w", err)
		}
		return pg, nil
	}
}

// LoaderService builds the inbox folder watcher on top of the ingestor.
func (d *Deps) LoaderService() (*service.Service, error) {
	l := d.Config.Loader
	return service.New(d.Ingestor, service.Config{
		SourceDir:      l.SourceDir,
		ArchiveDir:     l.ArchiveDir,
		BadDir:         l.BadDir,
		MonitoringTime: l.MonitoringTime,
		PollInterval:   l.PollInterval,
	}, d.Logger)
}

func (d *Deps) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.Logger.Error("error closing redis client", "error", err)
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.Error("error closing store", "error", err)
		}
	}
}
