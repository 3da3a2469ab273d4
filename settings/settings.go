package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wellbot/store"
	"wellbot/types"
)

// Cache holds the last retrieval config read from the store. Fill only
// stores a value when none is cached, so a read that loaded the store
// before a concurrent write cannot replace the newer value set by Set.
type Cache interface {
	Get(ctx context.Context) (types.RetrievalConfig, bool, error)
	Fill(ctx context.Context, cfg types.RetrievalConfig) error
	Set(ctx context.Context, cfg types.RetrievalConfig) error
	Invalidate(ctx context.Context) error
}

// Provider is a read-through cache over the config store. Writes go to the
// store first and then overwrite the cached value.
type Provider struct {
	store  store.ConfigStorer
	cache  Cache
	logger *slog.Logger
}

func NewProvider(s store.ConfigStorer, cache Cache, logger *slog.Logger) *Provider {
	if cache == nil {
		cache = NewLocalCache(30 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{store: s, cache: cache, logger: logger}
}

// Get never fails. When the store cannot be read the defaults are returned
// and nothing is cached.
func (p *Provider) Get(ctx context.Context) types.RetrievalConfig {
	cfg, ok, err := p.cache.Get(ctx)
	if err != nil {
		p.logger.Warn("[SETTINGS] cache read failed", "error", err)
	}
	if ok {
		return cfg.Normalize()
	}

	cfg, found, err := p.store.GetRetrievalConfig(ctx)
	if err != nil {
		p.logger.Error("[SETTINGS] could not load retrieval config, using defaults", "error", err)
		return types.DefaultRetrievalConfig()
	}
	if !found {
		cfg = types.DefaultRetrievalConfig()
	}
	cfg = cfg.Normalize()
	if err := p.cache.Fill(ctx, cfg); err != nil {
		p.logger.Warn("[SETTINGS] cache write failed", "error", err)
	}
	return cfg
}

func (p *Provider) Set(ctx context.Context, cfg types.RetrievalConfig) error {
	if err := types.ValidateRetrievalConfig(cfg); err != nil {
		return err
	}
	if err := p.store.SetRetrievalConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save retrieval config: %w", err)
	}
	if err := p.cache.Set(ctx, cfg.Normalize()); err != nil {
		p.logger.Warn("[SETTINGS] cache write failed, invalidating", "error", err)
		if err := p.cache.Invalidate(ctx); err != nil {
			p.logger.Warn("[SETTINGS] cache invalidation failed", "error", err)
		}
	}
	p.logger.Info("[SETTINGS] retrieval config updated",
		"similarity_threshold", cfg.SimilarityThreshold,
		"max_chunks", cfg.MaxChunks,
		"use_top_chunks", cfg.UseTopChunks,
		"debug_mode", cfg.DebugMode)
	return nil
}

// LocalCache keeps the config in process memory for ttl. A zero ttl disables caching.
type LocalCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	value   *types.RetrievalConfig
	expires time.Time
	now     func() time.Time
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{ttl: ttl, now: time.Now}
}

func (c *LocalCache) Get(context.Context) (types.RetrievalConfig, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || !c.now().Before(c.expires) {
		return types.RetrievalConfig{}, false, nil
	}
	return *c.value, true, nil
}

func (c *LocalCache) Fill(_ context.Context, cfg types.RetrievalConfig) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != nil && c.now().Before(c.expires) {
		return nil
	}
	c.value = &cfg
	c.expires = c.now().Add(c.ttl)
	return nil
}

func (c *LocalCache) Set(_ context.Context, cfg types.RetrievalConfig) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &cfg
	c.expires = c.now().Add(c.ttl)
	return nil
}

func (c *LocalCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	return nil
}
