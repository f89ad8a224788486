package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
)

const (
	livePrefix  = "rp:live:"
	stalePrefix = "rp:stale:"
)

// PageKey identifies one cached result page. Live keys embed the snapshot
// version so a catalog mutation makes older entries unreachable; stale keys
// do not, so the last good page survives a source outage.
type PageKey struct {
	View        models.View
	Scope       string
	Fingerprint uint64
	Offset      int
	Version     uint64
}

func (k PageKey) Live() string {
	return fmt.Sprintf("%s%s:%d:%s", livePrefix, k.scope(), k.Version, k.tail())
}

func (k PageKey) Stale() string {
	return fmt.Sprintf("%s%s:%s", stalePrefix, k.scope(), k.tail())
}

func (k PageKey) scope() string {
	if k.Scope == "" {
		return string(k.View)
	}
	return string(k.View) + ":" + k.Scope
}

func (k PageKey) tail() string {
	return fmt.Sprintf("%016x:%d", k.Fingerprint, k.Offset)
}

// LivePattern matches every live page of a view, or of all views when view is
// empty.
func LivePattern(view models.View) string {
	if view == "" {
		return livePrefix + "*"
	}
	return livePrefix + string(view) + ":*"
}

// StalePattern matches the stale pages of one scoped view, e.g. the related
// rail of a single title.
func StalePattern(view models.View, scope string) string {
	return stalePrefix + PageKey{View: view, Scope: scope}.scope() + ":*"
}

// PageCache stores evaluated result pages in Redis. A cache built without a
// client is disabled and every operation is a no-op miss.
type PageCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewPageCache(cfg config.RedisConfig, logger *zap.Logger) (*PageCache, error) {
	if !cfg.Enabled {
		logger.Info("redis cache disabled")
		return &PageCache{ttl: cfg.TTL, logger: logger}, nil
	}

	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &PageCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (pc *PageCache) Enabled() bool {
	return pc.client != nil
}

// Get returns nil, nil on a miss.
func (pc *PageCache) Get(ctx context.Context, key PageKey) (*models.SearchResponse, error) {
	if !pc.Enabled() {
		return nil, nil
	}
	return pc.getResponse(ctx, key.Live())
}

// Set writes the page under its live key and refreshes the stale copy.
func (pc *PageCache) Set(ctx context.Context, key PageKey, resp *models.SearchResponse) error {
	if !pc.Enabled() {
		return nil
	}
	if err := pc.setResponse(ctx, key.Live(), resp, pc.ttlForView(key.View)); err != nil {
		return err
	}
	return pc.setResponse(ctx, key.Stale(), resp, pc.ttl.StaleFallback)
}

func (pc *PageCache) GetStale(ctx context.Context, key PageKey) (*models.SearchResponse, error) {
	if !pc.Enabled() {
		return nil, nil
	}
	return pc.getResponse(ctx, key.Stale())
}

func (pc *PageCache) InvalidatePattern(ctx context.Context, patterns []string) error {
	if !pc.Enabled() {
		return nil
	}
	for _, pattern := range patterns {
		iter := pc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			pc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := pc.client.Del(ctx, keys...).Err(); err != nil {
				pc.logger.Warn("cache delete error", zap.Int("keys", len(keys)), zap.Error(err))
			}
		}
	}
	return nil
}

func (pc *PageCache) HealthCheck(ctx context.Context) error {
	if !pc.Enabled() {
		return nil
	}
	return pc.client.Ping(ctx).Err()
}

func (pc *PageCache) Close() error {
	if !pc.Enabled() {
		return nil
	}
	return pc.client.Close()
}

func (pc *PageCache) getResponse(ctx context.Context, key string) (*models.SearchResponse, error) {
	val, err := pc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &resp, nil
}

func (pc *PageCache) setResponse(ctx context.Context, key string, resp *models.SearchResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return pc.client.Set(ctx, key, data, ttl).Err()
}

func (pc *PageCache) ttlForView(view models.View) time.Duration {
	switch view {
	case models.ViewWatchlist:
		return pc.ttl.Watchlist
	case models.ViewRelated:
		return pc.ttl.Related
	default:
		return pc.ttl.SearchResults
	}
}
