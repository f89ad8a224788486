package indexing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/cache"
	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
)

const (
	maxBufferSize   = 50000
	maxAsyncWorkers = 128
)

type CacheInvalidator interface {
	InvalidatePattern(ctx context.Context, patterns []string) error
}

type EventRecorder interface {
	InsertCatalogEvent(ctx context.Context, event *models.ChangeEvent) error
}

type BulkIndexer interface {
	BulkIndex(ctx context.Context, actions []models.IndexAction) error
}

// StreamProcessor applies change events to the catalog store. Side effects
// (cache invalidation, analytics, search mirror) are best-effort and never
// fail an event that the store accepted.
type StreamProcessor struct {
	store    *catalog.Store
	cache    CacheInvalidator
	recorder EventRecorder
	mirror   BulkIndexer
	esCfg    config.ElasticsearchConfig
	logger   *zap.Logger

	// Bulk buffer
	mu     sync.Mutex
	buffer []models.IndexAction
	ticker *time.Ticker
	done   chan struct{}

	async chan struct{}
}

// NewStreamProcessor wires the processor. recorder and mirror may be nil.
func NewStreamProcessor(
	store *catalog.Store,
	cache CacheInvalidator,
	recorder EventRecorder,
	mirror BulkIndexer,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *StreamProcessor {
	sp := &StreamProcessor{
		store:    store,
		cache:    cache,
		recorder: recorder,
		mirror:   mirror,
		esCfg:    esCfg,
		logger:   logger,
		buffer:   make([]models.IndexAction, 0, max(esCfg.BulkSize, 0)),
		done:     make(chan struct{}),
		async:    make(chan struct{}, maxAsyncWorkers),
	}

	if mirror != nil && esCfg.BulkFlushInterval > 0 {
		sp.ticker = time.NewTicker(esCfg.BulkFlushInterval)
		go sp.flushLoop()
	}

	return sp
}

func (sp *StreamProcessor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	if err := event.Validate(); err != nil {
		observability.IndexingEventsTotal.WithLabelValues(string(event.Type), "invalid").Inc()
		return err
	}

	action, err := sp.apply(event)
	if err != nil {
		observability.IndexingEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("applying %s event for %s: %w", event.Type, event.RecordID, err)
	}
	observability.IndexingEventsTotal.WithLabelValues(string(event.Type), "success").Inc()
	observability.SnapshotRecords.Set(float64(sp.store.Len()))
	observability.SnapshotVersion.Set(float64(sp.store.Version()))

	if action != nil && sp.mirror != nil {
		sp.mu.Lock()
		sp.buffer = append(sp.buffer, *action)
		shouldFlush := len(sp.buffer) >= sp.esCfg.BulkSize
		sp.mu.Unlock()

		if shouldFlush {
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("flush on buffer full failed", zap.Error(err))
			}
		}
	}

	// Write to ClickHouse for analytics (async, best-effort)
	if sp.recorder != nil {
		sp.goAsync("clickhouse_insert", func() {
			chCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sp.recorder.InsertCatalogEvent(chCtx, event); err != nil {
				sp.logger.Warn("clickhouse event insert failed",
					zap.String("record_id", event.RecordID),
					zap.Error(err),
				)
			}
		})
	}

	if event.Type != models.EventRating && sp.cache != nil {
		sp.goAsync("cache_invalidation", func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sp.cache.InvalidatePattern(cacheCtx, buildInvalidationKeys(event)); err != nil {
				sp.logger.Warn("cache invalidation failed",
					zap.String("record_id", event.RecordID),
					zap.Error(err),
				)
			}
		})
	}

	return nil
}

// goAsync runs fn on a bounded set of goroutines and drops it when all are
// busy.
func (sp *StreamProcessor) goAsync(name string, fn func()) {
	select {
	case sp.async <- struct{}{}:
		go func() {
			defer func() { <-sp.async }()
			fn()
		}()
	default:
		sp.logger.Warn("async workers saturated, dropping task", zap.String("task", name))
	}
}

// apply mutates the store and returns the mirror action for the change, if
// any. Ratings are telemetry only and leave the catalog untouched.
func (sp *StreamProcessor) apply(event *models.ChangeEvent) (*models.IndexAction, error) {
	var (
		updated catalog.Record
		err     error
	)

	switch event.Type {
	case models.EventUpsert:
		if err := sp.store.Upsert(*event.Record); err != nil {
			return nil, err
		}
		updated, err = sp.store.Get(event.RecordID)
	case models.EventDelete:
		err = sp.store.Delete(event.RecordID)
		if errors.Is(err, catalog.ErrNotFound) {
			// Redelivered delete.
			sp.logger.Debug("delete for unknown record ignored", zap.String("record_id", event.RecordID))
			err = nil
		}
		if err != nil {
			return nil, err
		}
		return &models.IndexAction{Action: "delete", ID: event.RecordID, Timestamp: event.Timestamp}, nil
	case models.EventWatchlist:
		updated, err = sp.store.SetWatchlist(event.RecordID, *event.InWatchlist, event.Timestamp)
	case models.EventProgress:
		updated, err = sp.store.SetProgress(event.RecordID, *event.Progress)
	case models.EventRating:
		_, err = sp.store.Get(event.RecordID)
		return nil, err
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
	if err != nil {
		return nil, err
	}

	return &models.IndexAction{
		Action:    "index",
		ID:        updated.ID,
		Body:      &updated,
		Timestamp: event.Timestamp,
	}, nil
}

func (sp *StreamProcessor) flushLoop() {
	for {
		select {
		case <-sp.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-sp.done:
			return
		}
	}
}

func (sp *StreamProcessor) flush(ctx context.Context) error {
	if sp.mirror == nil {
		return nil
	}

	sp.mu.Lock()
	if len(sp.buffer) == 0 {
		sp.mu.Unlock()
		return nil
	}
	batch := make([]models.IndexAction, len(sp.buffer))
	copy(batch, sp.buffer)
	sp.buffer = sp.buffer[:0]
	sp.mu.Unlock()

	start := time.Now()
	if err := sp.mirror.BulkIndex(ctx, batch); err != nil {
		// Put failed items back into buffer for retry
		sp.mu.Lock()
		sp.buffer = append(batch, sp.buffer...)
		if dropped := len(sp.buffer) - maxBufferSize; dropped > 0 {
			sp.buffer = sp.buffer[dropped:]
			sp.logger.Warn("bulk buffer full, dropping oldest actions", zap.Int("dropped", dropped))
		}
		sp.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	sp.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (sp *StreamProcessor) Stop() error {
	if sp.ticker != nil {
		sp.ticker.Stop()
	}
	close(sp.done)

	// Final flush
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return sp.flush(ctx)
}

func buildInvalidationKeys(event *models.ChangeEvent) []string {
	// Live pages are keyed by snapshot version and already unreachable; this
	// only reclaims memory.
	patterns := []string{cache.LivePattern("")}

	// A deleted title must not come back through its related rail fallback.
	if event.Type == models.EventDelete {
		patterns = append(patterns, cache.StalePattern(models.ViewRelated, event.RecordID))
	}

	return patterns
}
