package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/souravs72/broadflix/internal/cache"
	"github.com/souravs72/broadflix/internal/capability"
	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/engine"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
	"github.com/souravs72/broadflix/internal/query"
)

// ErrSourceUnavailable is returned when the catalog source failed and no
// fallback page could be served.
var ErrSourceUnavailable = errors.New("catalog source unavailable")

type ResultCache interface {
	Get(ctx context.Context, key cache.PageKey) (*models.SearchResponse, error)
	Set(ctx context.Context, key cache.PageKey, resp *models.SearchResponse) error
	GetStale(ctx context.Context, key cache.PageKey) (*models.SearchResponse, error)
}

type RecordLookup interface {
	Get(id string) (catalog.Record, error)
}

// Orchestrator serves the catalog views: it turns request parameters into a
// query spec, evaluates it against the right source and handles caching and
// fallbacks around the engine.
type Orchestrator struct {
	engine     *engine.Engine
	builder    *query.Builder
	parser     *query.TextParser
	classifier *IntentClassifier
	source     catalog.Source
	lookup     RecordLookup
	cache      ResultCache
	slowQuery  *observability.SlowQueryDetector
	cfg        config.SearchConfig
	logger     *zap.Logger
	group      singleflight.Group

	// Evaluated when the source fails and no stale page is cached.
	staticFallback catalog.Source
	mu             sync.RWMutex
}

func New(
	eng *engine.Engine,
	source catalog.Source,
	lookup RecordLookup,
	resultCache ResultCache,
	slowQuery *observability.SlowQueryDetector,
	cfg config.SearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:     eng,
		builder:    query.NewBuilder(eng.Vocabulary(), cfg.DefaultPageSize),
		parser:     query.NewTextParser(),
		classifier: NewIntentClassifier(),
		source:     source,
		lookup:     lookup,
		cache:      resultCache,
		slowQuery:  slowQuery,
		cfg:        cfg,
		logger:     logger,
	}
}

// view describes where and how one catalog view is evaluated.
type view struct {
	name            models.View
	scope           string
	narrow          func(catalog.Source) catalog.Source
	defaultSort     query.SortKey
	defaultPageSize int
}

func (v view) source(src catalog.Source) catalog.Source {
	if v.narrow == nil {
		return src
	}
	return v.narrow(src)
}

func (o *Orchestrator) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	return o.evaluate(ctx, view{name: models.ViewBrowse}, req)
}

// Watchlist evaluates req over the saved titles, newest additions first
// unless req picks a sort.
func (o *Orchestrator) Watchlist(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	return o.evaluate(ctx, view{
		name:        models.ViewWatchlist,
		narrow:      catalog.Watchlist,
		defaultSort: query.SortAdded,
	}, req)
}

// Related evaluates req over the other titles that share at least one genre
// with id, best rated first.
func (o *Orchestrator) Related(ctx context.Context, id string, req *models.SearchRequest) (*models.SearchResponse, error) {
	rec, err := o.lookup.Get(id)
	if err != nil {
		return nil, err
	}
	return o.evaluate(ctx, view{
		name:  models.ViewRelated,
		scope: id,
		narrow: func(src catalog.Source) catalog.Source {
			sameGenre := catalog.Filtered(src, func(r *catalog.Record) bool {
				return sharesGenre(r, &rec)
			})
			return catalog.Except(sameGenre, rec.ID)
		},
		defaultSort:     query.SortRating,
		defaultPageSize: o.cfg.RelatedLimit,
	}, req)
}

// VoiceSearch captures a transcript from input and searches with it as the
// search box text.
func (o *Orchestrator) VoiceSearch(ctx context.Context, input capability.VoiceInput, req *models.SearchRequest) (*models.SearchResponse, error) {
	transcript, err := input.Listen(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing voice query: %w", err)
	}

	voiceReq := *req
	voiceReq.Query = transcript
	resp, err := o.evaluate(ctx, view{name: models.ViewVoice}, &voiceReq)
	if err != nil {
		return nil, err
	}
	resp.Metadata.Transcript = transcript
	return resp, nil
}

func (o *Orchestrator) Title(ctx context.Context, id string) (catalog.Record, error) {
	_, span := observability.StartSpan(ctx, "orchestrator.title", attribute.String("record_id", id))
	defer span.End()
	return o.lookup.Get(id)
}

// Facets returns the facet vocabulary the catalog accepts.
func (o *Orchestrator) Facets() map[catalog.Facet][]string {
	return o.engine.Vocabulary().All()
}

// BuildSpec validates request parameters into a spec. Facet shortcuts typed
// into the query text and explicit facet parameters are both selected. A
// cursor, when present, overrides the offset.
func (o *Orchestrator) BuildSpec(req *models.SearchRequest, defaultSort query.SortKey, defaultPageSize int) (query.Spec, *query.Parsed, error) {
	parsed := o.parser.Parse(req.Query)
	spec, err := o.builder.Apply(o.builder.New(), parsed)
	if err != nil {
		return query.Spec{}, nil, err
	}

	for _, name := range slices.Sorted(maps.Keys(req.Facets)) {
		for _, value := range req.Facets[name] {
			if spec, err = o.builder.SelectFacet(spec, name, value); err != nil {
				return query.Spec{}, nil, err
			}
		}
	}

	sortKey := req.Sort
	if sortKey == "" {
		sortKey = string(defaultSort)
	}
	if sortKey != "" {
		if spec, err = o.builder.WithSort(spec, sortKey); err != nil {
			return query.Spec{}, nil, err
		}
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize == 0 {
		pageSize = spec.PageSize()
	}
	if o.cfg.MaxPageSize > 0 && pageSize > o.cfg.MaxPageSize {
		pageSize = o.cfg.MaxPageSize
	}
	if spec, err = o.builder.WithPage(spec, req.Offset, pageSize); err != nil {
		return query.Spec{}, nil, err
	}

	if req.Cursor != "" {
		if spec, err = o.builder.WithCursor(spec, req.Cursor); err != nil {
			return query.Spec{}, nil, err
		}
	}

	return spec, parsed, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, v view, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.evaluate",
		attribute.String("view", string(v.name)),
	)
	defer span.End()

	spec, parsed, err := o.BuildSpec(req, v.defaultSort, v.defaultPageSize)
	if err != nil {
		observability.EvaluationsTotal.WithLabelValues(string(v.name), "unknown", "invalid").Inc()
		return nil, err
	}

	intent := o.classifier.Classify(spec, parsed)
	span.SetAttributes(
		attribute.String("intent", intent.String()),
		attribute.String("spec", spec.String()),
	)
	o.logger.Debug("query classified",
		zap.String("spec", spec.String()),
		zap.String("intent", intent.String()),
		zap.String("view", string(v.name)),
	)

	src := v.source(o.source)
	cacheable := catalog.IsVersioned(src)
	key := cache.PageKey{
		View:        v.name,
		Scope:       v.scope,
		Fingerprint: spec.Fingerprint(),
		Offset:      spec.Offset(),
	}
	if ver, ok := src.(catalog.Versioned); ok {
		key.Version = ver.Version()
	}

	meta := models.ResponseMetadata{
		View:          v.name,
		Intent:        intent.String(),
		Query:         spec.FreeText(),
		ActiveFilters: spec.ActiveFilterCount(),
	}

	if cacheable && !req.ForceFresh {
		cached, err := o.cache.Get(ctx, key)
		if err != nil {
			o.logger.Warn("cache lookup error", zap.Error(err))
		}
		if cached != nil {
			cached.Metadata = meta
			cached.Metadata.CacheHit = true
			return o.finish(cached, req, v, intent, "cache_hit", start), nil
		}
	}

	res, err, shared := o.group.Do(key.Live(), func() (any, error) {
		evalCtx := context.WithoutCancel(ctx)
		if o.cfg.QueryTimeout > 0 {
			var cancel context.CancelFunc
			evalCtx, cancel = context.WithTimeout(evalCtx, o.cfg.QueryTimeout)
			defer cancel()
		}

		page, err := o.engine.Evaluate(evalCtx, spec, src)
		if err != nil {
			return nil, err
		}

		if cacheable {
			toCache := &models.SearchResponse{ResultPage: page, Metadata: meta}
			toCache.Metadata.Version = page.Version
			if err := o.cache.Set(context.WithoutCancel(ctx), key, toCache); err != nil {
				o.logger.Warn("cache set error", zap.Error(err))
			}
		}
		return page, nil
	})
	if shared {
		o.logger.Debug("evaluation coalesced", zap.String("key", key.Live()))
	}

	if err != nil {
		o.slowQuery.Intercept(ctx, observability.Evaluation{
			Query:     spec.String(),
			QueryType: intent.String(),
			View:      string(v.name),
			Duration:  time.Since(start),
			TimedOut:  errors.Is(err, context.DeadlineExceeded),
		})

		resp, fbErr := o.fallback(ctx, v, spec, key, err)
		if fbErr != nil {
			observability.EvaluationsTotal.WithLabelValues(string(v.name), intent.String(), "error").Inc()
			observability.EvaluationDuration.WithLabelValues(string(v.name), intent.String(), "error").Observe(time.Since(start).Seconds())
			return nil, fbErr
		}
		resp.Metadata = meta
		resp.Metadata.Stale = true
		return o.finish(resp, req, v, intent, "stale", start), nil
	}

	page := res.(*engine.ResultPage)
	resp := &models.SearchResponse{ResultPage: page, Metadata: meta}

	o.slowQuery.Intercept(ctx, observability.Evaluation{
		Query:        spec.String(),
		QueryType:    intent.String(),
		View:         string(v.name),
		Duration:     time.Since(start),
		TotalMatched: page.TotalMatched,
		RecordCount:  len(page.Items),
	})

	return o.finish(resp, req, v, intent, "success", start), nil
}

func (o *Orchestrator) finish(resp *models.SearchResponse, req *models.SearchRequest, v view, intent models.Intent, status string, start time.Time) *models.SearchResponse {
	resp.Metadata.RequestID = req.RequestID
	if resp.ResultPage != nil {
		resp.Metadata.Version = resp.Version
	}
	took := time.Since(start)
	resp.TookMs = took.Milliseconds()

	observability.EvaluationsTotal.WithLabelValues(string(v.name), intent.String(), status).Inc()
	observability.EvaluationDuration.WithLabelValues(string(v.name), intent.String(), status).Observe(took.Seconds())
	return resp
}

// fallback serves a degraded page after the primary evaluation failed: first
// the last good page for the same key, then the static catalog.
func (o *Orchestrator) fallback(ctx context.Context, v view, spec query.Spec, key cache.PageKey, cause error) (*models.SearchResponse, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, query.ErrInvalidPageSize) {
		return nil, cause
	}

	o.logger.Warn("primary evaluation failed, trying fallback",
		zap.String("view", string(v.name)),
		zap.Error(cause),
	)
	observability.FallbackCounter.WithLabelValues("primary_failed").Inc()

	// Level 2: Stale cache
	stale, err := o.cache.GetStale(ctx, key)
	if err != nil {
		o.logger.Warn("stale cache lookup error", zap.Error(err))
	}
	if stale != nil && stale.ResultPage != nil {
		observability.FallbackCounter.WithLabelValues("stale_cache").Inc()
		return stale, nil
	}

	// Level 3: Static catalog
	if static := o.getStaticFallback(); static != nil {
		page, err := o.engine.Evaluate(ctx, spec, v.source(static))
		if err == nil {
			observability.FallbackCounter.WithLabelValues("static").Inc()
			return &models.SearchResponse{ResultPage: page}, nil
		}
		o.logger.Warn("static fallback failed", zap.Error(err))
	}

	return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, cause)
}

// SetStaticFallback installs the records served when the source is down and
// nothing is cached, typically the seed catalog.
func (o *Orchestrator) SetStaticFallback(records []catalog.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(records) == 0 {
		o.staticFallback = nil
		return
	}
	o.staticFallback = catalog.StaticSource(slices.Clone(records))
}

func (o *Orchestrator) getStaticFallback() catalog.Source {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.staticFallback
}

func sharesGenre(a, b *catalog.Record) bool {
	for _, g := range a.Genres {
		for _, h := range b.Genres {
			if strings.EqualFold(g, h) {
				return true
			}
		}
	}
	return false
}
