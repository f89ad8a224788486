package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
	"github.com/souravs72/broadflix/internal/resilience"
)

const sourceName = "elasticsearch"

// Source reads the full catalog out of an Elasticsearch index and mirrors
// change events back into it. It satisfies catalog.Source.
type Source struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

func NewSource(cfg config.ElasticsearchConfig, searchCfg config.SearchConfig, logger *zap.Logger) (*Source, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	logger.Info("elasticsearch client connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("index", cfg.Index),
	)

	return &Source{
		es:       es,
		cb:       resilience.NewCircuitBreaker("elasticsearch-catalog", searchCfg.CircuitBreaker, logger),
		cfg:      cfg,
		retryCfg: resilience.RetryConfigFrom(searchCfg.Retry),
		logger:   logger,
	}, nil
}

// AllRecords pages through the whole index with search_after, ordered by id.
// Each page goes through the breaker and is retried on its own.
func (s *Source) AllRecords(ctx context.Context) ([]catalog.Record, error) {
	ctx, span := observability.StartSpan(ctx, "es.scan",
		attribute.String("es.index", s.cfg.Index),
	)
	defer span.End()

	start := time.Now()
	records, err := s.scan(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SourceFetchDuration.WithLabelValues(sourceName, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("es scan (index=%s): %w", s.cfg.Index, err)
	}

	span.SetAttributes(attribute.Int("es.records", len(records)))
	return records, nil
}

func (s *Source) scan(ctx context.Context) ([]catalog.Record, error) {
	var (
		records []catalog.Record
		after   string
	)
	for {
		page, err := resilience.Call(ctx, s.cb, s.retryCfg, func(ctx context.Context) (*scanPage, error) {
			return s.fetchPage(ctx, after)
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.records {
			if err := r.Validate(); err != nil {
				s.logger.Warn("skipping invalid catalog document", zap.String("id", r.ID), zap.Error(err))
				continue
			}
			records = append(records, r)
		}
		if len(page.records) < s.pageSize() || page.lastSort == "" {
			return records, nil
		}
		after = page.lastSort
	}
}

type scanPage struct {
	records  []catalog.Record
	lastSort string
}

func (s *Source) fetchPage(ctx context.Context, after string) (*scanPage, error) {
	body, err := json.Marshal(buildScanQuery(s.pageSize(), after))
	if err != nil {
		return nil, fmt.Errorf("marshaling es query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.cfg.Index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithTimeout(s.cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	return decodeScanPage(res.Body)
}

func (s *Source) pageSize() int {
	if s.cfg.ScanPageSize <= 0 {
		return 500
	}
	return s.cfg.ScanPageSize
}

// buildScanQuery returns a match_all page sorted on the keyword id so
// search_after can resume from the last hit.
func buildScanQuery(size int, after string) map[string]any {
	query := map[string]any{
		"size":    size,
		"query":   map[string]any{"match_all": map[string]any{}},
		"sort":    []map[string]any{{"id": map[string]any{"order": "asc"}}},
		"_source": true,
	}
	if after != "" {
		query["search_after"] = []any{after}
	}
	return query
}

func decodeScanPage(r io.Reader) (*scanPage, error) {
	var esResp esSearchResponse
	if err := json.NewDecoder(r).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}

	page := &scanPage{records: make([]catalog.Record, 0, len(esResp.Hits.Hits))}
	for _, h := range esResp.Hits.Hits {
		rec := h.Source
		if rec.ID == "" {
			rec.ID = h.ID
		}
		rec.Normalize()
		page.records = append(page.records, rec)
		if len(h.Sort) > 0 {
			page.lastSort = fmt.Sprint(h.Sort[0])
		}
	}
	return page, nil
}

// BulkIndex mirrors index/delete actions into the catalog index.
func (s *Source) BulkIndex(ctx context.Context, actions []models.IndexAction) error {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk_index",
		attribute.Int("batch_size", len(actions)),
	)
	defer span.End()

	body, err := encodeBulk(actions, s.cfg.Index)
	if err != nil {
		return err
	}

	res, err := s.es.Bulk(
		bytes.NewReader(body),
		s.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk request error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	return bulkResp.err()
}

// encodeBulk renders actions as an NDJSON bulk body. Actions without an index
// go to defaultIndex.
func encodeBulk(actions []models.IndexAction, defaultIndex string) ([]byte, error) {
	var buf bytes.Buffer
	for _, action := range actions {
		index := action.Index
		if index == "" {
			index = defaultIndex
		}
		meta := map[string]any{
			action.Action: map[string]any{
				"_index": index,
				"_id":    action.ID,
			},
		}

		metaLine, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if action.Action != "delete" && action.Body != nil {
			bodyLine, err := json.Marshal(action.Body)
			if err != nil {
				return nil, fmt.Errorf("marshaling bulk body: %w", err)
			}
			buf.Write(bodyLine)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func (s *Source) HealthCheck(ctx context.Context) error {
	res, err := s.es.Cluster.Health(
		s.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if health.Status == "red" {
		return fmt.Errorf("es cluster status is red")
	}
	return nil
}

func (s *Source) Close() error {
	return nil
}

// ES response types

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Source catalog.Record `json:"_source"`
	Sort   []any          `json:"sort"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (b *bulkResponse) err() error {
	if !b.Errors {
		return nil
	}
	var errMsgs []string
	for _, item := range b.Items {
		for _, result := range item {
			// A delete of a missing document is not a failure for a mirror.
			if result.Error != nil && result.Status != 404 {
				errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
			}
		}
	}
	if len(errMsgs) == 0 {
		return nil
	}
	return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
}
