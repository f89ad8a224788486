package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
)

// Client is the analytics sink for slow evaluations and catalog telemetry.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("database", cfg.Database),
	)

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	query := `
		INSERT INTO query_performance (
			event_type, query_hash, query_type, view, duration_ms,
			total_matched, record_count, timed_out, timestamp, trace_id, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.exec(ctx, "query_performance", query,
		event.EventType,
		event.QueryHash,
		event.QueryType,
		event.View,
		event.DurationMs,
		event.TotalMatched,
		int32(event.RecordCount),
		event.TimedOut,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
}

// InsertCatalogEvent appends a change event to the catalog changelog. The
// numeric payload of telemetry events lands in value.
func (c *Client) InsertCatalogEvent(ctx context.Context, event *models.ChangeEvent) error {
	ctx, span := observability.StartSpan(ctx, "ch.insert_catalog_event",
		attribute.String("event.type", string(event.Type)),
	)
	defer span.End()

	query := `
		INSERT INTO catalog_events (
			event_id, record_id, operation, value, source, timestamp, version
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return c.exec(ctx, "catalog_event", query,
		event.ID,
		event.RecordID,
		string(event.Type),
		eventValue(event),
		event.Source,
		event.Timestamp,
		event.Version,
	)
}

func (c *Client) exec(ctx context.Context, queryType, query string, args ...any) error {
	start := time.Now()
	err := c.conn.Exec(ctx, query, args...)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CHQueryDuration.WithLabelValues(queryType, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("ch insert %s: %w", queryType, err)
	}
	return nil
}

func eventValue(e *models.ChangeEvent) float64 {
	switch {
	case e.Score != nil:
		return *e.Score
	case e.Progress != nil:
		return float64(*e.Progress)
	case e.InWatchlist != nil:
		if *e.InWatchlist {
			return 1
		}
		return 0
	case e.Record != nil:
		return e.Record.CriticScore
	}
	return 0
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			query_type String,
			view String,
			duration_ms Float64,
			total_matched Int64,
			record_count Int32,
			timed_out Bool,
			timestamp DateTime,
			trace_id String,
			source String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,

		`CREATE TABLE IF NOT EXISTS catalog_events (
			event_id String,
			record_id String,
			operation LowCardinality(String),
			value Float64,
			source String,
			timestamp DateTime,
			version Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, record_id)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
