package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/models"
)

// SlowQueryDetector flags evaluations that exceed the warning threshold and
// forwards them to the analytics store.
type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error
}

// Evaluation describes one finished catalog evaluation.
type Evaluation struct {
	Query        string
	QueryType    string
	View         string
	Duration     time.Duration
	TotalMatched int
	RecordCount  int
	TimedOut     bool
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

func (sqd *SlowQueryDetector) Intercept(ctx context.Context, ev Evaluation) {
	if ev.Duration <= sqd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sqd.classifySeverity(ev.Duration)
	queryHash := hashQueryForLog(ev.Query)

	SlowQueryCounter.WithLabelValues(severity, ev.QueryType).Inc()

	sqd.logger.Warn("slow catalog evaluation",
		zap.String("trace_id", traceID),
		zap.String("query_hash", queryHash),
		zap.String("query_type", ev.QueryType),
		zap.String("view", ev.View),
		zap.Float64("duration_ms", float64(ev.Duration.Microseconds())/1000),
		zap.Int("total_matched", ev.TotalMatched),
		zap.Int("record_count", ev.RecordCount),
		zap.Bool("timed_out", ev.TimedOut),
		zap.String("severity", severity),
	)

	// Written asynchronously so the response is never held up by analytics.
	if sqd.analyticsWriter != nil {
		event := &models.AnalyticsEvent{
			EventType:    "query_performance",
			QueryHash:    queryHash,
			QueryType:    ev.QueryType,
			View:         ev.View,
			DurationMs:   float64(ev.Duration.Microseconds()) / 1000,
			TotalMatched: int64(ev.TotalMatched),
			RecordCount:  ev.RecordCount,
			TimedOut:     ev.TimedOut,
			Timestamp:    time.Now().UTC(),
			TraceID:      traceID,
			Source:       "engine",
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sqd.analyticsWriter.WriteQueryPerformance(writeCtx, event); err != nil {
				sqd.logger.Error("failed to write query analytics",
					zap.String("trace_id", traceID),
					zap.Error(err),
				)
			}
		}()
	}
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	if d > sqd.warningThreshold {
		return "warning"
	}
	return "normal"
}

func hashQueryForLog(q string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(q))
}
