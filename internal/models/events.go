package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/souravs72/broadflix/internal/catalog"
)

type EventType string

const (
	EventUpsert    EventType = "UPSERT"
	EventDelete    EventType = "DELETE"
	EventWatchlist EventType = "WATCHLIST"
	EventProgress  EventType = "PROGRESS"
	EventRating    EventType = "RATING"
)

// ChangeEvent is one catalog mutation or user telemetry signal. Exactly the
// payload field matching Type is set.
type ChangeEvent struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	RecordID    string          `json:"record_id"`
	Record      *catalog.Record `json:"record,omitempty"`
	InWatchlist *bool           `json:"in_watchlist,omitempty"`
	Progress    *int            `json:"progress,omitempty"`
	Score       *float64        `json:"score,omitempty"`
	Source      string          `json:"source,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int64           `json:"version"`
}

func NewChangeEvent(t EventType, recordID, source string) *ChangeEvent {
	return &ChangeEvent{
		ID:        uuid.NewString(),
		Type:      t,
		RecordID:  recordID,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ChangeEvent) Validate() error {
	if e.RecordID == "" {
		return fmt.Errorf("change event %s has no record id", e.ID)
	}
	switch e.Type {
	case EventUpsert:
		if e.Record == nil {
			return fmt.Errorf("upsert event %s has no record", e.ID)
		}
		if e.Record.ID != e.RecordID {
			return fmt.Errorf("upsert event %s record id mismatch: %s != %s", e.ID, e.Record.ID, e.RecordID)
		}
	case EventDelete:
	case EventWatchlist:
		if e.InWatchlist == nil {
			return fmt.Errorf("watchlist event %s has no membership flag", e.ID)
		}
	case EventProgress:
		if e.Progress == nil {
			return fmt.Errorf("progress event %s has no percentage", e.ID)
		}
	case EventRating:
		if e.Score == nil {
			return fmt.Errorf("rating event %s has no score", e.ID)
		}
		if *e.Score < 0 || *e.Score > 10 {
			return fmt.Errorf("rating event %s score %.1f outside [0,10]", e.ID, *e.Score)
		}
	default:
		return fmt.Errorf("change event %s has unknown type %q", e.ID, e.Type)
	}
	return nil
}

type IndexAction struct {
	Action    string          `json:"action"` // index, delete
	Index     string          `json:"index"`
	ID        string          `json:"id"`
	Body      *catalog.Record `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type AnalyticsEvent struct {
	EventType    string         `json:"event_type"`
	QueryHash    string         `json:"query_hash"`
	QueryType    string         `json:"query_type"`
	View         string         `json:"view"`
	DurationMs   float64        `json:"duration_ms"`
	TotalMatched int64          `json:"total_matched"`
	RecordCount  int            `json:"record_count"`
	TimedOut     bool           `json:"timed_out"`
	Timestamp    time.Time      `json:"timestamp"`
	TraceID      string         `json:"trace_id"`
	Source       string         `json:"source"`
	ExtraFields  map[string]any `json:"extra_fields,omitempty"`
}
