package models

import (
	"github.com/souravs72/broadflix/internal/engine"
)

type Intent int

const (
	IntentBrowse Intent = iota
	IntentFullText
	IntentFaceted
	IntentAutocomplete
)

func (i Intent) String() string {
	switch i {
	case IntentBrowse:
		return "browse"
	case IntentFullText:
		return "fulltext"
	case IntentFaceted:
		return "faceted"
	case IntentAutocomplete:
		return "autocomplete"
	default:
		return "unknown"
	}
}

// View names the catalog view a query was evaluated against.
type View string

const (
	ViewBrowse    View = "browse"
	ViewWatchlist View = "watchlist"
	ViewRelated   View = "related"
	ViewVoice     View = "voice"
)

// SearchRequest carries the raw query parameters of one catalog request.
// Facet names may use singular aliases ("genre").
type SearchRequest struct {
	RequestID  string              `json:"-"`
	Query      string              `json:"q"`
	Facets     map[string][]string `json:"facets,omitempty"`
	Sort       string              `json:"sort,omitempty"`
	Offset     int                 `json:"offset"`
	PageSize   int                 `json:"page_size"`
	Cursor     string              `json:"cursor,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
	ForceFresh bool                `json:"force_fresh,omitempty"`
}

type SearchResponse struct {
	*engine.ResultPage
	TookMs   int64            `json:"took_ms"`
	Metadata ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	RequestID     string `json:"request_id"`
	View          View   `json:"view"`
	Intent        string `json:"intent"`
	Query         string `json:"query"`
	ActiveFilters int    `json:"active_filters"`
	Transcript    string `json:"transcript,omitempty"`
	CacheHit      bool   `json:"cache_hit"`
	Stale         bool   `json:"stale"`
	Version       uint64 `json:"snapshot_version"`
}
