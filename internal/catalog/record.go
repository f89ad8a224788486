// Package catalog defines the browsable title model, the facet vocabulary and
// the read-only content sources the query engine evaluates against.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrNotFound      = errors.New("record not found")
)

type ContentType string

const (
	TypeMovie       ContentType = "movie"
	TypeSeries      ContentType = "series"
	TypeDocumentary ContentType = "documentary"
)

// ParseContentType accepts any casing ("Movie", "movie").
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	switch ct {
	case TypeMovie, TypeSeries, TypeDocumentary:
		return ct, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

func (t ContentType) Valid() bool {
	switch t {
	case TypeMovie, TypeSeries, TypeDocumentary:
		return true
	}
	return false
}

type QualityTier string

const (
	QualitySD QualityTier = "SD"
	QualityHD QualityTier = "HD"
	Quality4K QualityTier = "4K"
)

func ParseQualityTier(s string) (QualityTier, error) {
	q := QualityTier(strings.ToUpper(strings.TrimSpace(s)))
	switch q {
	case QualitySD, QualityHD, Quality4K:
		return q, nil
	}
	return "", fmt.Errorf("unknown quality tier %q", s)
}

func (q QualityTier) Valid() bool {
	switch q {
	case QualitySD, QualityHD, Quality4K:
		return true
	}
	return false
}

// Record is one browsable title. Records inside a snapshot are treated as
// immutable; mutations go through Store and produce a new snapshot.
type Record struct {
	ID              string      `json:"id" yaml:"id" firestore:"id"`
	Title           string      `json:"title" yaml:"title" firestore:"title"`
	Type            ContentType `json:"type" yaml:"type" firestore:"type"`
	Genres          []string    `json:"genres" yaml:"genres" firestore:"genres"`
	ReleaseYear     int         `json:"release_year" yaml:"release_year" firestore:"release_year"`
	RatingLabel     string      `json:"rating_label,omitempty" yaml:"rating_label" firestore:"rating_label"`
	CriticScore     float64     `json:"critic_score" yaml:"critic_score" firestore:"critic_score"`
	Quality         QualityTier `json:"quality" yaml:"quality" firestore:"quality"`
	Language        string      `json:"language" yaml:"language" firestore:"language"`
	Cast            []string    `json:"cast,omitempty" yaml:"cast" firestore:"cast"`
	Director        string      `json:"director,omitempty" yaml:"director" firestore:"director"`
	Description     string      `json:"description,omitempty" yaml:"description" firestore:"description"`
	DurationMinutes int         `json:"duration_minutes,omitempty" yaml:"duration_minutes" firestore:"duration_minutes"`
	PosterURL       string      `json:"poster_url,omitempty" yaml:"poster_url" firestore:"poster_url"`
	WatchProgress   int         `json:"watch_progress" yaml:"watch_progress" firestore:"watch_progress"`
	InWatchlist     bool        `json:"in_watchlist" yaml:"in_watchlist" firestore:"in_watchlist"`
	AddedAt         time.Time   `json:"added_at,omitempty" yaml:"added_at" firestore:"added_at"`
}

// Normalize canonicalizes enum casing so records loaded from loosely typed
// stores ("Movie", "4k") validate.
func (r *Record) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Title = strings.TrimSpace(r.Title)
	if ct, err := ParseContentType(string(r.Type)); err == nil {
		r.Type = ct
	}
	if q, err := ParseQualityTier(string(r.Quality)); err == nil {
		r.Quality = q
	}
}

func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if r.Title == "" {
		return fmt.Errorf("%w: record %s has empty title", ErrInvalidRecord, r.ID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: record %s has unknown type %q", ErrInvalidRecord, r.ID, r.Type)
	}
	if !r.Quality.Valid() {
		return fmt.Errorf("%w: record %s has unknown quality %q", ErrInvalidRecord, r.ID, r.Quality)
	}
	if r.CriticScore < 0 || r.CriticScore > 10 {
		return fmt.Errorf("%w: record %s critic score %.1f outside [0,10]", ErrInvalidRecord, r.ID, r.CriticScore)
	}
	if r.WatchProgress < 0 || r.WatchProgress > 100 {
		return fmt.Errorf("%w: record %s watch progress %d outside [0,100]", ErrInvalidRecord, r.ID, r.WatchProgress)
	}
	return nil
}

// ClampProgress bounds a playback percentage to [0,100].
func ClampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
