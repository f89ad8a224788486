// Package engine evaluates a query.Spec against a catalog snapshot: filter,
// facet counts, sort, paginate.
package engine

import (
	"context"
	"fmt"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/query"
)

// ResultPage is one page of output. Items point into the evaluated snapshot.
type ResultPage struct {
	Items        []*catalog.Record `json:"items"`
	TotalMatched int               `json:"total_matched"`
	HasMore      bool              `json:"has_more"`
	Offset       int               `json:"offset"`
	PageSize     int               `json:"page_size"`
	NextCursor   string            `json:"next_cursor,omitempty"`
	FacetCounts  FacetCounts       `json:"facet_counts"`
	Version      uint64            `json:"version,omitempty"`
}

type Engine struct {
	vocab             *catalog.Vocabulary
	vocabPredicates   map[catalog.Facet][]valuePredicate
	parallelism       int
	parallelThreshold int
}

type Option func(*Engine)

// WithParallelism scans catalogs of at least threshold records with the given
// number of workers. Smaller catalogs are always scanned sequentially.
func WithParallelism(workers, threshold int) Option {
	return func(e *Engine) {
		e.parallelism = workers
		e.parallelThreshold = threshold
	}
}

func New(vocab *catalog.Vocabulary, opts ...Option) *Engine {
	e := &Engine{
		vocab:           vocab,
		vocabPredicates: make(map[catalog.Facet][]valuePredicate, len(catalog.Facets)),
		parallelism:     1,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, f := range catalog.Facets {
		for _, v := range vocab.Values(f) {
			e.vocabPredicates[f] = append(e.vocabPredicates[f], valuePredicate{value: v, match: e.valuePredicate(f, v)})
		}
	}
	return e
}

func (e *Engine) Vocabulary() *catalog.Vocabulary {
	return e.vocab
}

// Evaluate reads one snapshot from src and evaluates spec against it.
func (e *Engine) Evaluate(ctx context.Context, spec query.Spec, src catalog.Source) (*ResultPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := src.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading content source: %w", err)
	}
	page, err := e.EvaluateRecords(spec, records)
	if err != nil {
		return nil, err
	}
	if v, ok := src.(catalog.Versioned); ok {
		page.Version = v.Version()
	}
	return page, nil
}

// EvaluateRecords is pure: it never mutates spec or records and keeps no
// state between calls.
func (e *Engine) EvaluateRecords(spec query.Spec, records []catalog.Record) (*ResultPage, error) {
	if spec.PageSize() <= 0 {
		return nil, fmt.Errorf("%w: %d", query.ErrInvalidPageSize, spec.PageSize())
	}
	if spec.Offset() < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", query.ErrInvalidPageSize, spec.Offset())
	}

	m := e.compile(spec)
	var p partial
	if e.parallelism > 1 && e.parallelThreshold > 0 && len(records) >= e.parallelThreshold {
		p = e.scanParallel(m, records)
	} else {
		p = e.scan(m, records)
	}

	sortHits(p.hits, spec.Sort(), spec.FreeText() != "")
	items, hasMore := paginate(p.hits, spec.Offset(), spec.PageSize())

	page := &ResultPage{
		Items:        items,
		TotalMatched: len(p.hits),
		HasMore:      hasMore,
		Offset:       spec.Offset(),
		PageSize:     spec.PageSize(),
		FacetCounts:  p.counts,
	}
	if hasMore {
		page.NextCursor = query.EncodeCursor(spec.NextPage())
	}
	return page, nil
}

// Matches reports whether r satisfies every predicate of spec.
func (e *Engine) Matches(spec query.Spec, r *catalog.Record) bool {
	return e.compile(spec).matches(r)
}
