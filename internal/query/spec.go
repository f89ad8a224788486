// Package query models one user query intent (free text, facet selections,
// sort order and paging) as an immutable Spec built through a validating
// Builder.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/souravs72/broadflix/internal/catalog"
)

var (
	ErrInvalidFacet    = errors.New("invalid facet")
	ErrInvalidSortKey  = errors.New("invalid sort key")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidCursor   = errors.New("invalid cursor")
)

type SortKey string

const (
	SortRelevance SortKey = "relevance"
	// SortPopularity orders exactly like SortRating: records carry no separate
	// popularity metric.
	SortPopularity SortKey = "popularity"
	SortRating     SortKey = "rating"
	SortYear       SortKey = "year"
	SortTitle      SortKey = "title"
	// SortAdded orders watchlist entries by the time they were saved.
	SortAdded SortKey = "added"
)

var sortAliases = map[string]SortKey{
	"relevance":    SortRelevance,
	"popularity":   SortPopularity,
	"rating":       SortRating,
	"year":         SortYear,
	"title":        SortTitle,
	"added":        SortAdded,
	"dateadded":    SortAdded,
	"alphabetical": SortTitle,
	"releasedate":  SortYear,
}

// ParseSortKey accepts the browse keys plus the watchlist page's names
// ("dateAdded", "alphabetical", "releaseDate").
func ParseSortKey(s string) (SortKey, error) {
	key, ok := sortAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
	return key, nil
}

// Spec is an immutable query. Builder operations return new values and never
// share facet storage with their input.
type Spec struct {
	freeText string
	facets   map[catalog.Facet][]string
	sort     SortKey
	offset   int
	pageSize int
}

func (s Spec) FreeText() string { return s.freeText }
func (s Spec) Sort() SortKey    { return s.sort }
func (s Spec) Offset() int      { return s.offset }
func (s Spec) PageSize() int    { return s.pageSize }

// Selected returns a copy of the values chosen for f.
func (s Spec) Selected(f catalog.Facet) []string {
	return slices.Clone(s.facets[f])
}

func (s Spec) IsSelected(f catalog.Facet, value string) bool {
	return slices.Contains(s.facets[f], value)
}

// ActiveFacets lists facets with at least one selected value, in filter panel
// order.
func (s Spec) ActiveFacets() []catalog.Facet {
	var active []catalog.Facet
	for _, f := range catalog.Facets {
		if len(s.facets[f]) > 0 {
			active = append(active, f)
		}
	}
	return active
}

// ActiveFilterCount is the number of selected facet values across all facets.
func (s Spec) ActiveFilterCount() int {
	n := 0
	for _, values := range s.facets {
		n += len(values)
	}
	return n
}

// NextPage advances the offset by one page. The offset saturates at
// math.MaxInt instead of wrapping.
func (s Spec) NextPage() Spec {
	next := s.clone()
	if next.offset > math.MaxInt-next.pageSize {
		next.offset = math.MaxInt
	} else {
		next.offset += next.pageSize
	}
	return next
}

// Fingerprint identifies the result set a spec selects, independent of the
// offset and of the order facet values were picked in.
func (s Spec) Fingerprint() uint64 {
	return xxhash.Sum64String(s.canonical())
}

func (s Spec) canonical() string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(s.freeText)
	for _, f := range catalog.Facets {
		values := s.facets[f]
		if len(values) == 0 {
			continue
		}
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		b.WriteString("&")
		b.WriteString(string(f))
		b.WriteString("=")
		b.WriteString(strings.Join(sorted, "|"))
	}
	b.WriteString("&sort=")
	b.WriteString(string(s.sort))
	b.WriteString("&size=")
	b.WriteString(strconv.Itoa(s.pageSize))
	return b.String()
}

func (s Spec) String() string {
	return s.canonical() + "&offset=" + strconv.Itoa(s.offset)
}

func (s Spec) MarshalJSON() ([]byte, error) {
	facets := make(map[catalog.Facet][]string, len(s.facets))
	for f, values := range s.facets {
		if len(values) > 0 {
			facets[f] = values
		}
	}
	return json.Marshal(struct {
		FreeText string                     `json:"q,omitempty"`
		Facets   map[catalog.Facet][]string `json:"facets,omitempty"`
		Sort     SortKey                    `json:"sort"`
		Offset   int                        `json:"offset"`
		PageSize int                        `json:"page_size"`
	}{s.freeText, facets, s.sort, s.offset, s.pageSize})
}

func (s Spec) clone() Spec {
	out := s
	out.facets = make(map[catalog.Facet][]string, len(s.facets))
	for f, values := range s.facets {
		if len(values) > 0 {
			out.facets[f] = slices.Clone(values)
		}
	}
	return out
}
