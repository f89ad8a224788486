package engine

import (
	"strings"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/query"
)

// Match strengths used by relevance ordering.
const (
	strengthNone   = 0
	strengthGenre  = 1
	strengthPeople = 2
	strengthTitle  = 3
	strengthNoText = -1
)

type predicate func(r *catalog.Record) bool

type valuePredicate struct {
	value string
	match predicate
}

// facetPredicate ORs the selected values of one facet.
type facetPredicate struct {
	facet  catalog.Facet
	values []valuePredicate
}

func (fp facetPredicate) matches(r *catalog.Record) bool {
	for _, vp := range fp.values {
		if vp.match(r) {
			return true
		}
	}
	return false
}

// matcher is a spec compiled against the vocabulary. It holds no mutable
// state and may be shared across goroutines.
type matcher struct {
	text   string
	active []facetPredicate
}

func (e *Engine) compile(spec query.Spec) matcher {
	m := matcher{text: spec.FreeText()}
	for _, f := range spec.ActiveFacets() {
		fp := facetPredicate{facet: f}
		for _, v := range spec.Selected(f) {
			fp.values = append(fp.values, valuePredicate{value: v, match: e.valuePredicate(f, v)})
		}
		m.active = append(m.active, fp)
	}
	return m
}

// textStrength reports how strongly r matches the free text: strengthNone for
// no match, strengthNoText when there is no free text.
func (m matcher) textStrength(r *catalog.Record) int {
	if m.text == "" {
		return strengthNoText
	}
	if containsFold(r.Title, m.text) {
		return strengthTitle
	}
	if containsFold(r.Director, m.text) {
		return strengthPeople
	}
	for _, c := range r.Cast {
		if containsFold(c, m.text) {
			return strengthPeople
		}
	}
	for _, g := range r.Genres {
		if containsFold(g, m.text) {
			return strengthGenre
		}
	}
	return strengthNone
}

// failures returns how many active facets r fails and, when exactly one does,
// which one.
func (m matcher) failures(r *catalog.Record) (int, catalog.Facet) {
	n := 0
	var failed catalog.Facet
	for _, fp := range m.active {
		if !fp.matches(r) {
			n++
			failed = fp.facet
		}
	}
	return n, failed
}

// matches reports whether r satisfies the free text and every active facet.
func (m matcher) matches(r *catalog.Record) bool {
	if m.textStrength(r) == strengthNone {
		return false
	}
	n, _ := m.failures(r)
	return n == 0
}

func (e *Engine) valuePredicate(f catalog.Facet, value string) predicate {
	switch f {
	case catalog.FacetTypes:
		return func(r *catalog.Record) bool { return strings.EqualFold(string(r.Type), value) }
	case catalog.FacetGenres:
		return func(r *catalog.Record) bool {
			for _, g := range r.Genres {
				if strings.EqualFold(g, value) {
					return true
				}
			}
			return false
		}
	case catalog.FacetYears:
		yr, ok := e.vocab.YearRange(value)
		if !ok {
			var err error
			if yr, err = catalog.ParseYearValue(value); err != nil {
				return func(*catalog.Record) bool { return false }
			}
		}
		return func(r *catalog.Record) bool { return yr.Contains(r.ReleaseYear) }
	case catalog.FacetRatings:
		threshold, ok := e.vocab.RatingThreshold(value)
		if !ok {
			var err error
			if threshold, err = catalog.ParseRatingThreshold(value); err != nil {
				return func(*catalog.Record) bool { return false }
			}
		}
		return func(r *catalog.Record) bool { return r.CriticScore >= threshold }
	case catalog.FacetLanguages:
		return func(r *catalog.Record) bool { return strings.EqualFold(r.Language, value) }
	case catalog.FacetQualities:
		return func(r *catalog.Record) bool { return strings.EqualFold(string(r.Quality), value) }
	}
	return func(*catalog.Record) bool { return false }
}

func containsFold(s, lowerSubstr string) bool {
	return strings.Contains(strings.ToLower(s), lowerSubstr)
}
