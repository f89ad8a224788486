package engine

import (
	"golang.org/x/sync/errgroup"

	"github.com/souravs72/broadflix/internal/catalog"
)

// FacetCounts maps facet -> vocabulary value -> number of records.
type FacetCounts map[catalog.Facet]map[string]int

func (e *Engine) emptyCounts() FacetCounts {
	counts := make(FacetCounts, len(catalog.Facets))
	for _, f := range catalog.Facets {
		values := make(map[string]int, len(e.vocabPredicates[f]))
		for _, vp := range e.vocabPredicates[f] {
			values[vp.value] = 0
		}
		counts[f] = values
	}
	return counts
}

func (e *Engine) tally(counts FacetCounts, f catalog.Facet, r *catalog.Record) {
	for _, vp := range e.vocabPredicates[f] {
		if vp.match(r) {
			counts[f][vp.value]++
		}
	}
}

func (c FacetCounts) add(other FacetCounts) {
	for f, values := range other {
		for v, n := range values {
			c[f][v] += n
		}
	}
}

// partial is the outcome of scanning one contiguous run of records.
type partial struct {
	hits   []hit
	counts FacetCounts
}

// scan filters records and tallies self-excluding facet counts in one pass.
// A record that fails exactly one active facet F still counts toward F's
// values: those badges answer "what if this value were also selected".
func (e *Engine) scan(m matcher, records []catalog.Record) partial {
	p := partial{counts: e.emptyCounts()}
	for i := range records {
		r := &records[i]
		strength := m.textStrength(r)
		if strength == strengthNone {
			continue
		}
		switch n, failed := m.failures(r); n {
		case 0:
			p.hits = append(p.hits, hit{rec: r, strength: strength})
			for _, f := range catalog.Facets {
				e.tally(p.counts, f, r)
			}
		case 1:
			e.tally(p.counts, failed, r)
		}
	}
	return p
}

// scanParallel splits records into contiguous chunks and merges the partial
// results in chunk order, so the hit order equals a sequential scan.
func (e *Engine) scanParallel(m matcher, records []catalog.Record) partial {
	workers := e.parallelism
	chunk := (len(records) + workers - 1) / workers
	partials := make([]partial, 0, workers)
	for lo := 0; lo < len(records); lo += chunk {
		partials = append(partials, partial{})
	}

	var g errgroup.Group
	for i := range partials {
		lo := i * chunk
		hi := min(lo+chunk, len(records))
		g.Go(func() error {
			partials[i] = e.scan(m, records[lo:hi])
			return nil
		})
	}
	_ = g.Wait()

	merged := partial{counts: e.emptyCounts()}
	for _, p := range partials {
		merged.hits = append(merged.hits, p.hits...)
		merged.counts.add(p.counts)
	}
	return merged
}
