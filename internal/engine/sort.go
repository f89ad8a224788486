package engine

import (
	"cmp"
	"slices"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/query"
)

// hit is a filtered record with its free text match strength.
type hit struct {
	rec      *catalog.Record
	strength int
}

// A Collator keeps internal buffers and is not safe for concurrent use.
var collators = sync.Pool{
	New: func() any {
		return collate.New(language.English, collate.IgnoreCase)
	},
}

// sortHits orders hits in place. Every ordering is stable, so records that
// compare equal keep their source order.
func sortHits(hits []hit, key query.SortKey, hasText bool) {
	if len(hits) < 2 {
		return
	}

	col := collators.Get().(*collate.Collator)
	defer collators.Put(col)
	byTitle := func(a, b hit) int {
		return col.CompareString(a.rec.Title, b.rec.Title)
	}

	switch key {
	case query.SortRelevance:
		if !hasText {
			return
		}
		slices.SortStableFunc(hits, func(a, b hit) int {
			if c := cmp.Compare(b.strength, a.strength); c != 0 {
				return c
			}
			return cmp.Compare(b.rec.CriticScore, a.rec.CriticScore)
		})
	case query.SortRating, query.SortPopularity:
		slices.SortStableFunc(hits, func(a, b hit) int {
			if c := cmp.Compare(b.rec.CriticScore, a.rec.CriticScore); c != 0 {
				return c
			}
			return byTitle(a, b)
		})
	case query.SortYear:
		slices.SortStableFunc(hits, func(a, b hit) int {
			if c := cmp.Compare(b.rec.ReleaseYear, a.rec.ReleaseYear); c != 0 {
				return c
			}
			return byTitle(a, b)
		})
	case query.SortTitle:
		slices.SortStableFunc(hits, byTitle)
	case query.SortAdded:
		slices.SortStableFunc(hits, func(a, b hit) int {
			if c := b.rec.AddedAt.Compare(a.rec.AddedAt); c != 0 {
				return c
			}
			return byTitle(a, b)
		})
	}
}
