package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/query"
)

func fixture() []catalog.Record {
	return []catalog.Record{
		{ID: "1", Title: "The Dark Knight", Type: catalog.TypeMovie, Genres: []string{"Action", "Crime", "Drama"}, ReleaseYear: 2008, CriticScore: 9.0, Quality: catalog.Quality4K, Language: "English", Cast: []string{"Christian Bale", "Heath Ledger"}, Director: "Christopher Nolan"},
		{ID: "2", Title: "Breaking Bad", Type: catalog.TypeSeries, Genres: []string{"Crime", "Drama", "Thriller"}, ReleaseYear: 2008, CriticScore: 9.5, Quality: catalog.QualityHD, Language: "English", Cast: []string{"Bryan Cranston", "Aaron Paul"}, Director: "Vince Gilligan", InWatchlist: true, AddedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{ID: "3", Title: "Inception", Type: catalog.TypeMovie, Genres: []string{"Action", "Sci-Fi", "Thriller"}, ReleaseYear: 2010, CriticScore: 8.8, Quality: catalog.Quality4K, Language: "English", Cast: []string{"Leonardo DiCaprio", "Tom Hardy"}, Director: "Christopher Nolan"},
		{ID: "4", Title: "Stranger Things", Type: catalog.TypeSeries, Genres: []string{"Drama", "Fantasy", "Horror"}, ReleaseYear: 2016, CriticScore: 8.7, Quality: catalog.Quality4K, Language: "English", Cast: []string{"Millie Bobby Brown", "Winona Ryder"}, Director: "The Duffer Brothers", InWatchlist: true, AddedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "5", Title: "Parasite", Type: catalog.TypeMovie, Genres: []string{"Comedy", "Drama", "Thriller"}, ReleaseYear: 2019, CriticScore: 8.6, Quality: catalog.QualityHD, Language: "Korean", Cast: []string{"Song Kang-ho"}, Director: "Bong Joon-ho"},
		{ID: "6", Title: "The Crown", Type: catalog.TypeSeries, Genres: []string{"Biography", "Drama", "History"}, ReleaseYear: 2016, CriticScore: 8.7, Quality: catalog.Quality4K, Language: "English", Cast: []string{"Claire Foy", "Olivia Colman"}, Director: "Peter Morgan", InWatchlist: true, AddedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *query.Builder) {
	t.Helper()
	vocab, err := catalog.NewVocabulary(nil)
	if err != nil {
		t.Fatalf("vocabulary: %v", err)
	}
	return New(vocab, opts...), query.NewBuilder(vocab, 20)
}

func titles(page *ResultPage) []string {
	out := make([]string, 0, len(page.Items))
	for _, r := range page.Items {
		out = append(out, r.Title)
	}
	return out
}

func mustSelect(t *testing.T, b *query.Builder, s query.Spec, facet, value string) query.Spec {
	t.Helper()
	next, err := b.SelectFacet(s, facet, value)
	if err != nil {
		t.Fatalf("select %s=%s: %v", facet, value, err)
	}
	return next
}

func mustSort(t *testing.T, b *query.Builder, s query.Spec, key string) query.Spec {
	t.Helper()
	next, err := b.WithSort(s, key)
	if err != nil {
		t.Fatalf("sort %s: %v", key, err)
	}
	return next
}

func TestEvaluate_Scenarios(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	tests := []struct {
		name  string
		spec  func() query.Spec
		want  []string
		total int
	}{
		{
			name:  "free text dark",
			spec:  func() query.Spec { return b.WithFreeText(b.New(), "dark") },
			want:  []string{"The Dark Knight"},
			total: 1,
		},
		{
			name: "action by rating",
			spec: func() query.Spec {
				return mustSort(t, b, mustSelect(t, b, b.New(), "genres", "Action"), "rating")
			},
			want:  []string{"The Dark Knight", "Inception"},
			total: 2,
		},
		{
			// 2010 is inside the 2010s bucket, so Inception matches too.
			name:  "2010s decade",
			spec:  func() query.Spec { return mustSelect(t, b, b.New(), "years", "2010s") },
			want:  []string{"Inception", "Stranger Things", "Parasite", "The Crown"},
			total: 4,
		},
		{
			name: "9.0+ by title",
			spec: func() query.Spec {
				return mustSort(t, b, mustSelect(t, b, b.New(), "ratings", "9.0+"), "title")
			},
			want:  []string{"Breaking Bad", "The Dark Knight"},
			total: 2,
		},
		{
			name: "korean movies",
			spec: func() query.Spec {
				return mustSelect(t, b, mustSelect(t, b, b.New(), "languages", "korean"), "types", "Movie")
			},
			want:  []string{"Parasite"},
			total: 1,
		},
		{
			name:  "no match",
			spec:  func() query.Spec { return b.WithFreeText(b.New(), "zzz") },
			want:  []string{},
			total: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := e.EvaluateRecords(tt.spec(), records)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := titles(page); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if page.TotalMatched != tt.total {
				t.Errorf("expected total %d, got %d", tt.total, page.TotalMatched)
			}
		})
	}
}

func TestEvaluate_PaginationCoverage(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	spec := mustSort(t, b, b.New(), "title")
	spec, err := b.WithPage(spec, 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var all []string
	pages := 0
	for {
		page, err := e.EvaluateRecords(spec, records)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		all = append(all, titles(page)...)
		pages++
		if !page.HasMore {
			if page.NextCursor != "" {
				t.Error("expected no cursor on the last page")
			}
			break
		}
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
		spec = spec.NextPage()
	}

	want := []string{"Breaking Bad", "Inception", "Parasite", "Stranger Things", "The Crown", "The Dark Knight"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("expected %v, got %v", want, all)
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
}

func TestEvaluate_CursorContinuation(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	spec, _ := b.WithPage(mustSort(t, b, b.New(), "title"), 0, 4)
	first, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.NextCursor == "" {
		t.Fatal("expected a continuation cursor")
	}

	next, err := b.WithCursor(spec, first.NextCursor)
	if err != nil {
		t.Fatalf("unexpected cursor error: %v", err)
	}
	second, err := e.EvaluateRecords(next, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"The Crown", "The Dark Knight"}
	if got := titles(second); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if second.HasMore {
		t.Error("expected hasMore=false on the last page")
	}
}

func TestEvaluate_OffsetPastEnd(t *testing.T) {
	e, b := newTestEngine(t)
	spec, _ := b.WithPage(b.New(), 10, 5)

	page, err := e.EvaluateRecords(spec, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 {
		t.Errorf("expected empty non-nil items, got %v", page.Items)
	}
	if page.HasMore {
		t.Error("expected hasMore=false")
	}
	if page.TotalMatched != 6 {
		t.Errorf("expected total 6, got %d", page.TotalMatched)
	}
}

func TestEvaluate_HugePageSize(t *testing.T) {
	e, b := newTestEngine(t)

	tests := []struct {
		offset    int
		wantItems int
	}{
		{0, 6},
		{1, 5},
		{5, 1},
		{6, 0},
		{math.MaxInt, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset=%d", tt.offset), func(t *testing.T) {
			spec, err := b.WithPage(b.New(), tt.offset, math.MaxInt)
			if err != nil {
				t.Fatalf("WithPage: %v", err)
			}
			page, err := e.EvaluateRecords(spec, fixture())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(page.Items) != tt.wantItems {
				t.Errorf("expected %d items, got %d", tt.wantItems, len(page.Items))
			}
			if page.HasMore {
				t.Error("expected hasMore=false")
			}
		})
	}
}

func TestEvaluate_RejectsZeroPageSize(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.EvaluateRecords(query.Spec{}, fixture())
	if !errors.Is(err, query.ErrInvalidPageSize) {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()
	spec := mustSelect(t, b, b.WithFreeText(b.New(), "dr"), "qualities", "4K")

	first, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical pages, got %+v and %+v", first, second)
	}
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()
	before := fixture()

	spec := mustSort(t, b, mustSelect(t, b, b.New(), "genres", "Drama"), "title")
	if _, err := e.EvaluateRecords(spec, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(records, before) {
		t.Error("evaluation reordered or modified the source records")
	}
}

func TestEvaluate_FilterConservation(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	specs := []query.Spec{
		b.New(),
		b.WithFreeText(b.New(), "nolan"),
		mustSelect(t, b, mustSelect(t, b, b.New(), "genres", "Thriller"), "genres", "Horror"),
		mustSelect(t, b, mustSelect(t, b, b.New(), "years", "2016"), "qualities", "4K"),
		mustSelect(t, b, b.WithFreeText(b.New(), "a"), "ratings", "8.0+"),
	}

	for i, spec := range specs {
		page, err := e.EvaluateRecords(spec, records)
		if err != nil {
			t.Fatalf("spec %d: unexpected error: %v", i, err)
		}
		if len(page.Items) > page.TotalMatched {
			t.Errorf("spec %d: %d items exceeds total %d", i, len(page.Items), page.TotalMatched)
		}
		for _, r := range page.Items {
			if !e.Matches(spec, r) {
				t.Errorf("spec %d: %q does not satisfy the spec", i, r.Title)
			}
		}
	}
}

func TestEvaluate_RatingThresholdsNotDoubleCounted(t *testing.T) {
	e, b := newTestEngine(t)
	spec := mustSelect(t, b, mustSelect(t, b, b.New(), "ratings", "9.0+"), "ratings", "7.0+")

	page, err := e.EvaluateRecords(spec, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.TotalMatched != 6 {
		t.Errorf("expected 6, got %d", page.TotalMatched)
	}
}

func TestEvaluate_RelevanceRanking(t *testing.T) {
	e, b := newTestEngine(t)
	records := []catalog.Record{
		{ID: "a", Title: "Quiet Streets", Type: catalog.TypeMovie, Genres: []string{"Noir"}, CriticScore: 9.9, Quality: catalog.QualityHD},
		{ID: "b", Title: "Harbor", Type: catalog.TypeMovie, Director: "Ann Noir", CriticScore: 7.0, Quality: catalog.QualityHD},
		{ID: "c", Title: "Noir City", Type: catalog.TypeMovie, CriticScore: 6.0, Quality: catalog.QualityHD},
		{ID: "d", Title: "Noir Nights", Type: catalog.TypeMovie, CriticScore: 8.0, Quality: catalog.QualityHD},
	}

	page, err := e.EvaluateRecords(b.WithFreeText(b.New(), "NOIR"), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Noir Nights", "Noir City", "Harbor", "Quiet Streets"}
	if got := titles(page); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEvaluate_RelevanceWithoutTextKeepsInputOrder(t *testing.T) {
	e, b := newTestEngine(t)
	page, err := e.EvaluateRecords(b.New(), fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"The Dark Knight", "Breaking Bad", "Inception", "Stranger Things", "Parasite", "The Crown"}
	if got := titles(page); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEvaluate_SortStability(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()
	spec := mustSort(t, b, b.New(), "year")

	first, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sort change away and back again must not reshuffle equal keys.
	spec = mustSort(t, b, mustSort(t, b, spec, "title"), "year")
	second, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(titles(first), titles(second)) {
		t.Errorf("order changed: %v vs %v", titles(first), titles(second))
	}

	want := []string{"Parasite", "Stranger Things", "The Crown", "Inception", "Breaking Bad", "The Dark Knight"}
	if got := titles(first); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEvaluate_PopularityAliasesRating(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	byRating, _ := e.EvaluateRecords(mustSort(t, b, b.New(), "rating"), records)
	byPopularity, _ := e.EvaluateRecords(mustSort(t, b, b.New(), "popularity"), records)
	if !reflect.DeepEqual(titles(byRating), titles(byPopularity)) {
		t.Errorf("expected popularity to equal rating, got %v vs %v", titles(byPopularity), titles(byRating))
	}
	want := []string{"Breaking Bad", "The Dark Knight", "Inception", "Stranger Things", "The Crown", "Parasite"}
	if got := titles(byRating); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEvaluate_WatchlistDateAdded(t *testing.T) {
	e, b := newTestEngine(t)
	spec := mustSort(t, b, b.New(), "dateAdded")

	page, err := e.Evaluate(context.Background(), spec, catalog.Watchlist(catalog.StaticSource(fixture())))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Breaking Bad", "Stranger Things", "The Crown"}
	if got := titles(page); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEvaluate_SourceError(t *testing.T) {
	e, b := newTestEngine(t)
	boom := errors.New("boom")
	src := catalog.SourceFunc(func(ctx context.Context) ([]catalog.Record, error) {
		return nil, boom
	})

	_, err := e.Evaluate(context.Background(), b.New(), src)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}

func TestEvaluate_ReportsStoreVersion(t *testing.T) {
	e, b := newTestEngine(t)
	store, err := catalog.NewStore(fixture())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.SetProgress("1", 50); err != nil {
		t.Fatalf("progress: %v", err)
	}

	page, err := e.Evaluate(context.Background(), b.New(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Version != 2 {
		t.Errorf("expected version 2, got %d", page.Version)
	}
}

func TestFacetCounts_SelfExclusion(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	spec := mustSelect(t, b, b.New(), "genres", "Action")
	page, err := e.EvaluateRecords(spec, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Genre badges ignore the genre selection itself.
	genres := page.FacetCounts[catalog.FacetGenres]
	for value, want := range map[string]int{"Action": 2, "Drama": 5, "Thriller": 3, "Crime": 2, "Romance": 0} {
		if genres[value] != want {
			t.Errorf("genres[%s]: expected %d, got %d", value, want, genres[value])
		}
	}

	// Other facets count over the filtered set.
	types := page.FacetCounts[catalog.FacetTypes]
	if types["Movie"] != 2 || types["Series"] != 0 {
		t.Errorf("unexpected type counts: %v", types)
	}
	years := page.FacetCounts[catalog.FacetYears]
	if years["2000s"] != 1 || years["2010s"] != 1 {
		t.Errorf("unexpected year counts: %v", years)
	}
}

func TestFacetCounts_IncludeEveryVocabularyValue(t *testing.T) {
	e, b := newTestEngine(t)
	page, err := e.EvaluateRecords(b.New(), fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range catalog.Facets {
		for _, v := range e.Vocabulary().Values(f) {
			if _, ok := page.FacetCounts[f][v]; !ok {
				t.Errorf("missing count for %s=%s", f, v)
			}
		}
	}
	if page.FacetCounts[catalog.FacetRatings]["9.0+"] != 2 {
		t.Errorf("expected 2 titles at 9.0+, got %d", page.FacetCounts[catalog.FacetRatings]["9.0+"])
	}
}

// bruteForceCounts recomputes facet counts from first principles: for facet
// F, count records matching the spec with F's selection removed and matching
// the value on its own.
func bruteForceCounts(t *testing.T, e *Engine, b *query.Builder, spec query.Spec, records []catalog.Record) FacetCounts {
	t.Helper()
	want := make(FacetCounts)
	for _, f := range catalog.Facets {
		without := spec
		for _, v := range spec.Selected(f) {
			var err error
			if without, err = b.ToggleFacet(without, string(f), v); err != nil {
				t.Fatalf("toggle: %v", err)
			}
		}
		want[f] = make(map[string]int)
		for _, v := range e.Vocabulary().Values(f) {
			only := mustSelect(t, b, b.New(), string(f), v)
			n := 0
			for i := range records {
				if e.Matches(without, &records[i]) && e.Matches(only, &records[i]) {
					n++
				}
			}
			want[f][v] = n
		}
	}
	return want
}

func TestFacetCounts_MatchBruteForce(t *testing.T) {
	e, b := newTestEngine(t)
	records := fixture()

	specs := []query.Spec{
		b.New(),
		mustSelect(t, b, mustSelect(t, b, b.New(), "genres", "Action"), "years", "2010s"),
		mustSelect(t, b, mustSelect(t, b, b.WithFreeText(b.New(), "the"), "types", "Series"), "qualities", "4K"),
		mustSelect(t, b, mustSelect(t, b, mustSelect(t, b, b.New(), "ratings", "8.0+"), "languages", "English"), "genres", "Drama"),
	}

	for i, spec := range specs {
		page, err := e.EvaluateRecords(spec, records)
		if err != nil {
			t.Fatalf("spec %d: unexpected error: %v", i, err)
		}
		want := bruteForceCounts(t, e, b, spec, records)
		if !reflect.DeepEqual(page.FacetCounts, want) {
			t.Errorf("spec %d: expected %v, got %v", i, want, page.FacetCounts)
		}
	}
}

func syntheticCatalog(n int) []catalog.Record {
	genres := []string{"Action", "Comedy", "Drama", "Thriller", "Sci-Fi", "Horror"}
	languages := []string{"English", "Spanish", "Korean", "Hindi"}
	types := []catalog.ContentType{catalog.TypeMovie, catalog.TypeSeries, catalog.TypeDocumentary}
	qualities := []catalog.QualityTier{catalog.QualitySD, catalog.QualityHD, catalog.Quality4K}

	records := make([]catalog.Record, n)
	for i := range records {
		records[i] = catalog.Record{
			ID:          fmt.Sprintf("t%04d", i),
			Title:       fmt.Sprintf("Title %03d", (i*37)%n),
			Type:        types[i%len(types)],
			Genres:      []string{genres[i%len(genres)], genres[(i/2)%len(genres)]},
			ReleaseYear: 2000 + i%24,
			CriticScore: float64(i%100) / 10,
			Quality:     qualities[i%len(qualities)],
			Language:    languages[i%len(languages)],
		}
	}
	return records
}

func TestEvaluate_ParallelMatchesSequential(t *testing.T) {
	seq, b := newTestEngine(t)
	par, _ := newTestEngine(t, WithParallelism(4, 10))
	records := syntheticCatalog(503)

	specs := []query.Spec{
		b.New(),
		mustSelect(t, b, b.New(), "genres", "Drama"),
		mustSort(t, b, mustSelect(t, b, b.New(), "ratings", "6.0+"), "title"),
		mustSort(t, b, b.WithFreeText(b.New(), "title 1"), "relevance"),
	}

	for i, spec := range specs {
		spec, _ = b.WithPage(spec, 0, 1000)
		want, err := seq.EvaluateRecords(spec, records)
		if err != nil {
			t.Fatalf("spec %d: unexpected error: %v", i, err)
		}
		got, err := par.EvaluateRecords(spec, records)
		if err != nil {
			t.Fatalf("spec %d: unexpected error: %v", i, err)
		}
		if !reflect.DeepEqual(titles(got), titles(want)) {
			t.Errorf("spec %d: parallel order differs from sequential", i)
		}
		if !reflect.DeepEqual(got.FacetCounts, want.FacetCounts) {
			t.Errorf("spec %d: parallel counts differ from sequential", i)
		}
	}
}

func BenchmarkEvaluate(b *testing.B) {
	vocab, _ := catalog.NewVocabulary(nil)
	e := New(vocab)
	qb := query.NewBuilder(vocab, 20)
	records := syntheticCatalog(10000)
	spec, _ := qb.SelectFacet(qb.WithFreeText(qb.New(), "title"), "genres", "Drama")
	spec, _ = qb.WithSort(spec, "rating")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.EvaluateRecords(spec, records)
	}
}
