package catalog

import (
	"fmt"
	"strings"
)

// Vocabulary is the closed set of selectable values per facet. It is built
// once from configuration and is read-only afterwards.
type Vocabulary struct {
	values    map[Facet][]string
	canonical map[Facet]map[string]string
	years     map[string]YearRange
	ratings   map[string]float64
}

// DefaultVocabularyValues mirrors the browse page's filter options.
func DefaultVocabularyValues() map[Facet][]string {
	return map[Facet][]string{
		FacetGenres:    {"Action", "Comedy", "Drama", "Thriller", "Sci-Fi", "Horror", "Romance", "Crime", "Fantasy", "Biography", "History"},
		FacetYears:     {"2023", "2022", "2021", "2020", "2019", "2018", "2017", "2016", "2015", "2010s", "2000s"},
		FacetRatings:   {"9.0+", "8.0+", "7.0+", "6.0+"},
		FacetTypes:     {"Movie", "Series", "Documentary"},
		FacetLanguages: {"English", "Spanish", "French", "German", "Korean", "Japanese", "Hindi"},
		FacetQualities: {"4K", "HD", "SD"},
	}
}

// NewVocabulary validates the configured values. Facets missing from values
// fall back to the defaults; year and rating values must parse.
func NewVocabulary(values map[Facet][]string) (*Vocabulary, error) {
	defaults := DefaultVocabularyValues()
	v := &Vocabulary{
		values:    make(map[Facet][]string, len(Facets)),
		canonical: make(map[Facet]map[string]string, len(Facets)),
		years:     make(map[string]YearRange),
		ratings:   make(map[string]float64),
	}

	for f := range values {
		if !f.Valid() {
			return nil, fmt.Errorf("unknown facet %q in vocabulary", f)
		}
	}

	for _, f := range Facets {
		list, ok := values[f]
		if !ok {
			list = defaults[f]
		}
		index := make(map[string]string, len(list))
		kept := make([]string, 0, len(list))
		for _, raw := range list {
			val := strings.TrimSpace(raw)
			if val == "" {
				return nil, fmt.Errorf("facet %s: empty value", f)
			}
			key := strings.ToLower(val)
			if _, dup := index[key]; dup {
				return nil, fmt.Errorf("facet %s: duplicate value %q", f, val)
			}
			switch f {
			case FacetYears:
				yr, err := ParseYearValue(val)
				if err != nil {
					return nil, fmt.Errorf("facet %s: %w", f, err)
				}
				v.years[val] = yr
			case FacetRatings:
				threshold, err := ParseRatingThreshold(val)
				if err != nil {
					return nil, fmt.Errorf("facet %s: %w", f, err)
				}
				v.ratings[val] = threshold
			case FacetTypes:
				if _, err := ParseContentType(val); err != nil {
					return nil, fmt.Errorf("facet %s: %w", f, err)
				}
			case FacetQualities:
				if _, err := ParseQualityTier(val); err != nil {
					return nil, fmt.Errorf("facet %s: %w", f, err)
				}
			}
			index[key] = val
			kept = append(kept, val)
		}
		v.values[f] = kept
		v.canonical[f] = index
	}

	return v, nil
}

// Canonical resolves value case-insensitively to its configured spelling.
func (v *Vocabulary) Canonical(f Facet, value string) (string, bool) {
	index, ok := v.canonical[f]
	if !ok {
		return "", false
	}
	c, ok := index[strings.ToLower(strings.TrimSpace(value))]
	return c, ok
}

// Values returns a copy of the configured values for f, in display order.
func (v *Vocabulary) Values(f Facet) []string {
	out := make([]string, len(v.values[f]))
	copy(out, v.values[f])
	return out
}

// All returns a copy of the whole vocabulary keyed by facet.
func (v *Vocabulary) All() map[Facet][]string {
	out := make(map[Facet][]string, len(v.values))
	for _, f := range Facets {
		out[f] = v.Values(f)
	}
	return out
}

func (v *Vocabulary) YearRange(value string) (YearRange, bool) {
	yr, ok := v.years[value]
	return yr, ok
}

func (v *Vocabulary) RatingThreshold(value string) (float64, bool) {
	threshold, ok := v.ratings[value]
	return threshold, ok
}
