package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Facet is a named multi-select filter dimension.
type Facet string

const (
	FacetTypes     Facet = "types"
	FacetGenres    Facet = "genres"
	FacetYears     Facet = "years"
	FacetRatings   Facet = "ratings"
	FacetLanguages Facet = "languages"
	FacetQualities Facet = "qualities"
)

// Facets lists every facet in filter panel order.
var Facets = []Facet{FacetTypes, FacetGenres, FacetYears, FacetRatings, FacetLanguages, FacetQualities}

var facetAliases = map[string]Facet{
	"type":      FacetTypes,
	"types":     FacetTypes,
	"genre":     FacetGenres,
	"genres":    FacetGenres,
	"year":      FacetYears,
	"years":     FacetYears,
	"rating":    FacetRatings,
	"ratings":   FacetRatings,
	"language":  FacetLanguages,
	"languages": FacetLanguages,
	"quality":   FacetQualities,
	"qualities": FacetQualities,
}

// Valid reports whether f is one of the canonical facet names.
func (f Facet) Valid() bool {
	for _, known := range Facets {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFacet resolves a facet name, accepting singular aliases.
func ParseFacet(name string) (Facet, bool) {
	f, ok := facetAliases[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// YearRange is the half-open interval [From, To).
type YearRange struct {
	From int
	To   int
}

func (yr YearRange) Contains(year int) bool {
	return year >= yr.From && year < yr.To
}

// ParseYearValue parses a literal year ("2020") or a decade bucket ("2010s").
func ParseYearValue(v string) (YearRange, error) {
	s := strings.TrimSpace(v)
	if strings.HasSuffix(s, "s") {
		decade, err := strconv.Atoi(strings.TrimSuffix(s, "s"))
		if err != nil || decade < 0 || decade%10 != 0 {
			return YearRange{}, fmt.Errorf("invalid decade bucket %q", v)
		}
		return YearRange{From: decade, To: decade + 10}, nil
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 0 {
		return YearRange{}, fmt.Errorf("invalid year %q", v)
	}
	return YearRange{From: year, To: year + 1}, nil
}

// ParseRatingThreshold parses a minimum score expressed as "N.0+".
func ParseRatingThreshold(v string) (float64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(v), "+")
	threshold, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rating threshold %q", v)
	}
	if threshold < 0 || threshold > 10 {
		return 0, fmt.Errorf("rating threshold %q outside [0,10]", v)
	}
	return threshold, nil
}
