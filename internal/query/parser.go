package query

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/souravs72/broadflix/internal/catalog"
)

// FieldValue is one facet:value pair typed into the search box.
type FieldValue struct {
	Facet string
	Value string
}

// Parsed is a search box entry split into facet selections and the residual
// free text.
type Parsed struct {
	Original  string
	Text      string
	Fields    []FieldValue
	Tokens    []string
	HasQuotes bool
}

// TextParser extracts facet:value shortcuts ("genre:drama year:2010s") from
// raw search box input. Only known facet names are extracted, so URLs and
// times ("10:30") stay in the free text.
type TextParser struct{}

func NewTextParser() *TextParser {
	return &TextParser{}
}

var (
	fieldPattern      = regexp.MustCompile(`(?:^|\s)([a-zA-Z][a-zA-Z_]{1,}):("[^"]+"|\S+)`)
	quotePattern      = regexp.MustCompile(`"([^"]+)"`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
)

func (tp *TextParser) Parse(raw string) *Parsed {
	parsed := &Parsed{Original: raw}

	text := strings.TrimSpace(raw)
	if text == "" {
		return parsed
	}

	for _, m := range fieldPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := catalog.ParseFacet(m[1]); !ok {
			continue
		}
		parsed.Fields = append(parsed.Fields, FieldValue{
			Facet: m[1],
			Value: strings.Trim(m[2], `"`),
		})
		text = strings.Replace(text, m[1]+":"+m[2], "", 1)
	}

	if quotePattern.MatchString(text) {
		parsed.HasQuotes = true
		text = strings.ReplaceAll(text, `"`, "")
	}

	normalized := strings.ToLower(text)
	normalized = multiSpacePattern.ReplaceAllString(normalized, " ")
	parsed.Text = strings.TrimSpace(normalized)

	for _, w := range strings.Fields(parsed.Text) {
		cleaned := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if cleaned != "" {
			parsed.Tokens = append(parsed.Tokens, cleaned)
		}
	}

	return parsed
}
