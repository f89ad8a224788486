package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/souravs72/broadflix/internal/catalog"
)

const defaultPageSize = 20

// Builder turns discrete UI events into new Specs, validating facet names and
// values against the catalog vocabulary. On error the input Spec is returned
// unchanged.
type Builder struct {
	vocab           *catalog.Vocabulary
	defaultPageSize int
}

func NewBuilder(vocab *catalog.Vocabulary, pageSize int) *Builder {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Builder{vocab: vocab, defaultPageSize: pageSize}
}

func (b *Builder) Vocabulary() *catalog.Vocabulary {
	return b.vocab
}

func (b *Builder) New() Spec {
	return Spec{
		facets:   make(map[catalog.Facet][]string),
		sort:     SortRelevance,
		pageSize: b.defaultPageSize,
	}
}

// WithFreeText stores the trimmed, lower-cased text. An empty string clears
// free-text filtering. There is no minimum length.
func (b *Builder) WithFreeText(s Spec, text string) Spec {
	next := s.clone()
	next.freeText = strings.ToLower(strings.TrimSpace(text))
	next.offset = 0
	return next
}

// ToggleFacet selects value if absent and deselects it if present.
func (b *Builder) ToggleFacet(s Spec, facet, value string) (Spec, error) {
	f, canonical, err := b.resolve(facet, value)
	if err != nil {
		return s, err
	}
	next := s.clone()
	if i := slices.Index(next.facets[f], canonical); i >= 0 {
		next.facets[f] = slices.Delete(next.facets[f], i, i+1)
		if len(next.facets[f]) == 0 {
			delete(next.facets, f)
		}
	} else {
		next.facets[f] = append(next.facets[f], canonical)
	}
	next.offset = 0
	return next, nil
}

// SelectFacet ensures value is selected; selecting it twice is a no-op.
func (b *Builder) SelectFacet(s Spec, facet, value string) (Spec, error) {
	f, canonical, err := b.resolve(facet, value)
	if err != nil {
		return s, err
	}
	if s.IsSelected(f, canonical) {
		return s, nil
	}
	next := s.clone()
	next.facets[f] = append(next.facets[f], canonical)
	next.offset = 0
	return next, nil
}

func (b *Builder) resolve(facet, value string) (catalog.Facet, string, error) {
	f, ok := catalog.ParseFacet(facet)
	if !ok {
		return "", "", fmt.Errorf("%w: unknown facet %q", ErrInvalidFacet, facet)
	}
	canonical, ok := b.vocab.Canonical(f, value)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a %s value", ErrInvalidFacet, value, f)
	}
	return f, canonical, nil
}

func (b *Builder) WithSort(s Spec, key string) (Spec, error) {
	sk, err := ParseSortKey(key)
	if err != nil {
		return s, err
	}
	next := s.clone()
	next.sort = sk
	next.offset = 0
	return next, nil
}

func (b *Builder) WithPage(s Spec, offset, pageSize int) (Spec, error) {
	if pageSize <= 0 {
		return s, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	if offset < 0 {
		return s, fmt.Errorf("%w: negative offset %d", ErrInvalidPageSize, offset)
	}
	next := s.clone()
	next.offset = offset
	next.pageSize = pageSize
	return next, nil
}

// Clear drops free text and every facet selection, resets the sort to
// relevance and rewinds to the first page. The page size is kept.
func (b *Builder) Clear(s Spec) Spec {
	return Spec{
		facets:   make(map[catalog.Facet][]string),
		sort:     SortRelevance,
		pageSize: s.pageSize,
	}
}

// Apply folds a parsed search box entry into s: the residual text becomes the
// free text and every facet:value pair is selected.
func (b *Builder) Apply(s Spec, p *Parsed) (Spec, error) {
	next := b.WithFreeText(s, p.Text)
	for _, fv := range p.Fields {
		var err error
		next, err = b.SelectFacet(next, fv.Facet, fv.Value)
		if err != nil {
			return s, err
		}
	}
	return next, nil
}
