package catalog

import "context"

// Source exposes a read-only snapshot of catalog records. The returned slice
// must not change while a caller holds it.
type Source interface {
	AllRecords(ctx context.Context) ([]Record, error)
}

// Versioned is implemented by sources that can tell when their snapshot
// changed. Results evaluated against an unversioned source are not cached.
type Versioned interface {
	Version() uint64
}

// StaticSource serves a fixed slice.
type StaticSource []Record

func (s StaticSource) AllRecords(ctx context.Context) ([]Record, error) {
	return s, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Record, error)

func (f SourceFunc) AllRecords(ctx context.Context) ([]Record, error) {
	return f(ctx)
}

type filteredSource struct {
	src  Source
	keep func(*Record) bool
}

// Filtered returns a view of src holding only the records keep accepts. The
// view reports the underlying version when src is Versioned.
func Filtered(src Source, keep func(*Record) bool) Source {
	return &filteredSource{src: src, keep: keep}
}

func (f *filteredSource) AllRecords(ctx context.Context) ([]Record, error) {
	all, err := f.src.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for i := range all {
		if f.keep(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (f *filteredSource) Version() uint64 {
	if v, ok := f.src.(Versioned); ok {
		return v.Version()
	}
	return 0
}

// Watchlist is the user's saved titles.
func Watchlist(src Source) Source {
	return Filtered(src, func(r *Record) bool { return r.InWatchlist })
}

// Except drops the record with the given id, e.g. the title a related-content
// rail is attached to.
func Except(src Source, id string) Source {
	return Filtered(src, func(r *Record) bool { return r.ID != id })
}

// IsVersioned reports whether src (or the source it wraps) tracks versions.
func IsVersioned(src Source) bool {
	switch s := src.(type) {
	case *filteredSource:
		return IsVersioned(s.src)
	case Versioned:
		return true
	}
	return false
}
