package engine

import "github.com/souravs72/broadflix/internal/catalog"

// paginate slices one page out of the ordered hits. An offset past the end
// yields an empty, non-nil page. Bounds are computed from the remaining hit
// count so huge page sizes cannot overflow.
func paginate(hits []hit, offset, pageSize int) ([]*catalog.Record, bool) {
	total := len(hits)
	if offset >= total {
		return []*catalog.Record{}, false
	}
	remaining := total - offset
	end := offset + min(pageSize, remaining)
	items := make([]*catalog.Record, 0, end-offset)
	for _, h := range hits[offset:end] {
		items = append(items, h.rec)
	}
	return items, pageSize < remaining
}
