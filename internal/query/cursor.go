package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type cursorToken struct {
	Offset      int    `json:"o"`
	Fingerprint uint64 `json:"f"`
}

// EncodeCursor mints an opaque continuation token that resumes s at its
// offset. The token is bound to the spec's fingerprint.
func EncodeCursor(s Spec) string {
	data, _ := json.Marshal(cursorToken{Offset: s.offset, Fingerprint: s.Fingerprint()})
	return base64.RawURLEncoding.EncodeToString(data)
}

// WithCursor positions s at the offset a continuation token carries. Tokens
// minted for a different query are rejected.
func (b *Builder) WithCursor(s Spec, token string) (Spec, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var ct cursorToken
	if err := json.Unmarshal(data, &ct); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if ct.Offset < 0 {
		return s, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	if ct.Fingerprint != s.Fingerprint() {
		return s, fmt.Errorf("%w: token belongs to a different query", ErrInvalidCursor)
	}
	next := s.clone()
	next.offset = ct.Offset
	return next, nil
}
