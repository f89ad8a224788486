// Package capability holds the platform hooks the catalog service calls but
// does not implement: speech capture and share sheets.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/catalog"
)

var (
	ErrUnsupported = errors.New("capability not supported on this platform")
	ErrNoSpeech    = errors.New("no speech recognized")
)

// VoiceInput captures one utterance and returns its transcript.
type VoiceInput interface {
	Listen(ctx context.Context) (string, error)
}

// TranscriptInput is a VoiceInput whose recognition already happened on the
// client; it returns the transcript it was given.
type TranscriptInput string

func (t TranscriptInput) Listen(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(string(t)), " ")
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

type Payload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// NewPayload builds the share payload for a title, linking to its page under
// publicURL.
func NewPayload(rec catalog.Record, publicURL string) Payload {
	return Payload{
		Title: rec.Title,
		Text:  fmt.Sprintf("Check out %s", rec.Title),
		URL:   strings.TrimRight(publicURL, "/") + "/titles/" + rec.ID,
	}
}

type ShareTarget interface {
	Share(ctx context.Context, p Payload) error
}

// NoopShare accepts every payload and does nothing.
type NoopShare struct{}

func (NoopShare) Share(ctx context.Context, p Payload) error { return nil }

// LogShare records the share as a structured log line.
type LogShare struct {
	Logger *zap.Logger
}

func (l LogShare) Share(ctx context.Context, p Payload) error {
	l.Logger.Info("title shared",
		zap.String("title", p.Title),
		zap.String("url", p.URL),
	)
	return nil
}

// Unsupported rejects every share, e.g. where no share sheet exists.
type Unsupported struct{}

func (Unsupported) Share(ctx context.Context, p Payload) error { return ErrUnsupported }

type fallbackShare struct {
	primary, fallback ShareTarget
}

// WithFallback tries primary and hands the payload to fallback only when
// primary reports ErrUnsupported.
func WithFallback(primary, fallback ShareTarget) ShareTarget {
	return fallbackShare{primary: primary, fallback: fallback}
}

func (f fallbackShare) Share(ctx context.Context, p Payload) error {
	err := f.primary.Share(ctx, p)
	if errors.Is(err, ErrUnsupported) {
		return f.fallback.Share(ctx, p)
	}
	return err
}
