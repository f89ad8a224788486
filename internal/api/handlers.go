package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/capability"
	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/orchestrator"
	"github.com/souravs72/broadflix/internal/query"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// EventPublisher hands a change event to the indexing pipeline, either
// through Kafka or by applying it in process.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.ChangeEvent) error
}

// PublisherFunc applies events synchronously, e.g. StreamProcessor.HandleEvent
// when Kafka is disabled.
type PublisherFunc func(ctx context.Context, event *models.ChangeEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event *models.ChangeEvent) error {
	return f(ctx, event)
}

type Handler struct {
	orchestrator *orchestrator.Orchestrator
	events       EventPublisher
	queued       bool
	share        capability.ShareTarget
	publicURL    string
	logger       *zap.Logger
}

// NewHandler wires the HTTP handlers. queued reports that events are only
// enqueued by the publisher, so mutations answer 202 instead of 200.
func NewHandler(
	orch *orchestrator.Orchestrator,
	events EventPublisher,
	queued bool,
	share capability.ShareTarget,
	publicURL string,
	logger *zap.Logger,
) *Handler {
	if share == nil {
		share = capability.NoopShare{}
	}
	return &Handler{
		orchestrator: orch,
		events:       events,
		queued:       queued,
		share:        share,
		publicURL:    publicURL,
		logger:       logger,
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "search", h.orchestrator.Search)
}

func (h *Handler) Watchlist(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "watchlist", h.orchestrator.Watchlist)
}

func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.serveView(w, r, "related", func(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
		return h.orchestrator.Related(ctx, id, req)
	})
}

func (h *Handler) VoiceSearch(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "voice", func(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
		return h.orchestrator.VoiceSearch(ctx, capability.TranscriptInput(req.Transcript), req)
	})
}

type viewFunc func(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)

func (h *Handler) serveView(w http.ResponseWriter, r *http.Request, name string, eval viewFunc) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req.RequestID = requestID

	resp, err := eval(ctx, req)
	if err != nil {
		h.logger.Debug("view evaluation failed",
			zap.String("view", name),
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"facets": h.orchestrator.Facets(),
	})
}

func (h *Handler) Title(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orchestrator.Title(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

type watchlistRequest struct {
	InWatchlist *bool `json:"in_watchlist"`
}

// ToggleWatchlist flips the title's watchlist membership, or sets it when
// the body carries an explicit in_watchlist flag.
func (h *Handler) ToggleWatchlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.orchestrator.Title(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var body watchlistRequest
	if err := decodeOptionalBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in := !rec.InWatchlist
	if body.InWatchlist != nil {
		in = *body.InWatchlist
	}

	event := models.NewChangeEvent(models.EventWatchlist, rec.ID, "api")
	event.InWatchlist = &in
	h.publish(w, r, event, map[string]any{"id": rec.ID, "in_watchlist": in})
}

const maxBulkIDs = 500

type bulkWatchlistRequest struct {
	IDs         []string `json:"ids"`
	InWatchlist *bool    `json:"in_watchlist"`
}

// BulkWatchlist sets watchlist membership for several titles at once,
// removing them unless in_watchlist is true. Every id is resolved before any
// event is published, and one WATCHLIST event is published per distinct id.
func (h *Handler) BulkWatchlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body bulkWatchlistRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body.IDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "field 'ids' must not be empty")
		return
	}
	if len(body.IDs) > maxBulkIDs {
		h.writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("at most %d ids per request", maxBulkIDs))
		return
	}
	in := body.InWatchlist != nil && *body.InWatchlist

	seen := make(map[string]bool, len(body.IDs))
	ids := make([]string, 0, len(body.IDs))
	for _, id := range body.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := h.orchestrator.Title(ctx, id); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		ids = append(ids, id)
	}

	eventIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		event := models.NewChangeEvent(models.EventWatchlist, id, "api")
		event.InWatchlist = &in
		if err := h.events.Publish(ctx, event); err != nil {
			h.logger.Error("publishing bulk watchlist event failed",
				zap.String("record_id", id),
				zap.Int("published", len(eventIDs)),
				zap.String("request_id", RequestIDFromContext(ctx)),
				zap.Error(err),
			)
			h.writeServiceError(w, r, err)
			return
		}
		eventIDs = append(eventIDs, event.ID)
	}

	status := http.StatusOK
	if h.queued {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, map[string]any{
		"ids":          ids,
		"in_watchlist": in,
		"event_ids":    eventIDs,
	})
}

type progressRequest struct {
	Percent *int `json:"percent"`
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.orchestrator.Title(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var body progressRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Percent == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "field 'percent' is required")
		return
	}

	pct := catalog.ClampProgress(*body.Percent)
	event := models.NewChangeEvent(models.EventProgress, rec.ID, "api")
	event.Progress = &pct
	h.publish(w, r, event, map[string]any{"id": rec.ID, "watch_progress": pct})
}

type ratingRequest struct {
	Score *float64 `json:"score"`
}

// Rate records a user rating. Ratings are telemetry and never change the
// title's critic score.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.orchestrator.Title(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var body ratingRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Score == nil || *body.Score < 0 || *body.Score > 10 {
		h.writeError(w, http.StatusBadRequest, "invalid_score", "field 'score' must be between 0 and 10")
		return
	}

	event := models.NewChangeEvent(models.EventRating, rec.ID, "api")
	event.Score = body.Score
	h.publish(w, r, event, map[string]any{"id": rec.ID, "score": *body.Score})
}

func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.orchestrator.Title(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	payload := capability.NewPayload(rec, h.publicURL)
	if err := h.share.Share(ctx, payload); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request, event *models.ChangeEvent, body map[string]any) {
	if err := h.events.Publish(r.Context(), event); err != nil {
		h.logger.Error("publishing change event failed",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		h.writeServiceError(w, r, err)
		return
	}

	body["event_id"] = event.ID
	status := http.StatusOK
	if h.queued {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, body)
}

// Reserved query parameters; every other parameter naming a facet selects
// values of that facet.
var reservedParams = map[string]bool{
	"q": true, "sort": true, "offset": true, "page_size": true,
	"cursor": true, "force_fresh": true, "transcript": true,
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
		}
		return &req, nil
	}

	params := r.URL.Query()
	req := &models.SearchRequest{
		Query:      params.Get("q"),
		Sort:       params.Get("sort"),
		Cursor:     params.Get("cursor"),
		Transcript: params.Get("transcript"),
		ForceFresh: params.Get("force_fresh") == "true",
	}

	var err error
	if req.Offset, err = intParam(params.Get("offset")); err != nil {
		return nil, fmt.Errorf("%w: offset %v", query.ErrInvalidPageSize, err)
	}
	if req.PageSize, err = intParam(params.Get("page_size")); err != nil {
		return nil, fmt.Errorf("%w: page_size %v", query.ErrInvalidPageSize, err)
	}

	for name, values := range params {
		if reservedParams[name] {
			continue
		}
		if _, ok := catalog.ParseFacet(name); !ok {
			continue
		}
		for _, v := range values {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					if req.Facets == nil {
						req.Facets = make(map[string][]string)
					}
					req.Facets[name] = append(req.Facets[name], part)
				}
			}
		}
	}

	return req, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

var errInvalidRequest = errors.New("invalid request")

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(dst)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := decodeBody(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// errorStatus maps service errors onto HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, query.ErrInvalidFacet):
		return http.StatusBadRequest, "invalid_facet"
	case errors.Is(err, query.ErrInvalidSortKey):
		return http.StatusBadRequest, "invalid_sort"
	case errors.Is(err, query.ErrInvalidPageSize):
		return http.StatusBadRequest, "invalid_page_size"
	case errors.Is(err, query.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid_cursor"
	case errors.Is(err, capability.ErrNoSpeech):
		return http.StatusBadRequest, "no_speech"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, capability.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, orchestrator.ErrSourceUnavailable):
		return http.StatusServiceUnavailable, "source_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("code", code),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	h.writeError(w, status, code, message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
