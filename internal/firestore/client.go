package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/models"
	"github.com/souravs72/broadflix/internal/observability"
)

const sourceName = "firestore"

// Source reads catalog records from one Firestore collection, one document
// per title. It satisfies catalog.Source.
type Source struct {
	client *firestore.Client
	cfg    config.FirestoreConfig
	logger *zap.Logger
}

func NewSource(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Source, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore client connected",
		zap.String("project", cfg.ProjectID),
		zap.String("collection", cfg.Collection),
	)

	return &Source{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (s *Source) AllRecords(ctx context.Context) ([]catalog.Record, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.scan",
		attribute.String("collection", s.cfg.Collection),
	)
	defer span.End()

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	records, err := s.scan(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SourceFetchDuration.WithLabelValues(sourceName, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("firestore scan %s: %w", s.cfg.Collection, err)
	}

	span.SetAttributes(attribute.Int("firestore.records", len(records)))
	return records, nil
}

func (s *Source) scan(ctx context.Context) ([]catalog.Record, error) {
	iter := s.client.Collection(s.cfg.Collection).Documents(ctx)
	defer iter.Stop()

	var records []catalog.Record
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}

		rec, err := decodeRecord(doc.Ref.ID, doc.DataTo)
		if err != nil {
			s.logger.Warn("skipping invalid catalog document", zap.String("doc_id", doc.Ref.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
}

// decodeRecord fills a record through decode and falls back to the document
// id when the stored record has none.
func decodeRecord(docID string, decode func(any) error) (catalog.Record, error) {
	var rec catalog.Record
	if err := decode(&rec); err != nil {
		return catalog.Record{}, fmt.Errorf("decoding document %s: %w", docID, err)
	}
	if rec.ID == "" {
		rec.ID = docID
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

// ChangeListener turns collection snapshot changes into UPSERT and DELETE
// change events.
type ChangeListener struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
	handler    func(context.Context, *models.ChangeEvent) error
}

func (s *Source) NewChangeListener(handler func(context.Context, *models.ChangeEvent) error) *ChangeListener {
	return &ChangeListener{
		client:     s.client,
		collection: s.cfg.Collection,
		logger:     s.logger,
		handler:    handler,
	}
}

func (cl *ChangeListener) Listen(ctx context.Context) error {
	snapIter := cl.client.Collection(cl.collection).Snapshots(ctx)
	defer snapIter.Stop()

	for {
		snap, err := snapIter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cl.logger.Error("snapshot iterator error", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, change := range snap.Changes {
			event, err := changeEvent(change.Kind, change.Doc.Ref.ID, change.Doc.DataTo)
			if err != nil {
				cl.logger.Warn("dropping undecodable document change",
					zap.String("doc_id", change.Doc.Ref.ID),
					zap.Error(err),
				)
				continue
			}

			if err := cl.handler(ctx, event); err != nil {
				cl.logger.Error("change event handler error",
					zap.String("record_id", event.RecordID),
					zap.String("type", string(event.Type)),
					zap.Error(err),
				)
			}
		}
	}
}

func changeEvent(kind firestore.DocumentChangeKind, docID string, decode func(any) error) (*models.ChangeEvent, error) {
	if kind == firestore.DocumentRemoved {
		return models.NewChangeEvent(models.EventDelete, docID, sourceName), nil
	}

	rec, err := decodeRecord(docID, decode)
	if err != nil {
		return nil, err
	}
	event := models.NewChangeEvent(models.EventUpsert, rec.ID, sourceName)
	event.Record = &rec
	return event, nil
}

func (s *Source) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := s.client.Collection(s.cfg.Collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty but reachable.
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.client.Close()
}
