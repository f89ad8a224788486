// Package refresh periodically reloads the in-memory catalog from a remote
// source.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/observability"
)

var ErrEmptySource = errors.New("source returned no records")

// Refresher wraps robfig/cron and swaps a fresh snapshot into the store on
// every tick. A failed fetch keeps the current snapshot.
type Refresher struct {
	cron     *cron.Cron
	source   catalog.Source
	store    *catalog.Store
	schedule string
	timeout  time.Duration
	logger   *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func New(source catalog.Source, store *catalog.Store, schedule string, timeout time.Duration, logger *zap.Logger) *Refresher {
	cl := cronLogger{logger.Sugar()}
	return &Refresher{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		source:   source,
		store:    store,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start registers the job and starts the scheduler. One refresh also runs
// immediately so the store is populated without waiting for the first tick.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		r.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering refresh schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info("catalog refresher started", zap.String("schedule", r.schedule))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	return nil
}

// Stop waits for running refreshes to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.logger.Info("catalog refresher stopped")
}

func (r *Refresher) run(ctx context.Context) {
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("catalog refresh failed", zap.Error(err))
	}
}

// RunOnce fetches the whole catalog and replaces the store's snapshot.
func (r *Refresher) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := r.source.AllRecords(ctx)
	if err == nil && len(records) == 0 {
		err = ErrEmptySource
	}
	if err == nil {
		err = r.store.Replace(records)
	}
	if err != nil {
		observability.RefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refreshing catalog: %w", err)
	}

	observability.RefreshTotal.WithLabelValues("success").Inc()
	observability.SnapshotRecords.Set(float64(r.store.Len()))
	observability.SnapshotVersion.Set(float64(r.store.Version()))

	r.logger.Info("catalog refreshed",
		zap.Int("records", len(records)),
		zap.Uint64("version", r.store.Version()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
