package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/platform/metrics"
)

// DefaultRefreshSchedule runs the token refresh once a day.
const DefaultRefreshSchedule = "@daily"

// Refresher periodically renews access tokens for every cataloged video.
type Refresher struct {
	mu sync.Mutex

	repo     catalog.Repository
	resolver *Resolver
	schedule string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher validates schedule and returns an idle refresher. An empty
// schedule selects DefaultRefreshSchedule.
func NewRefresher(repo catalog.Repository, resolver *Resolver, schedule string, m *metrics.Metrics) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return &Refresher{
		repo:     repo,
		resolver: resolver,
		schedule: schedule,
		logger:   slog.Default(),
		metrics:  m,
	}, nil
}

// WithLogger sets the logger for the refresher.
func (r *Refresher) WithLogger(logger *slog.Logger) *Refresher {
	r.logger = logger
	return r
}

// RefreshAll reissues the token of every video and returns how many were
// renewed. A failure on one video does not stop the
// others; the errors are joined.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	videos, err := r.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing videos: %w", err)
	}

	var (
		refreshed int
		errs      []error
	)
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := r.resolver.Reissue(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("video %s: %w", v.ID, err))
			continue
		}
		refreshed++
	}

	if r.metrics != nil {
		r.metrics.AddTokensRefreshed(refreshed)
	}
	return refreshed, errors.Join(errs...)
}

// Start schedules RefreshAll until ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("refresher already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.run); err != nil {
		r.cancel()
		r.ctx, r.cancel = nil, nil
		return fmt.Errorf("scheduling token refresh: %w", err)
	}
	r.cron = c
	c.Start()

	runCtx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-runCtx.Done()
		<-c.Stop().Done()
	}()

	r.logger.Info("token refresher started", slog.String("schedule", r.schedule))
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx, r.cancel, r.cron = nil, nil, nil
	r.mu.Unlock()

	r.logger.Info("token refresher stopped")
}

func (r *Refresher) run() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		return
	}

	n, err := r.RefreshAll(ctx)
	if err != nil {
		r.logger.Error("token refresh finished with errors",
			slog.Int("refreshed", n),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("token refresh finished", slog.Int("refreshed", n))
}
