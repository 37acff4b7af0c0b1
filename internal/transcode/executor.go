// Package transcode produces encoded segments on demand. Engine runs are
// bounded by a concurrency limiter and a hard timeout, and identical
// concurrent jobs share one run.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/metrics"
)

const (
	DefaultMaxConcurrent = 4
	DefaultMaxWait       = 5 * time.Second
	DefaultTimeout       = 60 * time.Second
)

// Locator resolves a readable URL, token included, for a source. It is
// called for every job so that refreshed tokens are picked up.
type Locator interface {
	ResolveReadableURL(ctx context.Context, id media.VideoID) (string, error)
}

// Config holds executor limits. Zero values select the defaults.
type Config struct {
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	ScratchDir    string
}

// Job is one segment request after parameter selection.
type Job struct {
	Source        *media.SourceMetadata
	Params        media.EncodeParameters
	Start         time.Duration
	Duration      time.Duration
	CorrelationID string
}

// Executor runs segment jobs against an Engine.
type Executor struct {
	engine     Engine
	locator    Locator
	limiter    *Limiter
	timeout    time.Duration
	scratchDir string
	log        *slog.Logger
	metrics    *metrics.Metrics
	group      singleflight.Group
}

// NewExecutor returns an Executor. Metrics may be nil.
func NewExecutor(engine Engine, locator Locator, cfg Config, log *slog.Logger, m *metrics.Metrics) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{
		engine:     engine,
		locator:    locator,
		limiter:    NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		timeout:    cfg.Timeout,
		scratchDir: cfg.ScratchDir,
		log:        log,
		metrics:    m,
	}
}

// Window clamps a requested window to the source timeline. It returns the
// clamped start, the end, and whether the request lies at or past the end.
func Window(start, duration, sourceDuration time.Duration) (time.Duration, time.Duration, bool) {
	if start < 0 {
		start = 0
	}
	if duration <= 0 {
		duration = media.DefaultSegmentDuration
	}
	if duration > media.MaxSegmentDuration {
		duration = media.MaxSegmentDuration
	}
	if start >= sourceDuration {
		return sourceDuration, sourceDuration, true
	}
	return start, min(start+duration, sourceDuration), false
}

// Execute produces the segment for job. A start at or past the end of the
// source yields an empty end-of-stream response without running the engine.
func (e *Executor) Execute(ctx context.Context, job Job) (media.SegmentResponse, error) {
	if job.Source == nil || job.Source.ID == "" {
		return media.SegmentResponse{}, fmt.Errorf("execute: %w", media.ErrUnknownSource)
	}

	start, end, eos := Window(job.Start, job.Duration, job.Source.Duration)
	if eos {
		if e.metrics != nil {
			e.metrics.IncEndOfStream()
		}
		return media.SegmentResponse{
			CorrelationID: job.CorrelationID,
			End:           end,
			EndOfStream:   true,
		}, nil
	}

	key := fmt.Sprintf("%s|%d|%d|%s", job.Source.ID, start.Milliseconds(), end.Milliseconds(), job.Params.Key())
	// The shared run outlives any single caller; the engine timeout bounds it.
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		return e.run(detached, job.Source.ID, job.Params, start, end-start)
	})

	select {
	case <-ctx.Done():
		return media.SegmentResponse{}, ctx.Err()
	case res := <-ch:
		if res.Shared && e.metrics != nil {
			e.metrics.IncCoalesced()
		}
		if res.Err != nil {
			e.recordFailure(job, start, res.Err)
			return media.SegmentResponse{}, res.Err
		}
		return media.SegmentResponse{
			CorrelationID: job.CorrelationID,
			Payload:       res.Val.([]byte),
			End:           end,
			Duration:      end - start,
			EndOfStream:   end == job.Source.Duration,
		}, nil
	}
}

func (e *Executor) run(ctx context.Context, id media.VideoID, params media.EncodeParameters, start, duration time.Duration) ([]byte, error) {
	input, err := e.locator.ResolveReadableURL(ctx, id)
	if err != nil {
		if errors.Is(err, media.ErrUnknownSource) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve source %s: %w", id, err)
	}

	release, err := e.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	workDir, err := os.MkdirTemp(e.scratchDir, "segment-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	began := time.Now()
	if e.metrics != nil {
		e.metrics.TranscodeStarted()
	}
	payload, err := e.engine.Transcode(runCtx, EngineJob{
		Input:    input,
		Params:   params,
		Start:    start,
		Duration: duration,
		WorkDir:  workDir,
	})
	elapsed := time.Since(began)
	if e.metrics != nil {
		e.metrics.TranscodeFinished(elapsed)
	}

	if err != nil {
		var te *media.TranscodeError
		if !errors.As(err, &te) {
			te = &media.TranscodeError{Err: err}
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && te.Diagnostic == "" {
			te.Diagnostic = fmt.Sprintf("engine timed out after %s", e.timeout)
		}
		return nil, te
	}
	if len(payload) == 0 {
		return nil, &media.TranscodeError{Diagnostic: "engine produced no output"}
	}

	if e.metrics != nil {
		e.metrics.IncSegmentsTranscoded()
	}
	e.log.Debug("segment transcoded",
		slog.String("video_id", string(id)),
		slog.Int64("start_ms", start.Milliseconds()),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.String("codec", params.VideoCodec),
		slog.String("resolution", params.Resolution.String()),
		slog.Int("bytes", len(payload)),
		slog.Duration("elapsed", elapsed))
	return payload, nil
}

func (e *Executor) recordFailure(job Job, start time.Duration, err error) {
	kind := media.KindOf(err)
	// Unknown sources are counted where the request is answered.
	if e.metrics != nil && kind != media.KindUnknownSource {
		e.metrics.IncFailure(string(kind))
	}
	attrs := []any{
		slog.String("video_id", string(job.Source.ID)),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int64("start_ms", start.Milliseconds()),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	}
	if kind == media.KindOverloaded {
		e.log.Warn("segment rejected", attrs...)
		return
	}
	e.log.Error("segment failed", attrs...)
}
