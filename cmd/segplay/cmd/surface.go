package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"segment-transcoder/internal/media"
)

// playbackReporter receives surface events. *playback.Controller satisfies it.
type playbackReporter interface {
	Progress(pos time.Duration)
	SegmentEnded()
}

// fileSurface writes every loaded segment to a directory and simulates its
// playback in wall-clock time divided by speed.
type fileSurface struct {
	ctx      context.Context
	dir      string
	speed    float64
	interval time.Duration
	log      *slog.Logger
	reporter playbackReporter

	mu     sync.Mutex
	seq    int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newFileSurface(ctx context.Context, dir string, speed float64, log *slog.Logger) (*fileSurface, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if speed <= 0 {
		speed = 1
	}
	return &fileSurface{ctx: ctx, dir: dir, speed: speed, interval: time.Second, log: log}, nil
}

// Load stores seg and starts playing it, replacing whatever was playing.
func (s *fileSurface) Load(seg media.SegmentResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	name := fmt.Sprintf("%05d_%08d-%08d.mp4", s.seq, seg.Start().Milliseconds(), seg.End.Milliseconds())
	if err := os.WriteFile(filepath.Join(s.dir, name), seg.Payload, 0o644); err != nil {
		s.log.Error("writing segment", "file", name, "error", err)
	} else {
		s.log.Info("segment loaded",
			slog.String("file", name),
			slog.Duration("start", seg.Start()),
			slog.Duration("end", seg.End),
			slog.Int("bytes", len(seg.Payload)),
			slog.Bool("end_of_stream", seg.EndOfStream))
	}

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.play(ctx, seg)
	}()
}

func (s *fileSurface) SetBuffering(buffering bool) {
	if buffering {
		s.log.Info("buffering")
	}
}

// Wait stops the current playback and waits for it to exit.
func (s *fileSurface) Wait() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *fileSurface) play(ctx context.Context, seg media.SegmentResponse) {
	start := seg.Start()
	step := time.Duration(float64(s.interval) / s.speed)
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for pos := start; pos < seg.End; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pos = min(pos+s.interval, seg.End)
		s.reporter.Progress(pos)
	}
	select {
	case <-ctx.Done():
	default:
		s.reporter.SegmentEnded()
	}
}
