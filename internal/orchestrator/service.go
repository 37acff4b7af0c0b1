package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ingest"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/selector"
	"segment-transcoder/internal/transcode"
)

// SegmentExecutor runs one selected segment job.
type SegmentExecutor interface {
	Execute(ctx context.Context, job transcode.Job) (media.SegmentResponse, error)
}

// Ingester registers source blobs.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*media.SourceMetadata, error)
	Upload(ctx context.Context, name string, r io.Reader) (*media.SourceMetadata, error)
}

// Service answers segment, thumbnail and video requests. It looks up the
// source, selects encode parameters and delegates the encode to the executor.
type Service struct {
	repo     catalog.Repository
	executor SegmentExecutor
	ingester Ingester
	log      *slog.Logger
}

// NewService returns a Service. ingester may be nil to disable registration.
func NewService(repo catalog.Repository, executor SegmentExecutor, ingester Ingester, log *slog.Logger) *Service {
	return &Service{repo: repo, executor: executor, ingester: ingester, log: log}
}

// Segment produces the segment for req.
func (s *Service) Segment(ctx context.Context, req media.SegmentRequest) (media.SegmentResponse, error) {
	if err := validate(req); err != nil {
		return media.SegmentResponse{}, err
	}

	src, err := s.repo.Get(ctx, req.VideoID)
	if err != nil {
		return media.SegmentResponse{}, err
	}

	params, err := selector.Select(req.Profile, src)
	if err != nil {
		return media.SegmentResponse{}, err
	}
	s.log.Debug("encode parameters selected",
		slog.String("correlation_id", req.CorrelationID),
		slog.String("video_id", string(req.VideoID)),
		slog.String("profile", req.Profile.String()),
		slog.String("resolution", params.Resolution.String()),
		slog.String("codec", params.VideoCodec),
		slog.Int("crf", params.CRF),
		slog.Int64("bitrate", params.VideoBitrate),
	)

	return s.executor.Execute(ctx, transcode.Job{
		Source:        src,
		Params:        params,
		Start:         req.Start,
		Duration:      req.Duration,
		CorrelationID: req.CorrelationID,
	})
}

func validate(req media.SegmentRequest) error {
	switch {
	case req.VideoID == "":
		return fmt.Errorf("%w: videoId is required", media.ErrInvalidRequest)
	case req.Start < 0:
		return fmt.Errorf("%w: startTimestamp must not be negative", media.ErrInvalidRequest)
	case req.Duration < 0:
		return fmt.Errorf("%w: duration must not be negative", media.ErrInvalidRequest)
	case req.Duration > media.MaxSegmentDuration:
		return fmt.Errorf("%w: duration exceeds %s", media.ErrInvalidRequest, media.MaxSegmentDuration)
	}
	return nil
}

// Thumbnails lists every video in creation order with its thumbnail URL,
// which is empty while none has been generated.
func (s *Service) Thumbnails(ctx context.Context) ([]media.ThumbnailEntry, error) {
	videos, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]media.ThumbnailEntry, 0, len(videos))
	for _, v := range videos {
		out = append(out, media.ThumbnailEntry{VideoID: v.ID, VideoName: v.Name, ThumbnailURL: v.ThumbnailURL})
	}
	return out, nil
}

// Video returns the metadata of one video.
func (s *Service) Video(ctx context.Context, id media.VideoID) (*media.SourceMetadata, error) {
	return s.repo.Get(ctx, id)
}

// RegisterVideo registers a blob that is already in storage.
func (s *Service) RegisterVideo(ctx context.Context, req ingest.Request) (*media.SourceMetadata, error) {
	if s.ingester == nil {
		return nil, ErrIngestDisabled
	}
	return s.ingester.Ingest(ctx, req)
}

// UploadVideo stores r as a new blob and registers it.
func (s *Service) UploadVideo(ctx context.Context, name string, r io.Reader) (*media.SourceMetadata, error) {
	if s.ingester == nil {
		return nil, ErrIngestDisabled
	}
	return s.ingester.Upload(ctx, name, r)
}

// VideoCount reports the catalog size for the metrics gauge.
func (s *Service) VideoCount(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
