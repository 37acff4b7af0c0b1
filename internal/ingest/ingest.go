// Package ingest registers source blobs in the catalog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ffmpeg"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/metrics"
	"segment-transcoder/internal/storage"
)

// ErrBlobNotFound is returned when the named blob is not in the store.
var ErrBlobNotFound = fmt.Errorf("%w: blob not found", media.ErrInvalidRequest)

// Prober reads container and stream facts from a readable URL.
type Prober interface {
	ProbeSource(ctx context.Context, url string) (ffmpeg.SourceInfo, error)
}

// Thumbnailer stores a poster image for a video and returns its URL.
type Thumbnailer interface {
	Generate(ctx context.Context, meta *media.SourceMetadata, input string) (string, error)
}

// Request names a stored blob to register. Blob defaults to Name.
type Request struct {
	Name string `json:"name"`
	Blob string `json:"blob,omitempty"`
}

// Service probes blobs and creates catalog records for them.
type Service struct {
	repo    catalog.Repository
	store   *storage.BlobStore
	issuer  *storage.Issuer
	prober  Prober
	thumbs  Thumbnailer
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService returns an ingest service. thumbs and m may be nil.
func NewService(repo catalog.Repository, store *storage.BlobStore, issuer *storage.Issuer, prober Prober, thumbs Thumbnailer, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		store:   store,
		issuer:  issuer,
		prober:  prober,
		thumbs:  thumbs,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Upload stores r as blob name and registers it.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*media.SourceMetadata, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", media.ErrInvalidRequest)
	}
	if _, err := s.store.Put(name, r); err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %v", media.ErrInvalidRequest, err)
		}
		return nil, err
	}
	return s.Ingest(ctx, Request{Name: name, Blob: name})
}

// Ingest probes an existing blob and creates its catalog record. The
// thumbnail is best effort and its failure does not fail the ingest.
func (s *Service) Ingest(ctx context.Context, req Request) (*media.SourceMetadata, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", media.ErrInvalidRequest)
	}
	blob := req.Blob
	if blob == "" {
		blob = name
	}
	if !s.store.Exists(blob) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, blob)
	}

	location := s.store.URL(blob)
	token, _, err := s.issuer.Issue(blob)
	if err != nil {
		return nil, err
	}
	readable, err := storage.SignedURL(location, token)
	if err != nil {
		return nil, err
	}

	info, err := s.prober.ProbeSource(ctx, readable)
	if err != nil {
		return nil, fmt.Errorf("%w: probing %s: %v", media.ErrInvalidRequest, blob, err)
	}
	if info.Duration <= 0 {
		return nil, fmt.Errorf("%w: %s has no duration", media.ErrInvalidRequest, blob)
	}

	meta := &media.SourceMetadata{
		ID:          media.VideoID(uuid.NewString()),
		Name:        name,
		Location:    location,
		AccessToken: token,
		Format:      info.Format,
		Width:       info.Width,
		Height:      info.Height,
		Bitrate:     info.Bitrate,
		Duration:    info.Duration,
		Size:        info.Size,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, meta); err != nil {
		return nil, fmt.Errorf("creating video: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncVideosIngested()
	}
	s.log.Info("video ingested",
		slog.String("video_id", string(meta.ID)),
		slog.String("name", name),
		slog.String("resolution", meta.Resolution().String()),
		slog.Int64("bitrate", meta.Bitrate),
		slog.Duration("duration", meta.Duration),
	)

	if s.thumbs != nil {
		url, err := s.thumbs.Generate(ctx, meta, readable)
		if err != nil {
			s.log.Warn("thumbnail generation failed", "video_id", meta.ID, "error", err)
		} else {
			meta.ThumbnailURL = url
		}
	}
	return meta, nil
}
