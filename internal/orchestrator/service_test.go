package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ingest"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/selector"
	"segment-transcoder/internal/transcode"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor records jobs and answers with a fixed payload.
type fakeExecutor struct {
	mu   sync.Mutex
	jobs []transcode.Job
	err  error
}

func (e *fakeExecutor) Execute(_ context.Context, job transcode.Job) (media.SegmentResponse, error) {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	if e.err != nil {
		return media.SegmentResponse{}, e.err
	}
	start, end, eos := transcode.Window(job.Start, job.Duration, job.Source.Duration)
	if eos {
		return media.SegmentResponse{CorrelationID: job.CorrelationID, End: end, EndOfStream: true}, nil
	}
	return media.SegmentResponse{
		CorrelationID: job.CorrelationID,
		Payload:       []byte("segment"),
		End:           end,
		Duration:      end - start,
		EndOfStream:   end == job.Source.Duration,
	}, nil
}

type fakeIngester struct {
	repo catalog.Repository
}

func (f *fakeIngester) Ingest(ctx context.Context, req ingest.Request) (*media.SourceMetadata, error) {
	if req.Name == "" {
		return nil, media.ErrInvalidRequest
	}
	meta := &media.SourceMetadata{ID: media.VideoID("id-" + req.Name), Name: req.Name, Duration: time.Minute}
	return meta, f.repo.Create(ctx, meta)
}

func (f *fakeIngester) Upload(ctx context.Context, name string, r io.Reader) (*media.SourceMetadata, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return f.Ingest(ctx, ingest.Request{Name: name})
}

func seededRepo(t *testing.T) *catalog.InMemoryRepository {
	t.Helper()
	repo := catalog.NewInMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	videos := []*media.SourceMetadata{
		{ID: "v1", Name: "first", Width: 1920, Height: 1080, Bitrate: 6_000_000, Duration: 25 * time.Second, ThumbnailURL: "http://t/v1.png", CreatedAt: base},
		{ID: "v2", Name: "second", Width: 1280, Height: 720, Bitrate: 3_000_000, Duration: time.Minute, CreatedAt: base.Add(time.Second)},
	}
	for _, v := range videos {
		if err := repo.Create(ctx, v); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return repo
}

func TestService_Segment(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(seededRepo(t), exec, nil, discardLogger())

	profile := media.CapabilityProfile{DeviceClass: media.DeviceDesktop, Connection: media.Connection4G, LogicalCores: 8}
	resp, err := svc.Segment(context.Background(), media.SegmentRequest{VideoID: "v1", Start: 20 * time.Second, Profile: profile, CorrelationID: "c1"})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if resp.End != 25*time.Second || !resp.EndOfStream {
		t.Errorf("expected clamped final window, got end=%s eos=%v", resp.End, resp.EndOfStream)
	}
	if resp.CorrelationID != "c1" {
		t.Errorf("correlation id not echoed: %q", resp.CorrelationID)
	}

	if len(exec.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(exec.jobs))
	}
	job := exec.jobs[0]
	if job.Params.Resolution != selector.Res1080p || job.Params.VideoBitrate != 6_000_000 {
		t.Errorf("unexpected params: %+v", job.Params)
	}
	if job.Source.ID != "v1" {
		t.Errorf("unexpected source %q", job.Source.ID)
	}
}

func TestService_Segment_validation(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(seededRepo(t), exec, nil, discardLogger())

	bad := []media.SegmentRequest{
		{Start: 0},
		{VideoID: "v1", Start: -time.Second},
		{VideoID: "v1", Duration: -time.Second},
		{VideoID: "v1", Duration: 11 * time.Second},
	}
	for _, req := range bad {
		_, err := svc.Segment(context.Background(), req)
		if !errors.Is(err, media.ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
	if len(exec.jobs) != 0 {
		t.Errorf("invalid requests must not reach the executor")
	}
}

func TestService_Segment_unknownSource(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(seededRepo(t), exec, nil, discardLogger())

	_, err := svc.Segment(context.Background(), media.SegmentRequest{VideoID: "nope"})
	if media.KindOf(err) != media.KindUnknownSource {
		t.Errorf("expected UnknownSource, got %v", err)
	}
	if len(exec.jobs) != 0 {
		t.Errorf("unknown source must not reach the executor")
	}
}

func TestService_Thumbnails(t *testing.T) {
	svc := NewService(seededRepo(t), &fakeExecutor{}, nil, discardLogger())

	entries, err := svc.Thumbnails(context.Background())
	if err != nil {
		t.Fatalf("Thumbnails: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].VideoID != "v1" || entries[0].ThumbnailURL != "http://t/v1.png" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].VideoName != "second" || entries[1].ThumbnailURL != "" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestService_RegisterVideo(t *testing.T) {
	repo := seededRepo(t)
	svc := NewService(repo, &fakeExecutor{}, &fakeIngester{repo: repo}, discardLogger())

	meta, err := svc.RegisterVideo(context.Background(), ingest.Request{Name: "third"})
	if err != nil {
		t.Fatalf("RegisterVideo: %v", err)
	}
	if _, err := svc.Video(context.Background(), meta.ID); err != nil {
		t.Errorf("registered video not found: %v", err)
	}

	if _, err := svc.UploadVideo(context.Background(), "fourth", strings.NewReader("bytes")); err != nil {
		t.Errorf("UploadVideo: %v", err)
	}
	if n, _ := svc.VideoCount(context.Background()); n != 4 {
		t.Errorf("expected 4 videos, got %d", n)
	}
}

func TestService_RegisterVideo_disabled(t *testing.T) {
	svc := NewService(seededRepo(t), &fakeExecutor{}, nil, discardLogger())
	if _, err := svc.RegisterVideo(context.Background(), ingest.Request{Name: "x"}); !errors.Is(err, ErrIngestDisabled) {
		t.Errorf("expected ErrIngestDisabled, got %v", err)
	}
}
