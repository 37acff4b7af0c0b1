package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ffmpeg"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/platform/metrics"
	"segment-transcoder/internal/storage"
)

type fakeProber struct {
	info ffmpeg.SourceInfo
	err  error
	urls []string
}

func (p *fakeProber) ProbeSource(_ context.Context, u string) (ffmpeg.SourceInfo, error) {
	p.urls = append(p.urls, u)
	return p.info, p.err
}

type fakeThumbs struct {
	err error
}

func (f *fakeThumbs) Generate(_ context.Context, meta *media.SourceMetadata, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://localhost/thumbnails/" + string(meta.ID) + ".png", nil
}

type fixture struct {
	svc    *Service
	repo   *catalog.InMemoryRepository
	store  *storage.BlobStore
	issuer *storage.Issuer
	prober *fakeProber
	thumbs *fakeThumbs
	m      *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBlobStore(t.TempDir(), "http://localhost/blobs")
	require.NoError(t, err)
	issuer, err := storage.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)
	f := &fixture{
		repo:   catalog.NewInMemoryRepository(),
		store:  store,
		issuer: issuer,
		prober: &fakeProber{info: ffmpeg.SourceInfo{
			Format: "mov,mp4,m4a,3gp,3g2,mj2", Width: 1920, Height: 1080,
			Bitrate: 6_000_000, Duration: 95 * time.Second, Size: 71_000_000,
		}},
		thumbs: &fakeThumbs{},
		m:      metrics.New(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, store, issuer, f.prober, f.thumbs, log, f.m)
	return f
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put("clip.mp4", strings.NewReader("data"))
	require.NoError(t, err)

	meta, err := f.svc.Ingest(context.Background(), Request{Name: "Holiday", Blob: "clip.mp4"})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "Holiday", meta.Name)
	assert.Equal(t, "http://localhost/blobs/clip.mp4", meta.Location)
	assert.Equal(t, 95*time.Second, meta.Duration)
	assert.Equal(t, int64(6_000_000), meta.Bitrate)
	assert.NoError(t, f.issuer.Verify(meta.AccessToken, "clip.mp4"))
	assert.Contains(t, meta.ThumbnailURL, string(meta.ID))

	require.Len(t, f.prober.urls, 1)
	u, err := url.Parse(f.prober.urls[0])
	require.NoError(t, err)
	assert.Equal(t, meta.AccessToken, u.Query().Get(storage.SignatureParam))

	stored, err := f.repo.Get(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.Location, stored.Location)
	require.NoError(t, testutil.GatherAndCompare(f.m.Registry(), strings.NewReader(ingestedOnce), "segtx_videos_ingested_total"))
}

const ingestedOnce = `
# HELP segtx_videos_ingested_total Total number of source videos registered
# TYPE segtx_videos_ingested_total counter
segtx_videos_ingested_total 1
`

func TestIngest_nameDefaultsBlob(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put("clip.mp4", strings.NewReader("data"))
	require.NoError(t, err)

	meta, err := f.svc.Ingest(context.Background(), Request{Name: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/blobs/clip.mp4", meta.Location)
}

func TestIngest_rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, Request{Name: "  "})
	assert.ErrorIs(t, err, media.ErrInvalidRequest)

	_, err = f.svc.Ingest(ctx, Request{Name: "missing.mp4"})
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.Equal(t, media.KindInvalidRequest, media.KindOf(err))

	_, err = f.store.Put("broken.mp4", strings.NewReader("junk"))
	require.NoError(t, err)
	f.prober.err = errors.New("Invalid data found when processing input")
	_, err = f.svc.Ingest(ctx, Request{Name: "broken.mp4"})
	assert.ErrorIs(t, err, media.ErrInvalidRequest)

	f.prober.err = nil
	f.prober.info.Duration = 0
	_, err = f.svc.Ingest(ctx, Request{Name: "broken.mp4"})
	assert.ErrorIs(t, err, media.ErrInvalidRequest)

	n, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_thumbnailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.thumbs.err = errors.New("no frames")
	_, err := f.store.Put("clip.mp4", strings.NewReader("data"))
	require.NoError(t, err)

	meta, err := f.svc.Ingest(context.Background(), Request{Name: "clip.mp4"})
	require.NoError(t, err)
	assert.Empty(t, meta.ThumbnailURL)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	meta, err := f.svc.Upload(context.Background(), "upload.mp4", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.True(t, f.store.Exists("upload.mp4"))
	assert.Equal(t, "upload.mp4", meta.Name)

	_, err = f.svc.Upload(context.Background(), "../escape.mp4", strings.NewReader("bytes"))
	assert.ErrorIs(t, err, media.ErrInvalidRequest)
}
