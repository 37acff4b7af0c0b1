// Package thumbnail extracts a poster frame from a source video and stores a
// small PNG of it next to the catalog entry.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ffmpeg"
	"segment-transcoder/internal/media"
	"segment-transcoder/internal/storage"
)

const (
	Width  = 320
	Height = 180

	// DefaultOffset is where the frame is grabbed from unless the video is
	// shorter than twice this.
	DefaultOffset = time.Second

	frameFileName = "frame.png"
)

// FrameGrabber writes one frame of input at offset to outPath as an image.
type FrameGrabber interface {
	GrabFrame(ctx context.Context, input string, offset time.Duration, outPath string) error
}

// FFmpegGrabber grabs frames with the ffmpeg binary.
type FFmpegGrabber struct {
	ffmpegPath string
}

// NewFFmpegGrabber returns a grabber using ffmpegPath, or "ffmpeg" from PATH.
func NewFFmpegGrabber(ffmpegPath string) *FFmpegGrabber {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegGrabber{ffmpegPath: ffmpegPath}
}

// Command returns the ffmpeg invocation for one frame grab.
func (g *FFmpegGrabber) Command(input string, offset time.Duration, outPath string) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(g.ffmpegPath).
		HideBanner().
		Overwrite()
	if offset > 0 {
		b.Seek(offset)
	}
	return b.Input(input).
		Frames(1).
		Format("image2").
		Output(outPath).
		Build()
}

// GrabFrame implements FrameGrabber.
func (g *FFmpegGrabber) GrabFrame(ctx context.Context, input string, offset time.Duration, outPath string) error {
	return g.Command(input, offset, outPath).Run(ctx)
}

// Generator produces and stores thumbnails.
type Generator struct {
	grabber FrameGrabber
	store   *storage.BlobStore
	repo    catalog.Repository
	log     *slog.Logger
	timeout time.Duration
}

// NewGenerator returns a generator writing into store and recording the URL in repo.
func NewGenerator(grabber FrameGrabber, store *storage.BlobStore, repo catalog.Repository, log *slog.Logger) *Generator {
	return &Generator{grabber: grabber, store: store, repo: repo, log: log, timeout: 30 * time.Second}
}

// Generate grabs a frame of input, fits it into Width x Height, stores it as
// PNG and records its URL on the video. It returns the thumbnail URL.
func (g *Generator) Generate(ctx context.Context, meta *media.SourceMetadata, input string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "thumb-*")
	if err != nil {
		return "", fmt.Errorf("creating thumbnail dir: %w", err)
	}
	defer os.RemoveAll(dir)

	framePath := filepath.Join(dir, frameFileName)
	offset := Offset(meta.Duration)
	if err := g.grabber.GrabFrame(ctx, input, offset, framePath); err != nil {
		if offset == 0 {
			return "", fmt.Errorf("grabbing frame: %w", err)
		}
		g.log.Debug("frame grab failed, retrying from start", "video_id", meta.ID, "error", err)
		if err := g.grabber.GrabFrame(ctx, input, 0, framePath); err != nil {
			return "", fmt.Errorf("grabbing frame: %w", err)
		}
	}

	img, err := imaging.Open(framePath)
	if err != nil {
		return "", fmt.Errorf("decoding frame: %w", err)
	}
	thumb := imaging.Fit(img, Width, Height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}

	name := BlobName(meta.ID)
	if _, err := g.store.Put(name, &buf); err != nil {
		return "", err
	}
	url := g.store.URL(name)
	if err := g.repo.UpdateField(ctx, meta.ID, catalog.FieldThumbnailURL, url); err != nil {
		return "", fmt.Errorf("recording thumbnail: %w", err)
	}

	g.log.Info("thumbnail stored", "video_id", meta.ID, "url", url)
	return url, nil
}

// Offset picks the grab position for a video of duration d.
func Offset(d time.Duration) time.Duration {
	if d <= 0 || d < 2*DefaultOffset {
		return 0
	}
	return DefaultOffset
}

// BlobName is the stored thumbnail name for a video.
func BlobName(id media.VideoID) string {
	return string(id) + ".png"
}
