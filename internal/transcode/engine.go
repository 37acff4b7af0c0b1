package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"segment-transcoder/internal/ffmpeg"
	"segment-transcoder/internal/media"
)

// EngineJob is one encode invocation. WorkDir is private to the invocation.
type EngineJob struct {
	Input    string
	Params   media.EncodeParameters
	Start    time.Duration
	Duration time.Duration
	WorkDir  string
}

// Engine encodes a window of a source into a self-contained segment.
type Engine interface {
	Transcode(ctx context.Context, job EngineJob) ([]byte, error)
}

const segmentFileName = "segment.mp4"

// FFmpegEngine runs the ffmpeg binary.
type FFmpegEngine struct {
	ffmpegPath string
}

// NewFFmpegEngine returns an engine that shells out to ffmpegPath.
func NewFFmpegEngine(ffmpegPath string) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath}
}

// Command builds the ffmpeg invocation for job.
func (e *FFmpegEngine) Command(job EngineJob) *ffmpeg.Command {
	p := job.Params
	b := ffmpeg.NewCommandBuilder(e.ffmpegPath).
		HideBanner().
		Overwrite().
		Seek(job.Start).
		Duration(job.Duration).
		Input(job.Input).
		Scale(p.Resolution.Width, p.Resolution.Height).
		VideoCodec(p.VideoCodec)
	if p.CRF > 0 {
		b.CRF(p.CRF)
	}
	if p.VideoBitrate > 0 {
		b.MaxRate(p.VideoBitrate)
	}
	return b.AudioCodec(p.AudioCodec).
		AudioBitrate(p.AudioBitrate).
		FragmentedMP4().
		Output(filepath.Join(job.WorkDir, segmentFileName)).
		Build()
}

// Transcode runs ffmpeg and reads the finished segment from the work dir.
func (e *FFmpegEngine) Transcode(ctx context.Context, job EngineJob) ([]byte, error) {
	cmd := e.Command(job)
	if err := cmd.Run(ctx); err != nil {
		var runErr *ffmpeg.RunError
		if errors.As(err, &runErr) {
			return nil, &media.TranscodeError{Diagnostic: runErr.Stderr, Err: runErr.Err}
		}
		return nil, &media.TranscodeError{Err: err}
	}

	payload, err := os.ReadFile(cmd.Output)
	if err != nil {
		return nil, &media.TranscodeError{Err: fmt.Errorf("read output: %w", err)}
	}
	return payload, nil
}
