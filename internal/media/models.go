package media

import (
	"fmt"
	"math"
	"time"
)

// VideoID uniquely identifies an ingested source video.
type VideoID string

// Resolution is a frame size in pixels. The zero value means unknown.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the resolution is unknown.
func (r Resolution) IsZero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Fits reports whether r is no larger than other in both dimensions.
func (r Resolution) Fits(other Resolution) bool {
	return r.Width <= other.Width && r.Height <= other.Height
}

func (r Resolution) String() string {
	if r.IsZero() {
		return "Unknown"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// SourceMetadata describes one ingested video. Everything except AccessToken
// and ThumbnailURL is fixed at ingestion.
type SourceMetadata struct {
	ID           VideoID       `json:"videoId"`
	Name         string        `json:"videoName"`
	Location     string        `json:"location"`
	AccessToken  string        `json:"-"`
	Format       string        `json:"format"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Bitrate      int64         `json:"bitrate"` // bits per second
	Duration     time.Duration `json:"-"`
	Size         int64         `json:"size"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Resolution returns the source frame size.
func (m *SourceMetadata) Resolution() Resolution {
	return Resolution{Width: m.Width, Height: m.Height}
}

// EncodeParameters is the resolved encode configuration for one segment.
type EncodeParameters struct {
	Resolution   Resolution `json:"resolution"`
	VideoCodec   string     `json:"videoCodec"`
	CRF          int        `json:"crf"`
	VideoBitrate int64      `json:"videoBitrate"`
	AudioCodec   string     `json:"audioCodec"`
	AudioBitrate string     `json:"audioBitrate"`
	Container    string     `json:"container"`
}

// Key returns a stable string used to coalesce identical encode work.
func (p EncodeParameters) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s",
		p.Resolution, p.VideoCodec, p.CRF, p.VideoBitrate, p.AudioCodec, p.AudioBitrate, p.Container)
}

const (
	// DefaultSegmentDuration is used when a request omits its duration.
	DefaultSegmentDuration = 10 * time.Second
	// MaxSegmentDuration bounds a single requested window.
	MaxSegmentDuration = 10 * time.Second
)

// SegmentRequest asks for one encoded window of a source video.
type SegmentRequest struct {
	VideoID       VideoID
	Start         time.Duration
	Duration      time.Duration
	CorrelationID string
	Profile       CapabilityProfile
}

// SegmentResponse carries one encoded window back to the client.
type SegmentResponse struct {
	CorrelationID string
	Payload       []byte
	End           time.Duration
	Duration      time.Duration
	EndOfStream   bool
}

// Start returns the timeline position the segment begins at.
func (r SegmentResponse) Start() time.Duration {
	return r.End - r.Duration
}

// Seconds converts a timeline position to wire seconds.
func Seconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// FromSeconds converts wire seconds to a timeline position, rounded to the
// millisecond so that Seconds(FromSeconds(x)) round-trips exactly. Values
// outside the time.Duration range saturate; NaN is treated as zero.
func FromSeconds(s float64) time.Duration {
	ms := math.Round(s * 1000)
	switch {
	case math.IsNaN(ms):
		return 0
	case ms >= float64(maxMillis):
		return time.Duration(math.MaxInt64)
	case ms <= -float64(maxMillis):
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ms) * time.Millisecond
}
