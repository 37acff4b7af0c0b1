// Package capability builds the client capability profile sent with every
// segment request.
package capability

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"

	"segment-transcoder/internal/media"
)

// Environment is a snapshot of host signals. Empty fields are unavailable.
type Environment struct {
	UserAgent     string
	Screen        string // "1920x1080"
	Viewport      string
	EffectiveType string // Network Information API effective type
	DownlinkMbps  float64
	Embedded      *bool
	ModernCodec   bool
	LogicalCores  int // 0 probes the host
}

// CoreCounter reports the number of logical cores.
type CoreCounter func(ctx context.Context) (int, error)

// Builder assembles profiles. It never fails and makes no network calls.
type Builder struct {
	cores CoreCounter
	log   *slog.Logger
}

// NewBuilder returns a Builder that probes the host core count with gopsutil.
func NewBuilder(log *slog.Logger) *Builder {
	return &Builder{cores: HostCores, log: log}
}

// WithCoreCounter replaces the core probe.
func (b *Builder) WithCoreCounter(c CoreCounter) *Builder {
	b.cores = c
	return b
}

// Build converts env into a normalized profile.
func (b *Builder) Build(ctx context.Context, env Environment) media.CapabilityProfile {
	p := media.CapabilityProfile{
		DeviceClass:         DeviceClassFromUserAgent(env.UserAgent),
		Screen:              media.ParseResolution(env.Screen),
		Viewport:            media.ParseResolution(env.Viewport),
		Connection:          media.ParseConnectionClass(env.EffectiveType),
		BandwidthMbps:       env.DownlinkMbps,
		LogicalCores:        env.LogicalCores,
		Playback:            media.PlaybackUnknown,
		SupportsModernCodec: env.ModernCodec,
		UserAgent:           env.UserAgent,
	}
	if env.Embedded != nil {
		p.Playback = media.PlaybackDirect
		if *env.Embedded {
			p.Playback = media.PlaybackEmbedded
		}
	}
	if p.LogicalCores <= 0 && b.cores != nil {
		if n, err := b.cores(ctx); err == nil {
			p.LogicalCores = n
		} else {
			b.log.Debug("core count unavailable", slog.String("error", err.Error()))
		}
	}

	p = p.Normalize()
	b.log.Debug("capability profile built", slog.String("profile", p.String()))
	return p
}

// DeviceClassFromUserAgent classifies a user agent string. Tablets are
// checked first because iPad agents also advertise "Mobile".
func DeviceClassFromUserAgent(ua string) media.DeviceClass {
	ua = strings.ToLower(strings.TrimSpace(ua))
	switch {
	case ua == "":
		return media.DeviceUnknown
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return media.DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"):
		return media.DeviceMobile
	default:
		return media.DeviceDesktop
	}
}

// HostCores returns the logical core count, falling back to the Go runtime.
func HostCores(ctx context.Context) (int, error) {
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		return n, nil
	}
	return runtime.NumCPU(), nil
}
