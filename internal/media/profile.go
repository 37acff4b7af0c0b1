package media

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceClass is the coarse client form factor.
type DeviceClass string

const (
	DeviceUnknown DeviceClass = "Unknown"
	DeviceMobile  DeviceClass = "Mobile"
	DeviceTablet  DeviceClass = "Tablet"
	DeviceDesktop DeviceClass = "Desktop"
)

// ParseDeviceClass accepts any casing and maps unrecognised input to DeviceUnknown.
func ParseDeviceClass(s string) DeviceClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mobile":
		return DeviceMobile
	case "tablet":
		return DeviceTablet
	case "desktop":
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// ConnectionClass mirrors the Network Information API effective types.
type ConnectionClass string

const (
	ConnectionUnknown ConnectionClass = "Unknown"
	Connection4G      ConnectionClass = "4g"
	Connection3G      ConnectionClass = "3g"
	Connection2G      ConnectionClass = "2g"
	ConnectionSlow2G  ConnectionClass = "slow-2g"
)

// ParseConnectionClass maps an effective type string to a ConnectionClass.
func ParseConnectionClass(s string) ConnectionClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "4g":
		return Connection4G
	case "3g":
		return Connection3G
	case "2g":
		return Connection2G
	case "slow-2g", "slow2g":
		return ConnectionSlow2G
	default:
		return ConnectionUnknown
	}
}

// PlaybackContext tells whether the player runs top-level or inside a frame.
type PlaybackContext string

const (
	PlaybackUnknown  PlaybackContext = "Unknown"
	PlaybackDirect   PlaybackContext = "Direct"
	PlaybackEmbedded PlaybackContext = "Embedded"
)

// CapabilityProfile is a snapshot of client device and network signals.
// Zero values mean the signal was unavailable.
type CapabilityProfile struct {
	DeviceClass         DeviceClass     `json:"deviceType"`
	Screen              Resolution      `json:"screenResolution"`
	Viewport            Resolution      `json:"windowResolution"`
	Connection          ConnectionClass `json:"connectionSpeed"`
	BandwidthMbps       float64         `json:"bandwidth"`
	LogicalCores        int             `json:"deviceProcessingPower"`
	Playback            PlaybackContext `json:"playbackEnvironment"`
	SupportsModernCodec bool            `json:"supportsModernCodec"`
	UserAgent           string          `json:"browserInfo,omitempty"`
}

// Normalize replaces empty enumerations with their Unknown values.
func (p CapabilityProfile) Normalize() CapabilityProfile {
	p.DeviceClass = ParseDeviceClass(string(p.DeviceClass))
	p.Connection = ParseConnectionClass(string(p.Connection))
	switch p.Playback {
	case PlaybackDirect, PlaybackEmbedded:
	default:
		p.Playback = PlaybackUnknown
	}
	if p.LogicalCores < 0 {
		p.LogicalCores = 0
	}
	if p.BandwidthMbps < 0 {
		p.BandwidthMbps = 0
	}
	return p
}

func (p CapabilityProfile) String() string {
	cores := "N/A"
	if p.LogicalCores > 0 {
		cores = strconv.Itoa(p.LogicalCores)
	}
	bw := "Unknown"
	if p.BandwidthMbps > 0 {
		bw = strconv.FormatFloat(p.BandwidthMbps, 'f', 1, 64) + "Mbps"
	}
	return fmt.Sprintf("device=%s screen=%s viewport=%s conn=%s bw=%s cores=%s playback=%s",
		p.DeviceClass, p.Screen, p.Viewport, p.Connection, bw, cores, p.Playback)
}

// ParseResolution parses "WIDTHxHEIGHT". Malformed input yields the zero value.
func ParseResolution(s string) Resolution {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return Resolution{}
	}
	return Resolution{Width: width, Height: height}
}
