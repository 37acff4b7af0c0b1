// Package selector maps a client capability profile and source metadata to
// concrete encode parameters. Every decision is a table lookup with an
// explicit default row so that all tier combinations can be enumerated.
package selector

import (
	"fmt"

	"segment-transcoder/internal/media"
)

const (
	CodecH264 = "libx264"
	CodecHEVC = "libx265"

	AudioCodec   = "aac"
	AudioBitrate = "192k"
	ContainerMP4 = "mp4"
	DefaultCRF   = 28
)

var (
	Res1080p = media.Resolution{Width: 1920, Height: 1080}
	Res720p  = media.Resolution{Width: 1280, Height: 720}
	Res480p  = media.Resolution{Width: 854, Height: 480}
	Res360p  = media.Resolution{Width: 640, Height: 360}
)

// Ladder lists the supported output resolutions, largest first.
var Ladder = []media.Resolution{Res1080p, Res720p, Res480p, Res360p}

type ladderKey struct {
	device media.DeviceClass
	conn   media.ConnectionClass
}

// resolutionTable is keyed by device class then connection class. Any
// combination not listed falls back to the most conservative rung.
var resolutionTable = map[ladderKey]media.Resolution{
	{media.DeviceDesktop, media.Connection4G}:     Res1080p,
	{media.DeviceDesktop, media.Connection3G}:     Res720p,
	{media.DeviceDesktop, media.Connection2G}:     Res480p,
	{media.DeviceDesktop, media.ConnectionSlow2G}: Res360p,

	{media.DeviceTablet, media.Connection4G}:     Res720p,
	{media.DeviceTablet, media.Connection3G}:     Res720p,
	{media.DeviceTablet, media.Connection2G}:     Res480p,
	{media.DeviceTablet, media.ConnectionSlow2G}: Res360p,

	{media.DeviceMobile, media.Connection4G}:     Res720p,
	{media.DeviceMobile, media.Connection3G}:     Res480p,
	{media.DeviceMobile, media.Connection2G}:     Res360p,
	{media.DeviceMobile, media.ConnectionSlow2G}: Res360p,
}

var defaultResolution = Res360p

// bitrateTier is one row of a floor table: sources at or above Threshold
// justify at least Floor bits per second.
type bitrateTier struct {
	Threshold int64
	Floor     int64
}

// sourceBitrateFloors is ordered by descending threshold.
var sourceBitrateFloors = []bitrateTier{
	{Threshold: 10_000_000, Floor: 8_000_000},
	{Threshold: 5_000_000, Floor: 5_000_000},
	{Threshold: 2_500_000, Floor: 2_500_000},
	{Threshold: 1_000_000, Floor: 1_000_000},
	{Threshold: 0, Floor: 500_000},
}

// resolutionBitrateFloors is keyed by output height.
var resolutionBitrateFloors = map[int]int64{
	1080: 8_000_000,
	720:  5_000_000,
	480:  2_500_000,
	360:  1_000_000,
}

const defaultResolutionFloor int64 = 500_000

// connectionPercent scales the bitrate floor in four tiers:
// 4g ≥ 3g ≥ 2g ≥ slow-2g/unknown.
var connectionPercent = map[media.ConnectionClass]int64{
	media.Connection4G:     100,
	media.Connection3G:     80,
	media.Connection2G:     60,
	media.ConnectionSlow2G: 50,
}

const defaultConnectionPercent = 50

// PowerTier buckets the client's logical core count.
type PowerTier int

const (
	PowerUnknown PowerTier = iota
	PowerLow
	PowerMid
	PowerHigh
)

// ConnTier buckets the connection class for the quality table.
type ConnTier int

const (
	ConnTierUnknown ConnTier = iota
	ConnTierGood
	ConnTierFair
	ConnTierPoor
)

type crfKey struct {
	power PowerTier
	conn  ConnTier
}

// crfTable: more cores and a worse link both push towards more compression.
var crfTable = map[crfKey]int{
	{PowerLow, ConnTierGood}:  23,
	{PowerLow, ConnTierFair}:  25,
	{PowerLow, ConnTierPoor}:  27,
	{PowerMid, ConnTierGood}:  24,
	{PowerMid, ConnTierFair}:  26,
	{PowerMid, ConnTierPoor}:  28,
	{PowerHigh, ConnTierGood}: 25,
	{PowerHigh, ConnTierFair}: 27,
	{PowerHigh, ConnTierPoor}: 30,
}

// modernCodecDevices lists device classes allowed to receive HEVC when the
// client declares support.
var modernCodecDevices = map[media.DeviceClass]bool{
	media.DeviceDesktop: true,
	media.DeviceTablet:  true,
	media.DeviceMobile:  true,
}

// Select resolves encode parameters for one request. It fails only when the
// source is missing; unknown profile fields select the conservative rows.
func Select(profile media.CapabilityProfile, src *media.SourceMetadata) (media.EncodeParameters, error) {
	if src == nil || src.ID == "" {
		return media.EncodeParameters{}, fmt.Errorf("select parameters: %w", media.ErrUnknownSource)
	}
	profile = profile.Normalize()

	res := ClampResolution(LadderResolution(profile.DeviceClass, profile.Connection), src.Resolution())
	bitrate := TargetBitrate(src.Bitrate, res, profile.Connection)

	return media.EncodeParameters{
		Resolution:   res,
		VideoCodec:   VideoCodec(profile),
		CRF:          QualityKnob(TierForCores(profile.LogicalCores), TierForConnection(profile.Connection)),
		VideoBitrate: bitrate,
		AudioCodec:   AudioCodec,
		AudioBitrate: AudioBitrate,
		Container:    ContainerMP4,
	}, nil
}

// LadderResolution looks up the ladder rung for a device and connection.
func LadderResolution(device media.DeviceClass, conn media.ConnectionClass) media.Resolution {
	if res, ok := resolutionTable[ladderKey{device, conn}]; ok {
		return res
	}
	return defaultResolution
}

// ClampResolution steps down the ladder until the rung fits the source.
// A source smaller than every rung keeps its own size.
func ClampResolution(want, source media.Resolution) media.Resolution {
	if source.IsZero() || want.Fits(source) {
		return want
	}
	for _, rung := range Ladder {
		if rung.Fits(want) && rung.Fits(source) {
			return rung
		}
	}
	return media.Resolution{Width: source.Width &^ 1, Height: source.Height &^ 1}
}

// FloorBySourceBitrate returns the floor justified by the source bitrate class.
func FloorBySourceBitrate(sourceBitrate int64) int64 {
	for _, tier := range sourceBitrateFloors {
		if sourceBitrate >= tier.Threshold {
			return tier.Floor
		}
	}
	return sourceBitrateFloors[len(sourceBitrateFloors)-1].Floor
}

// FloorByResolution returns the floor justified by the output resolution.
func FloorByResolution(res media.Resolution) int64 {
	if floor, ok := resolutionBitrateFloors[res.Height]; ok {
		return floor
	}
	return defaultResolutionFloor
}

// ConnectionPercent returns the bitrate scale for a connection class.
func ConnectionPercent(conn media.ConnectionClass) int64 {
	if p, ok := connectionPercent[conn]; ok {
		return p
	}
	return defaultConnectionPercent
}

// TargetBitrate applies floor, then connection scale, then source clamp.
func TargetBitrate(sourceBitrate int64, res media.Resolution, conn media.ConnectionClass) int64 {
	floor := max(FloorBySourceBitrate(sourceBitrate), FloorByResolution(res))
	bitrate := floor * ConnectionPercent(conn) / 100
	if sourceBitrate > 0 && bitrate > sourceBitrate {
		bitrate = sourceBitrate
	}
	return bitrate
}

// VideoCodec prefers HEVC only for a known device that declares support.
func VideoCodec(profile media.CapabilityProfile) string {
	if profile.SupportsModernCodec && modernCodecDevices[profile.DeviceClass] {
		return CodecHEVC
	}
	return CodecH264
}

// TierForCores buckets a logical core count.
func TierForCores(cores int) PowerTier {
	switch {
	case cores <= 0:
		return PowerUnknown
	case cores <= 2:
		return PowerLow
	case cores <= 6:
		return PowerMid
	default:
		return PowerHigh
	}
}

// TierForConnection buckets a connection class for the quality table.
func TierForConnection(conn media.ConnectionClass) ConnTier {
	switch conn {
	case media.Connection4G:
		return ConnTierGood
	case media.Connection3G:
		return ConnTierFair
	case media.Connection2G, media.ConnectionSlow2G:
		return ConnTierPoor
	default:
		return ConnTierUnknown
	}
}

// QualityKnob returns the CRF for a tier combination, DefaultCRF otherwise.
func QualityKnob(power PowerTier, conn ConnTier) int {
	if crf, ok := crfTable[crfKey{power, conn}]; ok {
		return crf
	}
	return DefaultCRF
}
