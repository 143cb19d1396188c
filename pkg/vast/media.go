package vast

import (
	"log/slog"
	"strings"
)

// DefaultTargetBitrateKbps is the bandwidth target used when selecting among
// media files of the same MIME type.
const DefaultTargetBitrateKbps = 4000

var hlsMimeTypes = map[string]bool{
	"application/x-mpegurl":         true,
	"application/vnd.apple.mpegurl": true,
}

var progressiveMimeTypes = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"video/3gpp": true,
}

// standardResolutions are the encoder ladder rungs commonly used for ads.
var standardResolutions = map[[2]int]bool{
	{1920, 1080}: true,
	{1280, 720}:  true,
	{854, 480}:   true,
	{640, 360}:   true,
	{426, 240}:   true,
	{3840, 2160}: true,
	{960, 540}:   true,
	{768, 432}:   true,
}

// typeRank orders MIME types by suitability for stitching. Lower is better.
func typeRank(mimeType string) int {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case mt == "video/mp4":
		return 0
	case hlsMimeTypes[mt]:
		return 1
	case progressiveMimeTypes[mt]:
		return 2
	default:
		return 3
	}
}

func isVPAID(mf *MediaFile) bool {
	return strings.EqualFold(strings.TrimSpace(mf.APIFramework), "VPAID")
}

// SelectMediaFile picks the most suitable media file for stitching, or nil if
// none is usable. MP4 is preferred over HLS over other progressive types.
// Within a type, the highest bitrate not exceeding targetKbps wins, falling
// back to the lowest one above it. Bitrate ties go to the wider rendition.
func SelectMediaFile(files []MediaFile, targetKbps int) *MediaFile {
	if targetKbps <= 0 {
		targetKbps = DefaultTargetBitrateKbps
	}
	var best *MediaFile
	bestRank := 4
	for i := range files {
		mf := &files[i]
		if mf.URL == "" {
			continue
		}
		if isVPAID(mf) {
			slog.Warn("skipping VPAID media file", "id", mf.ID, "type", mf.Type)
			continue
		}
		rank := typeRank(mf.Type)
		if rank >= 3 {
			continue
		}
		switch {
		case best == nil || rank < bestRank:
			best, bestRank = mf, rank
		case rank == bestRank && betterBitrate(mf, best, targetKbps):
			best = mf
		}
	}
	return best
}

// betterBitrate reports whether a should replace b for the given target.
func betterBitrate(a, b *MediaFile, targetKbps int) bool {
	aUnder := a.Bitrate <= targetKbps
	bUnder := b.Bitrate <= targetKbps
	switch {
	case aUnder && bUnder:
		if a.Bitrate != b.Bitrate {
			return a.Bitrate > b.Bitrate
		}
	case aUnder != bUnder:
		return aUnder
	default: // both above target
		if a.Bitrate != b.Bitrate {
			return a.Bitrate < b.Bitrate
		}
	}
	return a.Width > b.Width
}

// CheckCreatives logs advisory warnings about creatives that may not play
// well when stitched and returns the number of media files that are not
// HLS-compatible. Nothing is rewritten.
func CheckCreatives(adID string, files []MediaFile) int {
	nonHLS := 0
	for i := range files {
		mf := &files[i]
		mt := strings.ToLower(strings.TrimSpace(mf.Type))
		if !hlsMimeTypes[mt] {
			nonHLS++
		}
		if isVPAID(mf) {
			slog.Warn("VPAID creative requires client-side execution", "adID", adID, "mediaFileID", mf.ID)
		}
		if mf.Width > 0 && mf.Height > 0 && !standardResolutions[[2]int{mf.Width, mf.Height}] {
			slog.Warn("nonstandard ad resolution", "adID", adID,
				"width", mf.Width, "height", mf.Height)
		}
	}
	return nonHLS
}
