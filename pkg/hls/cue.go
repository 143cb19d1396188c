package hls

import (
	"log/slog"
	"strconv"

	"github.com/Eyevinn/hls-m3u8/m3u8"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
)

// Break is a detected ad break inside a media playlist. Start and End are
// segment indices, End exclusive. Open means the playlist ended before a
// CUE-IN arrived (live edge), so the break covers the remaining segments.
type Break struct {
	ID        string
	Start     int
	End       int
	DurationS float64
	Open      bool
}

// DetectBreaks scans the playlist segments once and returns the ad breaks
// in order. Cue tags are recognised in the CUE-OUT/CUE-IN family (both the
// OATCLS and the SCTE-67 syntax) and as DATERANGE tags carrying SCTE35-OUT
// or SCTE35-IN attributes.
func DetectBreaks(pl *m3u8.MediaPlaylist, originURL string) []Break {
	segs := pl.GetAllSegments()
	var breaks []Break
	var cur *Break

	closeBreak := func(end int, open bool) {
		cur.End = end
		cur.Open = open
		if cur.DurationS <= 0 {
			// No declared duration: the break lasts as long as the
			// content it spans.
			for i := cur.Start; i < cur.End; i++ {
				cur.DurationS += segs[i].Duration
			}
		}
		cur.DurationS = ads.ClampBreakDuration(cur.DurationS)
		breaks = append(breaks, *cur)
		cur = nil
	}

	for i, seg := range segs {
		kind, durS, elapsedS := cueForSegment(seg)
		switch kind {
		case cueStart:
			if cur != nil {
				slog.Warn("duplicate CUE-OUT inside ad break, ignoring",
					"segment", i, "durationS", durS)
				continue
			}
			cur = &Break{Start: i, DurationS: durS}
		case cueCont:
			if cur == nil {
				// Rejoining a break already in progress at the live edge.
				remaining := durS - elapsedS
				if remaining < 0 {
					remaining = 0
				}
				slog.Info("joining ad break mid-flight",
					"segment", i, "elapsedS", elapsedS, "durationS", durS)
				cur = &Break{Start: i, DurationS: remaining}
			}
		case cueEnd:
			if cur == nil {
				slog.Warn("stray CUE-IN outside ad break, ignoring", "segment", i)
				continue
			}
			closeBreak(i, false)
		}
	}
	if cur != nil {
		closeBreak(len(segs), true)
	}

	for bi := range breaks {
		breaks[bi].ID = ads.BreakID(originURL, breakStartKey(pl, segs, breaks[bi].Start))
	}
	return breaks
}

// breakStartKey identifies a break position stably across playlist
// refreshes: the program date time of its first segment when present,
// else the segment's media sequence number.
func breakStartKey(pl *m3u8.MediaPlaylist, segs []*m3u8.MediaSegment, start int) string {
	if start < len(segs) && !segs[start].ProgramDateTime.IsZero() {
		return segs[start].ProgramDateTime.UTC().Format(m3u8.DATETIME)
	}
	return strconv.FormatUint(pl.SeqNo+uint64(start), 10)
}

type cueKind int

const (
	cueNone cueKind = iota
	cueStart
	cueCont
	cueEnd
)

// cueForSegment classifies the cue tags attached to one segment and
// returns declared duration and elapsed time in seconds where applicable.
func cueForSegment(seg *m3u8.MediaSegment) (kind cueKind, durS, elapsedS float64) {
	if seg.SCTE != nil {
		switch seg.SCTE.Syntax {
		case m3u8.SCTE35_OATCLS:
			switch seg.SCTE.CueType {
			case m3u8.SCTE35Cue_Start:
				return cueStart, seg.SCTE.Time, 0
			case m3u8.SCTE35Cue_Mid:
				return cueCont, seg.SCTE.Time, seg.SCTE.Elapsed
			case m3u8.SCTE35Cue_End:
				return cueEnd, 0, 0
			}
		case m3u8.SCTE35_67_2014:
			// EXT-SCTE35 marks a splice point; TIME carries the duration.
			return cueStart, seg.SCTE.Time, 0
		}
	}
	for _, dr := range seg.SCTE35DateRanges {
		if dr == nil {
			continue
		}
		switch {
		case dr.SCTE35Out != "" || dr.SCTE35Cmd != "":
			durS := 0.0
			if dr.PlannedDuration != nil {
				durS = *dr.PlannedDuration
			} else if dr.Duration != nil {
				durS = *dr.Duration
			}
			return cueStart, durS, 0
		case dr.SCTE35In != "":
			return cueEnd, 0, 0
		}
	}
	return cueNone, 0, 0
}
