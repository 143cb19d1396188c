package hls

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
)

// StitchSSAI replaces the given ad breaks, as found by DetectBreaks on pl,
// with ad segments routed via the stitcher. Breaks whose pod comes back
// empty are passed through untouched, cue tags included, so downstream
// stitchers can still act on them. onUnfilled runs once per passed-through
// break.
func StitchSSAI(ctx context.Context, pl *m3u8.MediaPlaylist, o Options, breaks []Break,
	src PodSource, onUnfilled func()) (*m3u8.MediaPlaylist, error) {
	segs := pl.GetAllSegments()
	urls := o.urls()

	breakAt := make(map[int]*Break, len(breaks))
	for i := range breaks {
		breakAt[breaks[i].Start] = &breaks[i]
	}

	out, err := newOutputPlaylist(pl, len(segs))
	if err != nil {
		return nil, err
	}

	maxDurS := 0.0
	pendingDisc := false
	appendSeg := func(seg *m3u8.MediaSegment) error {
		if pendingDisc {
			seg.Discontinuity = true
			pendingDisc = false
		}
		if seg.Duration > maxDurS {
			maxDurS = seg.Duration
		}
		return out.AppendSegment(seg)
	}

	for i := 0; i < len(segs); i++ {
		brk, isStart := breakAt[i]
		if !isStart {
			cp := *segs[i]
			cp.SCTE = nil
			cp.SCTE35DateRanges = stripSCTE35DateRanges(cp.SCTE35DateRanges)
			cp.URI = urls.Segment(cp.URI, o.OriginURL)
			if err := appendSeg(&cp); err != nil {
				return nil, err
			}
			continue
		}

		pod := src.Pod(ctx, brk.ID, brk.DurationS)
		if pod.Empty() {
			slog.Info("ad break unfilled, passing through",
				"breakID", brk.ID, "durationS", brk.DurationS)
			if onUnfilled != nil {
				onUnfilled()
			}
			end := brk.End
			if !brk.Open && end < len(segs) {
				// The segment at End carries the closing CUE-IN and must
				// keep it.
				end++
			}
			for ; i < end; i++ {
				cp := *segs[i]
				cp.URI = urls.Segment(cp.URI, o.OriginURL)
				if err := appendSeg(&cp); err != nil {
					return nil, err
				}
			}
			i--
			continue
		}

		pendingDisc = true
		slateIdx := 0
		for adIdx, ad := range pod.Ads {
			for segIdx, adSeg := range ad.Segments {
				uri := urls.Ad(ads.SegmentRef{
					BreakID: brk.ID, AdIdx: adIdx, SegIdx: segIdx, Ext: path.Ext(adSeg.URI),
				}.Name())
				if ad.Slate {
					uri = urls.Slate(slateIdx)
					slateIdx++
				}
				if err := appendSeg(&m3u8.MediaSegment{URI: uri, Duration: adSeg.DurationS}); err != nil {
					return nil, err
				}
			}
		}
		pendingDisc = true // next content segment resumes after the break
		i = brk.End - 1
	}

	finishOutputPlaylist(out, pl, maxDurS)
	return out, nil
}

// StitchSGAI keeps the content timeline intact and annotates each given
// break with an HLS interstitial DATERANGE pointing at the session's
// asset-list endpoint. Cue tags are removed to avoid double signaling.
func StitchSGAI(pl *m3u8.MediaPlaylist, o Options, breaks []Break) (*m3u8.MediaPlaylist, error) {
	segs := pl.GetAllSegments()
	urls := o.urls()

	pdts, synthesized := programDateTimes(segs, o.now())

	breakAt := make(map[int]*Break, len(breaks))
	for i := range breaks {
		breakAt[breaks[i].Start] = &breaks[i]
	}

	out, err := newOutputPlaylist(pl, len(segs))
	if err != nil {
		return nil, err
	}

	maxDurS := 0.0
	for i, seg := range segs {
		cp := *seg
		cp.SCTE = nil
		cp.SCTE35DateRanges = stripSCTE35DateRanges(cp.SCTE35DateRanges)
		cp.URI = urls.Segment(cp.URI, o.OriginURL)
		if synthesized {
			cp.ProgramDateTime = pdts[i]
		}
		if brk, ok := breakAt[i]; ok {
			if cp.ProgramDateTime.IsZero() {
				cp.ProgramDateTime = pdts[i]
			}
			cp.SCTE35DateRanges = append([]*m3u8.DateRange{interstitialDateRange(brk, pdts[i], o)},
				cp.SCTE35DateRanges...)
		}
		if cp.Duration > maxDurS {
			maxDurS = cp.Duration
		}
		if err := out.AppendSegment(&cp); err != nil {
			return nil, err
		}
	}

	finishOutputPlaylist(out, pl, maxDurS)
	return out, nil
}

// stripSCTE35DateRanges drops the DATERANGE entries carrying SCTE-35
// signaling so a replaced or annotated break is not signaled twice.
// Unrelated date ranges pass through.
func stripSCTE35DateRanges(drs []*m3u8.DateRange) []*m3u8.DateRange {
	var kept []*m3u8.DateRange
	for _, dr := range drs {
		if dr != nil && (dr.SCTE35Out != "" || dr.SCTE35In != "" || dr.SCTE35Cmd != "") {
			continue
		}
		kept = append(kept, dr)
	}
	return kept
}

// interstitialDateRange builds the SGAI marker for one break.
func interstitialDateRange(brk *Break, start time.Time, o Options) *m3u8.DateRange {
	dur := brk.DurationS
	dr := &m3u8.DateRange{
		ID:        brk.ID,
		Class:     InterstitialClass,
		StartDate: start,
		Duration:  &dur,
		XAttrs: []m3u8.Attribute{
			{Key: "X-ASSET-LIST", Val: fmt.Sprintf("%q", o.urls().AssetList(brk.ID, brk.DurationS))},
			{Key: "X-RESUME-OFFSET", Val: "0"},
			{Key: "X-RESTRICT", Val: `"SKIP,JUMP"`},
		},
	}
	if brk.Start == 0 {
		dr.Cue = "PRE"
	}
	return dr
}

// programDateTimes returns the date-time of every segment, anchored on the
// native PROGRAM-DATE-TIME tags when any exist, else on now at the
// playlist head. The bool reports whether the timeline was synthesized.
func programDateTimes(segs []*m3u8.MediaSegment, now time.Time) ([]time.Time, bool) {
	pdts := make([]time.Time, len(segs))
	anchor := time.Time{}
	synthesized := true
	for i, seg := range segs {
		if !seg.ProgramDateTime.IsZero() {
			anchor = seg.ProgramDateTime
			synthesized = false
		} else if anchor.IsZero() {
			anchor = now
		}
		pdts[i] = anchor
		anchor = anchor.Add(time.Duration(seg.Duration * float64(time.Second)))
	}
	return pdts, synthesized
}

// newOutputPlaylist creates an output playlist carrying over the input's
// header state.
func newOutputPlaylist(in *m3u8.MediaPlaylist, nrSegments int) (*m3u8.MediaPlaylist, error) {
	out, err := m3u8.NewMediaPlaylist(0, uint(nrSegments)+1024)
	if err != nil {
		return nil, fmt.Errorf("new media playlist: %w", err)
	}
	out.SeqNo = in.SeqNo
	out.DiscontinuitySeq = in.DiscontinuitySeq
	out.MediaType = in.MediaType
	out.Map = in.Map
	out.Custom = in.Custom
	out.SetIndependentSegments(in.IndependentSegments())
	return out, nil
}

// finishOutputPlaylist applies trailing header state: the target duration
// is the input's, raised if an inserted segment runs longer, and ENDLIST
// appears iff the input had it.
func finishOutputPlaylist(out, in *m3u8.MediaPlaylist, maxDurS float64) {
	target := in.TargetDuration
	if t := uint(math.Ceil(maxDurS)); t > target {
		target = t
	}
	out.SetTargetDuration(target)
	out.Closed = in.Closed
}
