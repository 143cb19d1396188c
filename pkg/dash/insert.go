package dash

import (
	"fmt"
	"math"
	"path"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
)

// adTimescale is the timescale of inserted ad segment timelines (ms).
const adTimescale = 1000

// maxDriftMS bounds the last-segment adjustment that aligns the summed
// timeline with the pod duration.
const maxDriftMS = 50

// insertAdPeriod splices a new period right after the signaling period.
// Every adaptation set of the signaling period is mirrored so the player
// finds matching content types, with the pod segments listed explicitly.
func insertAdPeriod(mpd *m.MPD, brk Break, pod ads.AdPod, o Options) error {
	if brk.PeriodIdx < 0 || brk.PeriodIdx >= len(mpd.Periods) {
		return fmt.Errorf("break period index %d out of range", brk.PeriodIdx)
	}
	signaling := mpd.Periods[brk.PeriodIdx]

	adPeriod := m.NewPeriod()
	adPeriod.Id = "ad-" + brk.ID
	adPeriod.Start = adPeriodStart(mpd, brk.PeriodIdx)
	adPeriod.Duration = durPtr(pod.DurationS)

	refs := adSegmentRefs(pod, brk.ID, o.urls())
	if len(refs) == 0 {
		return fmt.Errorf("ad pod for break %s has no segments", brk.ID)
	}

	for i, as := range signaling.AdaptationSets {
		adAS := m.NewAdaptationSet()
		adAS.Id = m.Ptr(uint32(i + 1))
		adAS.ContentType = as.ContentType
		adAS.MimeType = as.MimeType
		adAS.Lang = as.Lang
		adAS.Codecs = as.Codecs
		for _, rep := range as.Representations {
			adRep := m.NewRepresentation()
			adRep.Id = fmt.Sprintf("ad-%s-%s", brk.ID, rep.Id)
			adRep.Bandwidth = rep.Bandwidth
			adRep.Codecs = rep.Codecs
			adRep.Width = rep.Width
			adRep.Height = rep.Height
			adRep.SegmentList = newSegmentList(refs, pod.DurationS)
			adAS.AppendRepresentation(adRep)
		}
		adPeriod.AppendAdaptationSet(adAS)
	}

	idx := brk.PeriodIdx + 1
	mpd.Periods = append(mpd.Periods, nil)
	copy(mpd.Periods[idx+1:], mpd.Periods[idx:])
	mpd.Periods[idx] = adPeriod
	return nil
}

// adPeriodStart places the ad period at the end of the signaling period,
// falling back to the following period's start when the signaling period
// carries no duration.
func adPeriodStart(mpd *m.MPD, idx int) *m.Duration {
	sig := mpd.Periods[idx]
	if sig.Start != nil && sig.Duration != nil {
		d := *sig.Start + *sig.Duration
		return &d
	}
	if idx+1 < len(mpd.Periods) {
		if next := mpd.Periods[idx+1]; next.Start != nil {
			d := *next.Start
			return &d
		}
	}
	return nil
}

type segRef struct {
	uri  string
	durS float64
}

func adSegmentRefs(pod ads.AdPod, breakID string, urls proxyurl.Builder) []segRef {
	var refs []segRef
	slateIdx := 0
	for adIdx, ad := range pod.Ads {
		for segIdx, seg := range ad.Segments {
			uri := urls.Ad(ads.SegmentRef{
				BreakID: breakID, AdIdx: adIdx, SegIdx: segIdx, Ext: path.Ext(seg.URI),
			}.Name())
			if ad.Slate {
				uri = urls.Slate(slateIdx)
				slateIdx++
			}
			refs = append(refs, segRef{uri: uri, durS: seg.DurationS})
		}
	}
	return refs
}

// newSegmentList builds an explicit segment list with a millisecond
// timeline. The last segment absorbs rounding drift against the pod
// duration, but only within maxDriftMS.
func newSegmentList(refs []segRef, podDurS float64) *m.SegmentListType {
	durs := make([]uint64, len(refs))
	total := int64(0)
	for i, r := range refs {
		durs[i] = uint64(math.Round(r.durS * adTimescale))
		total += int64(durs[i])
	}
	want := int64(math.Round(podDurS * adTimescale))
	if diff := want - total; diff != 0 && diff >= -maxDriftMS && diff <= maxDriftMS {
		durs[len(durs)-1] = uint64(int64(durs[len(durs)-1]) + diff)
	}

	sl := &m.SegmentListType{}
	sl.Timescale = m.Ptr(uint32(adTimescale))
	stl := &m.SegmentTimelineType{}
	for i, r := range refs {
		s := &m.S{D: durs[i]}
		if i == 0 {
			s.T = m.Ptr(uint64(0))
		}
		stl.S = append(stl.S, s)
		sl.SegmentURL = append(sl.SegmentURL, &m.SegmentURLType{Media: m.AnyURI(r.uri)})
	}
	sl.SegmentTimeline = stl
	return sl
}
