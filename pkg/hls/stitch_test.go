package hls

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
)

type podFunc func(ctx context.Context, breakID string, durationS float64) ads.AdPod

func (f podFunc) Pod(ctx context.Context, breakID string, durationS float64) ads.AdPod {
	return f(ctx, breakID, durationS)
}

func emptyPods() PodSource {
	return podFunc(func(context.Context, string, float64) ads.AdPod { return ads.AdPod{} })
}

func fixedPod(pod ads.AdPod) PodSource {
	return podFunc(func(context.Context, string, float64) ads.AdPod { return pod })
}

func testOptions() Options {
	return Options{
		SessionID: "sess1",
		BaseURL:   "https://stitch.example.com",
		OriginURL: testOrigin,
		Now:       func() time.Time { return time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func threeSegmentAd() ads.AdPod {
	return ads.AdPod{
		Ads: []ads.Ad{{
			ID: "ad-1",
			Segments: []ads.Segment{
				{URI: "https://ads.example.com/a/0.ts", DurationS: 4},
				{URI: "https://ads.example.com/a/1.ts", DurationS: 4},
				{URI: "https://ads.example.com/a/2.ts", DurationS: 4},
			},
			DurationS: 12,
		}},
		DurationS: 12,
	}
}

func TestStitchSSAIReplacesBreak(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[2].SCTE = cueOut(12)
	segs[5].SCTE = cueIn()
	breaks := DetectBreaks(pl, testOrigin)
	brkID := breaks[0].ID

	out, err := StitchSSAI(context.Background(), pl, testOptions(), breaks,
		fixedPod(threeSegmentAd()), nil)
	require.NoError(t, err)

	outSegs := out.GetAllSegments()
	require.Len(t, outSegs, 6) // 2 content + 3 ads + 1 content

	for i := 0; i < 2; i++ {
		assert.Contains(t, outSegs[i].URI, "/stitch/sess1/segment/")
		assert.Nil(t, outSegs[i].SCTE)
	}
	for i, name := range []string{"a0-s0.ts", "a0-s1.ts", "a0-s2.ts"} {
		assert.Equal(t,
			"https://stitch.example.com/stitch/sess1/ad/b-"+brkID+"-"+name,
			outSegs[2+i].URI)
	}
	assert.Contains(t, outSegs[5].URI, "/stitch/sess1/segment/")

	// One discontinuity entering the break, one leaving it.
	assert.True(t, outSegs[2].Discontinuity)
	assert.True(t, outSegs[5].Discontinuity)
	for _, i := range []int{0, 1, 3, 4} {
		assert.False(t, outSegs[i].Discontinuity)
	}

	assert.True(t, out.Closed)
	assert.Equal(t, pl.SeqNo, out.SeqNo)
	assert.GreaterOrEqual(t, out.TargetDuration, pl.TargetDuration)
}

func TestStitchSSAIUnfilledPassThrough(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[2].SCTE = cueOut(12)
	segs[5].SCTE = cueIn()

	unfilled := 0
	out, err := StitchSSAI(context.Background(), pl, testOptions(),
		DetectBreaks(pl, testOrigin), emptyPods(), func() { unfilled++ })
	require.NoError(t, err)
	assert.Equal(t, 1, unfilled)

	outSegs := out.GetAllSegments()
	require.Len(t, outSegs, 6)
	// Cue tags survive so the break can still be acted on downstream.
	require.NotNil(t, outSegs[2].SCTE)
	assert.Equal(t, m3u8.SCTE35Cue_Start, outSegs[2].SCTE.CueType)
	require.NotNil(t, outSegs[5].SCTE)
	assert.Equal(t, m3u8.SCTE35Cue_End, outSegs[5].SCTE.CueType)
	for _, seg := range outSegs {
		assert.Contains(t, seg.URI, "/stitch/sess1/segment/")
		assert.False(t, seg.Discontinuity)
	}
}

func dateRangeCues(segs []*m3u8.MediaSegment, startIdx, endIdx int, durS float64) {
	segs[startIdx].SCTE35DateRanges = []*m3u8.DateRange{{
		ID:              "splice-9",
		StartDate:       time.Date(2025, 4, 1, 12, 0, 8, 0, time.UTC),
		PlannedDuration: &durS,
		SCTE35Out:       "0xFC302500",
	}}
	segs[endIdx].SCTE35DateRanges = []*m3u8.DateRange{{
		ID:        "splice-9",
		StartDate: time.Date(2025, 4, 1, 12, 0, 20, 0, time.UTC),
		SCTE35In:  "0xFC302600",
	}}
}

func TestStitchSSAIDropsDateRangeCues(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	dateRangeCues(segs, 2, 5, 12)
	unrelated := &m3u8.DateRange{ID: "chapter-1", StartDate: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
	segs[1].SCTE35DateRanges = []*m3u8.DateRange{unrelated}

	out, err := StitchSSAI(context.Background(), pl, testOptions(),
		DetectBreaks(pl, testOrigin), fixedPod(threeSegmentAd()), nil)
	require.NoError(t, err)
	outSegs := out.GetAllSegments()
	require.Len(t, outSegs, 6)

	// Cue-carrying date ranges vanish with the replaced break, other
	// date ranges pass through.
	assert.Equal(t, []*m3u8.DateRange{unrelated}, outSegs[1].SCTE35DateRanges)
	for i, seg := range outSegs {
		if i == 1 {
			continue
		}
		assert.Empty(t, seg.SCTE35DateRanges, "segment %d", i)
	}
}

func TestStitchSGAIReplacesDateRangeCues(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	dateRangeCues(pl.GetAllSegments(), 2, 5, 12)

	out, err := StitchSGAI(pl, testOptions(), DetectBreaks(pl, testOrigin))
	require.NoError(t, err)
	outSegs := out.GetAllSegments()

	// Only the interstitial marker remains on the break segment, and the
	// closing cue is gone.
	require.Len(t, outSegs[2].SCTE35DateRanges, 1)
	assert.Equal(t, InterstitialClass, outSegs[2].SCTE35DateRanges[0].Class)
	assert.Empty(t, outSegs[5].SCTE35DateRanges)
}

func TestStitchSSAISlateFill(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[2].SCTE = cueOut(12)
	segs[5].SCTE = cueIn()

	pod := ads.AdPod{
		Ads: []ads.Ad{{
			ID:    "slate",
			Slate: true,
			Segments: []ads.Segment{
				{URI: "https://slate.example.com/out_000.ts", DurationS: 4},
				{URI: "https://slate.example.com/out_001.ts", DurationS: 4},
				{URI: "https://slate.example.com/out_002.ts", DurationS: 4},
			},
			DurationS: 12,
		}},
		DurationS: 12,
	}

	out, err := StitchSSAI(context.Background(), pl, testOptions(),
		DetectBreaks(pl, testOrigin), fixedPod(pod), nil)
	require.NoError(t, err)
	outSegs := out.GetAllSegments()
	require.Len(t, outSegs, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "https://stitch.example.com/stitch/sess1/slate/"+strconv.Itoa(i),
			outSegs[2+i].URI)
	}
}

func TestStitchSSAIOpenBreakAtLiveEdge(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	pl.Closed = false
	pl.GetAllSegments()[4].SCTE = cueOut(12)

	out, err := StitchSSAI(context.Background(), pl, testOptions(),
		DetectBreaks(pl, testOrigin), fixedPod(threeSegmentAd()), nil)
	require.NoError(t, err)
	outSegs := out.GetAllSegments()
	// 4 content segments, then the whole pod; no content resumes yet.
	require.Len(t, outSegs, 7)
	assert.True(t, outSegs[4].Discontinuity)
	assert.Contains(t, outSegs[6].URI, "/stitch/sess1/ad/")
	assert.False(t, out.Closed)
}

func TestStitchSGAIInjectsInterstitial(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[2].SCTE = cueOut(12)
	segs[5].SCTE = cueIn()
	breaks := DetectBreaks(pl, testOrigin)
	brkID := breaks[0].ID

	o := testOptions()
	out, err := StitchSGAI(pl, o, breaks)
	require.NoError(t, err)
	outSegs := out.GetAllSegments()
	require.Len(t, outSegs, 6)

	for _, seg := range outSegs {
		assert.Nil(t, seg.SCTE)
		assert.Contains(t, seg.URI, "/stitch/sess1/segment/")
	}

	require.Len(t, outSegs[2].SCTE35DateRanges, 1)
	dr := outSegs[2].SCTE35DateRanges[0]
	assert.Equal(t, brkID, dr.ID)
	assert.Equal(t, InterstitialClass, dr.Class)
	require.NotNil(t, dr.Duration)
	assert.Equal(t, 12.0, *dr.Duration)
	assert.Empty(t, dr.Cue)

	attrs := map[string]string{}
	for _, a := range dr.XAttrs {
		attrs[a.Key] = a.Val
	}
	assert.Equal(t,
		`"https://stitch.example.com/stitch/sess1/asset-list/`+brkID+`?dur=12.000"`,
		attrs["X-ASSET-LIST"])
	assert.Equal(t, "0", attrs["X-RESUME-OFFSET"])
	assert.Equal(t, `"SKIP,JUMP"`, attrs["X-RESTRICT"])

	// Synthesized timeline: segment 2 starts 8s after the anchor.
	assert.Equal(t, o.Now().Add(8*time.Second), dr.StartDate)
	assert.Equal(t, dr.StartDate, outSegs[2].ProgramDateTime)
}

func TestStitchSGAIPreRollCue(t *testing.T) {
	pl := newTestPlaylist(t, 4, 4)
	segs := pl.GetAllSegments()
	segs[0].SCTE = cueOut(8)
	segs[2].SCTE = cueIn()

	out, err := StitchSGAI(pl, testOptions(), DetectBreaks(pl, testOrigin))
	require.NoError(t, err)
	drs := out.GetAllSegments()[0].SCTE35DateRanges
	require.Len(t, drs, 1)
	assert.Equal(t, "PRE", drs[0].Cue)
}

func TestStitchSGAIKeepsNativeDateTimes(t *testing.T) {
	pl := newTestPlaylist(t, 4, 4)
	segs := pl.GetAllSegments()
	pdt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	segs[0].ProgramDateTime = pdt
	segs[1].SCTE = cueOut(8)
	segs[3].SCTE = cueIn()

	out, err := StitchSGAI(pl, testOptions(), DetectBreaks(pl, testOrigin))
	require.NoError(t, err)
	drs := out.GetAllSegments()[1].SCTE35DateRanges
	require.Len(t, drs, 1)
	assert.Equal(t, pdt.Add(4*time.Second), drs[0].StartDate)
}

func TestRewriteMaster(t *testing.T) {
	master := m3u8.NewMasterPlaylist()
	audio := &m3u8.Alternative{GroupId: "aud", Type: "AUDIO", URI: "audio/en.m3u8"}
	master.Append("video/1080p.m3u8", nil, m3u8.VariantParams{
		Bandwidth:    5000000,
		Alternatives: []*m3u8.Alternative{audio},
	})
	master.Append("video/720p.m3u8", nil, m3u8.VariantParams{
		Bandwidth:    3000000,
		Alternatives: []*m3u8.Alternative{audio},
	})

	out := RewriteMaster(master, testOptions())
	require.Len(t, out.Variants, 2)
	for _, v := range out.Variants {
		assert.Contains(t, v.URI, "/stitch/sess1/playlist/")
		assert.Contains(t, v.URI, "origin=")
	}
	// The shared rendition is rewritten exactly once.
	assert.Equal(t, 1, strings.Count(audio.URI, "/playlist/"))
	assert.Contains(t, audio.URI, "/stitch/sess1/playlist/")
}

func TestParseMediaPlaylist(t *testing.T) {
	text := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:4\n" +
		"#EXT-X-MEDIA-SEQUENCE:100\n" +
		"#EXTINF:4.000,\nseg_100.ts\n" +
		"#EXTINF:4.000,\nseg_101.ts\n" +
		"#EXT-X-ENDLIST\n"

	pl, listType, err := Parse([]byte(text))
	require.NoError(t, err)
	require.Equal(t, m3u8.MEDIA, listType)
	media := pl.(*m3u8.MediaPlaylist)
	assert.Equal(t, uint64(100), media.SeqNo)
	assert.Len(t, media.GetAllSegments(), 2)
	assert.True(t, media.Closed)
}

func TestParseMasterPlaylist(t *testing.T) {
	text := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720\n" +
		"video/720p.m3u8\n"

	pl, listType, err := Parse([]byte(text))
	require.NoError(t, err)
	require.Equal(t, m3u8.MASTER, listType)
	master := pl.(*m3u8.MasterPlaylist)
	require.Len(t, master.Variants, 1)
	assert.Equal(t, "video/720p.m3u8", master.Variants[0].URI)
}
