package hls

import (
	"fmt"
	"testing"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://origin.example.com/live/playlist.m3u8"

func newTestPlaylist(t *testing.T, nrSegs int, segDurS float64) *m3u8.MediaPlaylist {
	t.Helper()
	pl, err := m3u8.NewMediaPlaylist(0, uint(nrSegs))
	require.NoError(t, err)
	for i := 0; i < nrSegs; i++ {
		require.NoError(t, pl.AppendSegment(&m3u8.MediaSegment{
			URI:      fmt.Sprintf("seg_%03d.ts", i),
			Duration: segDurS,
		}))
	}
	pl.Closed = true
	return pl
}

func cueOut(durS float64) *m3u8.SCTE {
	return &m3u8.SCTE{Syntax: m3u8.SCTE35_OATCLS, CueType: m3u8.SCTE35Cue_Start, Time: durS}
}

func cueIn() *m3u8.SCTE {
	return &m3u8.SCTE{Syntax: m3u8.SCTE35_OATCLS, CueType: m3u8.SCTE35Cue_End}
}

func TestDetectBreaksOatcls(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[2].SCTE = cueOut(12)
	segs[5].SCTE = cueIn()

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	assert.Equal(t, 2, breaks[0].Start)
	assert.Equal(t, 5, breaks[0].End)
	assert.Equal(t, 12.0, breaks[0].DurationS)
	assert.False(t, breaks[0].Open)
	assert.Len(t, breaks[0].ID, 16)
}

func TestDetectBreakOpenAtLiveEdge(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	pl.GetAllSegments()[4].SCTE = cueOut(12)

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	assert.Equal(t, 4, breaks[0].Start)
	assert.Equal(t, 6, breaks[0].End)
	assert.True(t, breaks[0].Open)
	assert.Equal(t, 12.0, breaks[0].DurationS)
}

func TestDetectBreakWithoutDeclaredDuration(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[1].SCTE = cueOut(0)
	segs[4].SCTE = cueIn()

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	// Three spanned segments of 4s each.
	assert.Equal(t, 12.0, breaks[0].DurationS)
}

func TestDetectBreakJoinedMidFlight(t *testing.T) {
	pl := newTestPlaylist(t, 4, 4)
	segs := pl.GetAllSegments()
	segs[0].SCTE = &m3u8.SCTE{
		Syntax: m3u8.SCTE35_OATCLS, CueType: m3u8.SCTE35Cue_Mid, Time: 30, Elapsed: 10,
	}
	segs[2].SCTE = cueIn()

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	assert.Equal(t, 0, breaks[0].Start)
	assert.Equal(t, 2, breaks[0].End)
	assert.Equal(t, 20.0, breaks[0].DurationS)
}

func TestDetectBreakFromDateRange(t *testing.T) {
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	planned := 15.0
	segs[2].SCTE35DateRanges = []*m3u8.DateRange{{
		ID:              "splice-1",
		StartDate:       time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
		PlannedDuration: &planned,
		SCTE35Out:       "0xFC302500",
	}}
	segs[5].SCTE35DateRanges = []*m3u8.DateRange{{
		ID:        "splice-1",
		StartDate: time.Date(2025, 4, 1, 12, 0, 15, 0, time.UTC),
		SCTE35In:  "0xFC302600",
	}}

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	assert.Equal(t, 2, breaks[0].Start)
	assert.Equal(t, 5, breaks[0].End)
	assert.Equal(t, 15.0, breaks[0].DurationS)
}

func TestDetectBreaksIgnoresStrayAndNested(t *testing.T) {
	pl := newTestPlaylist(t, 8, 4)
	segs := pl.GetAllSegments()
	segs[0].SCTE = cueIn() // stray, ignored
	segs[2].SCTE = cueOut(8)
	segs[3].SCTE = cueOut(20) // nested, ignored
	segs[4].SCTE = cueIn()

	breaks := DetectBreaks(pl, testOrigin)
	require.Len(t, breaks, 1)
	assert.Equal(t, 2, breaks[0].Start)
	assert.Equal(t, 8.0, breaks[0].DurationS)
}

func TestBreakIDStableAcrossRefreshes(t *testing.T) {
	pdt := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	mk := func(seqNo uint64, startIdx int) string {
		pl := newTestPlaylist(t, 6, 4)
		pl.SeqNo = seqNo
		segs := pl.GetAllSegments()
		segs[startIdx].SCTE = cueOut(12)
		segs[startIdx].ProgramDateTime = pdt
		return DetectBreaks(pl, testOrigin)[0].ID
	}

	// The playlist window slides but the break keeps its date time.
	assert.Equal(t, mk(100, 3), mk(102, 1))
	// A different origin gives a different identity.
	pl := newTestPlaylist(t, 6, 4)
	segs := pl.GetAllSegments()
	segs[3].SCTE = cueOut(12)
	segs[3].ProgramDateTime = pdt
	assert.NotEqual(t, mk(100, 3), DetectBreaks(pl, "https://other.example.com/p.m3u8")[0].ID)
}
