// Package dash rewrites DASH MPDs for ad insertion. Periods carrying
// SCTE-35 EventStream signaling get an ad period spliced in after them,
// and all media references are routed via the stitcher through rewritten
// BaseURL elements so that segment template patterns stay intact.
package dash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
)

// PodSource yields the ad pod for a break. Implementations are expected to
// deduplicate concurrent resolution and never fail: no fill is an empty pod.
type PodSource interface {
	Pod(ctx context.Context, breakID string, durationS float64) ads.AdPod
}

// Options configure one stitching invocation.
type Options struct {
	SessionID string
	BaseURL   string // public stitcher address used in rewritten URLs
	MPDURL    string // absolute URL the MPD was fetched from
}

func (o Options) urls() proxyurl.Builder {
	return proxyurl.Builder{BaseURL: o.BaseURL, SessionID: o.SessionID}
}

// Parse decodes MPD text.
func Parse(data []byte) (*m.MPD, error) {
	mpd, err := m.ReadFromString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode mpd: %w", err)
	}
	return mpd, nil
}

// Write serializes an MPD with the XML header and two-space indentation.
func Write(mpd *m.MPD) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := mpd.Write(&buf, "  ", true); err != nil {
		return nil, fmt.Errorf("write mpd: %w", err)
	}
	return buf.Bytes(), nil
}

// Stitch inserts an ad period after each signaling period and reroutes all
// media through the stitcher. breaks must come from DetectBreaks on the
// text mpd was parsed from. Breaks whose pod comes back empty leave the
// timeline untouched; onUnfilled runs once per such break.
func Stitch(ctx context.Context, mpd *m.MPD, breaks []Break, o Options, src PodSource,
	onUnfilled func()) error {
	if err := RewriteBaseURLs(mpd, o); err != nil {
		return err
	}

	// Insert back to front so period indices stay valid.
	for i := len(breaks) - 1; i >= 0; i-- {
		brk := breaks[i]
		pod := src.Pod(ctx, brk.ID, brk.DurationS)
		if pod.Empty() {
			slog.Info("ad break unfilled, leaving periods untouched",
				"breakID", brk.ID, "period", brk.PeriodID, "durationS", brk.DurationS)
			if onUnfilled != nil {
				onUnfilled()
			}
			continue
		}
		if err := insertAdPeriod(mpd, brk, pod, o); err != nil {
			return err
		}
	}
	return nil
}

// durPtr converts seconds to an MPD duration pointer with ms resolution.
func durPtr(seconds float64) *m.Duration {
	d := m.Duration(time.Duration(seconds*1000) * time.Millisecond)
	return &d
}
