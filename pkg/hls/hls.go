// Package hls rewrites HLS playlists for ad insertion. Media playlists are
// scanned for SCTE-35 cue tags, and detected breaks are either replaced
// with ad segments (server-side insertion) or annotated with interstitial
// date ranges (server-guided insertion). Master playlists pass through with
// variant URIs routed via the stitcher.
package hls

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
)

// InterstitialClass is the DATERANGE CLASS for HLS interstitials.
const InterstitialClass = "com.apple.hls.interstitial"

// PodSource yields the ad pod for a break. Implementations are expected to
// deduplicate concurrent resolution and never fail: no fill is an empty pod.
type PodSource interface {
	Pod(ctx context.Context, breakID string, durationS float64) ads.AdPod
}

// Options configure one stitching invocation.
type Options struct {
	SessionID string
	BaseURL   string // public stitcher address used in rewritten URLs
	OriginURL string // absolute URL the playlist was fetched from
	Now       func() time.Time
}

func (o Options) urls() proxyurl.Builder {
	return proxyurl.Builder{BaseURL: o.BaseURL, SessionID: o.SessionID}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Parse decodes playlist text into a master or media playlist.
func Parse(data []byte) (m3u8.Playlist, m3u8.ListType, error) {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, 0, fmt.Errorf("decode m3u8: %w", err)
	}
	return pl, listType, nil
}

// RewriteMaster routes every variant and alternative rendition URI through
// the stitcher so that media playlist requests keep the session. No ad
// logic runs on master playlists.
func RewriteMaster(master *m3u8.MasterPlaylist, o Options) *m3u8.MasterPlaylist {
	urls := o.urls()
	seen := map[*m3u8.Alternative]bool{}
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		v.URI = urls.MediaPlaylist(v.URI, o.OriginURL)
		for _, alt := range v.Alternatives {
			// The same rendition may be shared between variants.
			if alt == nil || alt.URI == "" || seen[alt] {
				continue
			}
			seen[alt] = true
			alt.URI = urls.MediaPlaylist(alt.URI, o.OriginURL)
		}
	}
	master.ResetCache()
	return master
}
