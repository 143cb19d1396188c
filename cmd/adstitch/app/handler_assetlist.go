package app

import (
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
	"github.com/Dash-Industry-Forum/adstitch/pkg/session"
)

func adSegmentName(breakID string, adIdx, segIdx int, uri string) string {
	return ads.SegmentRef{
		BreakID: breakID, AdIdx: adIdx, SegIdx: segIdx, Ext: path.Ext(uri),
	}.Name()
}

// assetListEntry follows the HLS interstitial asset list format. Key names
// are uppercase by specification.
type assetListEntry struct {
	URI      string  `json:"URI"`
	Duration float64 `json:"DURATION"`
}

type assetListResponse struct {
	Assets []assetListEntry `json:"ASSETS"`
}

// assetListHandlerFunc answers an interstitial client asking for the ads of
// one break. Resolution goes through the same single-flight cache as SSAI,
// so the first asker triggers the VAST roundtrip and the rest share it.
func (s *Server) assetListHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	if !session.ValidID(sid) {
		writeError(w, r, newStitchError(errInvalidRequest, "invalid session id", nil))
		return
	}
	s.touchSession(r.Context(), sid)
	breakID := chi.URLParam(r, "breakID")
	durS, err := strconv.ParseFloat(r.URL.Query().Get("dur"), 64)
	if err != nil || durS <= 0 {
		writeError(w, r, newStitchError(errInvalidRequest, "missing or bad dur parameter", err))
		return
	}

	pod := s.resolver.Pod(r.Context(), breakID, durS)
	urls := proxyurl.Builder{BaseURL: s.Cfg.BaseURL, SessionID: sid}
	resp := assetListResponse{Assets: []assetListEntry{}}
	slateIdx := 0
	for adIdx := range pod.Ads {
		ad := &pod.Ads[adIdx]
		if len(ad.Segments) == 0 {
			continue
		}
		uri := urls.Ad(adSegmentName(breakID, adIdx, 0, ad.Segments[0].URI))
		if ad.Slate {
			uri = urls.Slate(slateIdx)
			slateIdx += len(ad.Segments)
		}
		resp.Assets = append(resp.Assets, assetListEntry{URI: uri, Duration: ad.DurationS})
	}
	s.jsonResponse(w, resp, http.StatusOK)
}
