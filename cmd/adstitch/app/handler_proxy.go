package app

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
)

const mediaRetryWait = 500 * time.Millisecond

// segmentHandlerFunc proxies a content segment. The wildcard remainder is
// either an encoded URI (HLS) or an encoded base followed by the path the
// player appended (DASH).
func (s *Server) segmentHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.touchSession(r.Context(), chi.URLParam(r, "sessionID"))
	upstream, err := proxyurl.ResolveSegmentPath(chi.URLParam(r, "*"),
		r.URL.Query().Get("origin"))
	if err != nil {
		writeError(w, r, newStitchError(errInvalidRequest, "bad segment reference", err))
		return
	}
	if err := s.proxyMedia(w, r, upstream); err != nil {
		writeError(w, r, err)
	}
}

// adHandlerFunc proxies one ad segment and fires tracking beacons tied to
// delivery progress.
func (s *Server) adHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	s.touchSession(r.Context(), sid)
	ref, err := ads.ParseSegmentName(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, newStitchError(errInvalidRequest, "bad ad segment name", err))
		return
	}
	pod, ok := s.resolver.Cache.Lookup(ref.BreakID)
	if !ok || ref.AdIdx >= len(pod.Ads) {
		writeError(w, r, newStitchError(errNotFound, "unknown ad break", nil))
		return
	}
	ad := &pod.Ads[ref.AdIdx]
	if ref.SegIdx >= len(ad.Segments) {
		writeError(w, r, newStitchError(errNotFound, "unknown ad segment", nil))
		return
	}
	if err := s.proxyMedia(w, r, ad.Segments[ref.SegIdx].URI); err != nil {
		s.tracker.AdFailed(sid, ref.BreakID, ref.AdIdx, ad)
		writeError(w, r, err)
		return
	}
	s.tracker.SegmentDelivered(sid, ref.BreakID, ref.AdIdx, ad, ref.SegIdx)
}

// slateHandlerFunc proxies a slate segment. Slate has no tracking.
func (s *Server) slateHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.touchSession(r.Context(), chi.URLParam(r, "sessionID"))
	if s.Cfg.SlateURL == "" {
		writeError(w, r, newStitchError(errNotFound, "no slate configured", nil))
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 0 {
		writeError(w, r, newStitchError(errInvalidRequest, "bad slate index", err))
		return
	}
	if err := s.proxyMedia(w, r, ads.SlateSegmentURL(s.Cfg.SlateURL, idx)); err != nil {
		writeError(w, r, err)
	}
}

// proxyMedia streams an upstream media resource to the client, preserving
// Range requests and forwarding content headers. Connect errors and 5xx
// get one retry. Once the body stream has started errors can only be
// logged, so any returned error means nothing was written yet.
func (s *Server) proxyMedia(w http.ResponseWriter, r *http.Request, upstream string) error {
	if err := s.checkUpstream(upstream); err != nil {
		return newStitchError(errInvalidRequest, "invalid media URL", err)
	}
	resp, err := s.mediaRequest(r, upstream)
	if err != nil || resp.StatusCode >= 500 {
		if resp != nil {
			resp.Body.Close()
		}
		select {
		case <-r.Context().Done():
			return newStitchError(errUpstreamTimeout, "media fetch timeout", r.Context().Err())
		case <-time.After(mediaRetryWait):
		}
		resp, err = s.mediaRequest(r, upstream)
	}
	if err != nil {
		if isTimeout(err) {
			return newStitchError(errUpstreamTimeout, "media fetch timeout", err)
		}
		return newStitchError(errOriginUnavailable, "media unavailable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStitchError(errOriginUnavailable, "media unavailable",
			statusError{status: resp.StatusCode})
	}
	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return nil
}

func (s *Server) mediaRequest(r *http.Request, upstream string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstream, nil)
	if err != nil {
		return nil, err
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	resp, err := s.mediaClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
