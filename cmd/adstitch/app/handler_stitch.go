package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/adstitch/pkg/dash"
	"github.com/Dash-Industry-Forum/adstitch/pkg/hls"
	"github.com/Dash-Industry-Forum/adstitch/pkg/proxyurl"
	"github.com/Dash-Industry-Forum/adstitch/pkg/session"
)

const (
	contentTypeHLS = "application/vnd.apple.mpegurl"
	contentTypeMPD = "application/dash+xml"

	originRetryWait = 500 * time.Millisecond
	maxManifestSize = 20 << 20
)

// playlistHandlerFunc serves the stitched HLS entry point. Master playlists
// pass through with rewritten URIs, media playlists get stitched.
func (s *Server) playlistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sess, origin, err := s.manifestSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.serveStitchedPlaylist(w, r, sess, origin)
}

// variantHandlerFunc serves a variant or rendition playlist referenced from
// a rewritten master playlist.
func (s *Server) variantHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sess, origin, err := s.manifestSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uri, err := proxyurl.DecodeURI(chi.URLParam(r, "encoded"))
	if err != nil {
		writeError(w, r, newStitchError(errInvalidRequest, "bad playlist reference", err))
		return
	}
	variantURL, err := proxyurl.Absolute(uri, origin)
	if err != nil {
		writeError(w, r, newStitchError(errInvalidRequest, "bad playlist reference", err))
		return
	}
	s.serveStitchedPlaylist(w, r, sess, variantURL)
}

func (s *Server) serveStitchedPlaylist(w http.ResponseWriter, r *http.Request,
	sess *session.Session, originURL string) {
	ctx := r.Context()
	body, err := s.fetchOrigin(ctx, originURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pl, listType, err := hls.Parse(body)
	if err != nil {
		writeError(w, r, newStitchError(errManifestMalformed, "origin playlist malformed", err))
		return
	}
	o := hls.Options{
		SessionID: sess.ID,
		BaseURL:   s.Cfg.BaseURL,
		OriginURL: originURL,
	}
	switch listType {
	case m3u8.MASTER:
		master := hls.RewriteMaster(pl.(*m3u8.MasterPlaylist), o)
		writeManifest(w, contentTypeHLS, master.Encode().Bytes())
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		breaks := hls.DetectBreaks(media, originURL)
		domainMetrics.breaksDetected.Add(float64(len(breaks)))
		var out *m3u8.MediaPlaylist
		var stitchErr error
		if sess.Mode == ModeSGAI {
			out, stitchErr = hls.StitchSGAI(media, o, breaks)
		} else {
			out, stitchErr = hls.StitchSSAI(ctx, media, o, breaks, s.resolver,
				domainMetrics.unfilledBreaks.Inc)
		}
		if stitchErr != nil {
			writeError(w, r, newStitchError(errInternal, "stitching failed", stitchErr))
			return
		}
		writeManifest(w, contentTypeHLS, out.Encode().Bytes())
	default:
		writeError(w, r, newStitchError(errManifestMalformed, "origin playlist malformed", nil))
	}
}

// mpdHandlerFunc serves the stitched DASH manifest.
func (s *Server) mpdHandlerFunc(w http.ResponseWriter, r *http.Request) {
	sess, origin, err := s.manifestSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	body, err := s.fetchOrigin(ctx, origin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mpd, err := dash.Parse(body)
	if err != nil {
		writeError(w, r, newStitchError(errManifestMalformed, "origin mpd malformed", err))
		return
	}
	o := dash.Options{
		SessionID: sess.ID,
		BaseURL:   s.Cfg.BaseURL,
		MPDURL:    origin,
	}
	breaks, err := dash.DetectBreaks(body, origin)
	if err != nil {
		writeError(w, r, newStitchError(errManifestMalformed, "origin mpd malformed", err))
		return
	}
	domainMetrics.breaksDetected.Add(float64(len(breaks)))
	if err := dash.Stitch(ctx, mpd, breaks, o, s.resolver,
		domainMetrics.unfilledBreaks.Inc); err != nil {
		writeError(w, r, newStitchError(errInternal, "stitching failed", err))
		return
	}
	out, err := dash.Write(mpd)
	if err != nil {
		writeError(w, r, newStitchError(errInternal, "stitching failed", err))
		return
	}
	writeManifest(w, contentTypeMPD, out)
}

// manifestSession validates the session id and origin, and creates or
// refreshes the session.
func (s *Server) manifestSession(r *http.Request) (*session.Session, string, error) {
	sid := chi.URLParam(r, "sessionID")
	if !session.ValidID(sid) {
		return nil, "", newStitchError(errInvalidRequest, "invalid session id", nil)
	}
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = s.Cfg.OriginURL
	}
	if origin == "" {
		return nil, "", newStitchError(errInvalidRequest, "missing origin parameter", nil)
	}
	if err := s.checkUpstream(origin); err != nil {
		return nil, "", newStitchError(errInvalidRequest, "invalid origin URL", err)
	}
	sess, created, err := s.store.GetOrCreate(r.Context(), sid, origin, s.Cfg.Mode)
	if err != nil {
		return nil, "", newStitchError(errInternal, "session store failure", err)
	}
	if created {
		slog.Info("session created", "sessionID", sid, "mode", sess.Mode)
	}
	return sess, origin, nil
}

// touchSession refreshes the session without creating one. Unknown ids are
// tolerated so that players can drain already fetched manifests.
func (s *Server) touchSession(ctx context.Context, sid string) {
	if !session.ValidID(sid) {
		return
	}
	if err := s.store.Touch(ctx, sid); err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Warn("session touch failed", "sessionID", sid, "err", err)
	}
}

func writeManifest(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

// fetchOrigin GETs a manifest with one retry on connect errors and 5xx.
func (s *Server) fetchOrigin(ctx context.Context, rawURL string) ([]byte, error) {
	if err := s.checkUpstream(rawURL); err != nil {
		return nil, newStitchError(errInvalidRequest, "invalid origin URL", err)
	}
	body, err := s.fetchOriginOnce(ctx, rawURL)
	if err == nil {
		return body, nil
	}
	if retryableFetch(err) {
		select {
		case <-ctx.Done():
		case <-time.After(originRetryWait):
			if body, err2 := s.fetchOriginOnce(ctx, rawURL); err2 == nil {
				return body, nil
			} else {
				err = err2
			}
		}
	}
	domainMetrics.originFetchErrors.Inc()
	if isTimeout(err) {
		return nil, newStitchError(errUpstreamTimeout, "origin timeout", err)
	}
	return nil, newStitchError(errOriginUnavailable, "origin unavailable", err)
}

// statusError marks responses that may be retried (5xx).
type statusError struct {
	status int
}

func (e statusError) Error() string {
	return fmt.Sprintf("origin status %d", e.status)
}

func (s *Server) fetchOriginOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.originClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError{status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}
	return body, nil
}

func retryableFetch(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return !isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
