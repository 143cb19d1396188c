// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dash-Industry-Forum/adstitch/internal"
	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/logging"
	"github.com/Dash-Industry-Forum/adstitch/pkg/session"

	_ "net/http/pprof"
)

const sessionReapInterval = 30 * time.Second

type Server struct {
	Router       *chi.Mux
	Cfg          *ServerConfig
	store        session.Store
	resolver     *ads.CachedResolver
	tracker      *ads.Tracker
	originClient *http.Client
	mediaClient  *http.Client
	startTime    time.Time
}

// SetupServer sets up router, middleware, and server, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	r.Use(NewPrometheusMiddleware())
	if cfg.MaxRequests > 0 {
		r.Use(NewIPRequestLimiter("Adstitch-Requests", cfg.MaxRequests,
			time.Duration(cfg.ReqLimitInt)*time.Second))
	}
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	r.Mount("/metrics", promhttp.Handler())

	server := Server{
		Router:    r,
		Cfg:       cfg,
		startTime: time.Now(),
		originClient: &http.Client{
			Timeout: time.Duration(cfg.OriginTimeoutS) * time.Second,
		},
		mediaClient: &http.Client{
			Timeout: time.Duration(cfg.MediaTimeoutS) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
			},
		},
	}

	server.tracker = ads.NewTracker(time.Duration(cfg.BeaconTimeoutS)*time.Second,
		func(event string) { domainMetrics.beaconsFired.WithLabelValues(event).Inc() })

	store, err := newSessionStore(ctx, cfg, server.tracker.Forget)
	if err != nil {
		return nil, err
	}
	server.store = store

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	server.resolver = &ads.CachedResolver{
		Cache:    ads.NewBreakCache(time.Duration(cfg.CacheTTLS) * time.Second),
		Provider: provider,
	}

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	go server.runBackground(ctx)

	slog.Info("adstitch starting", "version", internal.GetVersion(),
		"port", cfg.Port, "mode", cfg.Mode, "provider", provider.Name(),
		"sessionStore", cfg.SessionStore)
	return &server, nil
}

func newSessionStore(ctx context.Context, cfg *ServerConfig, onEvict func(id string)) (session.Store, error) {
	ttl := time.Duration(cfg.SessionTTLS) * time.Second
	switch cfg.SessionStore {
	case StoreRedis:
		store, err := session.NewRedisStore(cfg.RedisURL, ttl, onEvict)
		if err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(ttl, onEvict), nil
	}
}

func newProvider(cfg *ServerConfig) (ads.Provider, error) {
	var p ads.Provider
	switch cfg.AdProviderType {
	case ProviderVAST:
		p = ads.NewVASTProvider(cfg.VASTEndpoint,
			time.Duration(cfg.VASTTimeoutS)*time.Second, cfg.TargetBitrateKbps,
			func(result string) { domainMetrics.vastRequests.WithLabelValues(result).Inc() })
	case ProviderStatic:
		p = ads.NewStaticProvider(cfg.AdSourceURL, cfg.AdSegDurS)
	default:
		return nil, fmt.Errorf("unknown ad provider type %q", cfg.AdProviderType)
	}
	if cfg.SlateURL != "" {
		p = ads.NewSlateWrapper(p, cfg.SlateURL, cfg.SlateSegDurS,
			func() { domainMetrics.slateFallbacks.Inc() })
	}
	return p, nil
}

// runBackground runs the cache purger, the session reaper, and the active
// sessions gauge until ctx is done.
func (s *Server) runBackground(ctx context.Context) {
	go s.resolver.Cache.RunPurger(ctx, time.Minute)
	ticker := time.NewTicker(sessionReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.store.ReapExpired(ctx); err != nil {
				slog.Warn("session reap failed", "err", err)
			} else if n > 0 {
				slog.Debug("reaped expired sessions", "count", n)
			}
			if n, err := s.store.Count(ctx); err == nil {
				domainMetrics.activeSessions.Set(float64(n))
			}
		}
	}
}

type healthzResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	ActiveSessions int     `json:"active_sessions"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.jsonResponse(w, healthzResponse{Status: "degraded", Version: internal.GetVersion()},
			http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, healthzResponse{
		Status:         "ok",
		Version:        internal.GetVersion(),
		ActiveSessions: n,
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
	}, http.StatusOK)
}

func (s *Server) indexHandlerFunc(w http.ResponseWriter, r *http.Request) {
	banner := fmt.Sprintf(`adstitch %s

HLS/DASH manifest ad stitcher (SSAI and SGAI).

  GET /stitch/{session}/playlist.m3u8?origin={url}
  GET /stitch/{session}/manifest.mpd?origin={url}
  GET /healthz
  GET /metrics
  GET /demo/playlist.m3u8
  GET /demo/manifest.mpd
`, internal.GetVersion())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(banner))
}

// jsonResponse marshals message and gives a response with code.
//
// Don't add any more content after this since Content-Length is set.
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{message: \"%s\"}", err), http.StatusInternalServerError)
		slog.Error(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(code)
	_, err = w.Write(raw)
	if err != nil {
		slog.Error("could not write HTTP response", "err", err)
	}
}
