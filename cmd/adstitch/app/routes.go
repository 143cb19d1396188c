// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dash-Industry-Forum/adstitch/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	if s.Cfg.DevMode {
		s.Router.Mount("/debug", middleware.Profiler())
	}
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)

	s.Router.Route("/stitch/{sessionID}", func(r chi.Router) {
		r.Get("/playlist.m3u8", s.playlistHandlerFunc)
		r.Get("/manifest.mpd", s.mpdHandlerFunc)
		r.Get("/playlist/{encoded}", s.variantHandlerFunc)
		r.Get("/segment/*", s.segmentHandlerFunc)
		r.Get("/ad/{name}", s.adHandlerFunc)
		r.Get("/slate/{idx}", s.slateHandlerFunc)
		r.Get("/asset-list/{breakID}", s.assetListHandlerFunc)
	})

	s.Router.Route("/demo", func(r chi.Router) {
		r.Get("/playlist.m3u8", s.demoPlaylistHandlerFunc)
		r.Get("/manifest.mpd", s.demoMPDHandlerFunc)
		r.Get("/*", s.demoMediaHandlerFunc)
	})

	s.Router.Route("/api", createRouteAPI(s))

	s.Router.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)
	s.Router.MethodFunc("GET", "/", s.indexHandlerFunc)
	return nil
}

func (s *Server) optionsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
