// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}
	prometheusMW   prometheusMiddleware
	domainMetrics  stitchMetrics
)

const (
	manifestReqsName    = "manifest_requests_total"
	manifestLatencyName = "manifest_request_duration_milliseconds"
	segReqsName         = "segment_requests_total"
	segLatencyName      = "segment_request_duration_milliseconds"
	service             = "adstitch"
)

// prometheusMiddleware provides a handler that exposes prometheus metrics
// for manifest and segment requests.
type prometheusMiddleware struct {
	manifestReqs    *prometheus.CounterVec
	manifestLatency *prometheus.HistogramVec
	segReqs         *prometheus.CounterVec
	segLatency      *prometheus.HistogramVec
}

// stitchMetrics are the stitching domain counters and gauges.
type stitchMetrics struct {
	activeSessions    prometheus.Gauge
	breaksDetected    prometheus.Counter
	vastRequests      *prometheus.CounterVec
	slateFallbacks    prometheus.Counter
	unfilledBreaks    prometheus.Counter
	originFetchErrors prometheus.Counter
	beaconsFired      *prometheus.CounterVec
}

func init() {
	prometheusMW.manifestReqs = newCounter(manifestReqsName,
		"Number of manifest requests processed, partitioned by status code.", service)
	prometheusMW.manifestLatency = newHistogram(manifestLatencyName,
		"Manifest response latency.", service, defaultBuckets)
	prometheusMW.segReqs = newCounter(segReqsName,
		"Number of segment requests processed, partitioned by status code.", service)
	prometheusMW.segLatency = newHistogram(segLatencyName,
		"Segment response latency.", service, defaultBuckets)

	domainMetrics.activeSessions = newGauge("active_sessions",
		"Number of active stitching sessions.")
	domainMetrics.breaksDetected = newPlainCounter("ad_breaks_detected_total",
		"Number of ad breaks detected in origin manifests.")
	domainMetrics.vastRequests = newLabeledCounter("vast_requests_total",
		"Number of VAST resolutions, partitioned by result.", "result")
	domainMetrics.slateFallbacks = newPlainCounter("slate_fallbacks_total",
		"Number of ad breaks filled with slate.")
	domainMetrics.unfilledBreaks = newPlainCounter("unfilled_breaks_total",
		"Number of ad breaks passed through unfilled.")
	domainMetrics.originFetchErrors = newPlainCounter("origin_fetch_errors_total",
		"Number of failed origin manifest fetches.")
	domainMetrics.beaconsFired = newLabeledCounter("beacons_fired_total",
		"Number of tracking beacons fired, partitioned by event.", "event")
}

// NewPrometheusMiddleware returns a new prometheus middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		switch {
		case strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".mpd") ||
			strings.Contains(path, "/playlist/"):
			mw.manifestReqs.WithLabelValues(status).Inc()
			mw.manifestLatency.WithLabelValues(status).Observe(latencyMS)
		case strings.Contains(path, "/segment/") || strings.Contains(path, "/ad/") ||
			strings.Contains(path, "/slate/"):
			mw.segReqs.WithLabelValues(status).Inc()
			mw.segLatency.WithLabelValues(status).Observe(latencyMS)
		}
	}
	return http.HandlerFunc(fn)
}

func newCounter(counterName, help, serviceName string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{"code"},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(g)
	return g
}

func newPlainCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(c)
	return c
}

func newLabeledCounter(name, help, label string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	},
		[]string{label},
	)
	prometheus.MustRegister(cv)
	return cv
}
