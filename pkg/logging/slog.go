// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.
package logging

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Different types of logging
const (
	LogText    string = "text"
	LogJSON    string = "json"
	LogPretty  string = "pretty"
	LogDiscard string = "discard"
)

var logLevel *slog.LevelVar

// LogFormats returns the allowed log formats.
var LogFormats = []string{LogText, LogJSON, LogPretty, LogDiscard}

// LogLevels returns the allowed log levels.
var LogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// LogLevel returns the current log level.
func LogLevel() string {
	return logLevel.Level().String()
}

// parseLevel parses a log level string. If the string is empty, INFO is assumed.
func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelDebug, fmt.Errorf("log level %q not known", level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level string) error {
	l, err := parseLevel(level)
	if err != nil {
		return err
	}
	logLevel.Set(l)
	return nil
}

// SlogMiddleWare logs one access line per request after the handler has
// run, and converts panics to stack traces with a 500 response.
func SlogMiddleWare(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			inPath := r.URL.Path

			defer func() {
				if rec := recover(); rec != nil {
					l.Error("runtime error (panic)",
						"request_id", GetRequestID(r),
						"recover_info", rec,
						"debug_stack", debug.Stack())
					http.Error(ww, http.StatusText(http.StatusInternalServerError),
						http.StatusInternalServerError)
				}
				logAccess(l, r, ww, inPath, time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// logAccess writes the access line. Status and byte counts come from the
// wrapped writer so they reflect the response actually sent.
func logAccess(l *slog.Logger, r *http.Request, ww middleware.WrapResponseWriter,
	inPath string, latency time.Duration) {
	la := l.With(
		"request_id", GetRequestID(r),
		"remote_ip", r.RemoteAddr,
		"proto", r.Proto,
		"method", r.Method,
		"user_agent", r.Header.Get("User-Agent"),
		"status", ww.Status(),
		"latency_ms", fmt.Sprintf("%.3f", float64(latency.Nanoseconds())/1e6),
		"bytes_out", ww.BytesWritten())
	if inPath != r.URL.Path {
		// The path was rewritten while handling, log both ends.
		la = la.With("url", inPath, "location", r.URL.Path)
	} else {
		la = la.With("url", r.URL.Path)
	}
	if bytesIn := r.Header.Get("Content-Length"); bytesIn != "" {
		la = la.With("bytes_in", bytesIn)
	}
	la.Info("request")
}

// GetRequestID returns the request ID.
func GetRequestID(r *http.Request) string {
	requestID, ok := r.Context().Value(middleware.RequestIDKey).(string)
	if !ok {
		requestID = "-"
	}
	return requestID
}

// SubLoggerWithRequestID creates a new sub-logger with request_id field.
func SubLoggerWithRequestID(l *slog.Logger, r *http.Request) *slog.Logger {
	return l.With(slog.String("request_id", GetRequestID(r)))
}
