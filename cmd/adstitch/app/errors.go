package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type errKind int

const (
	errInvalidRequest errKind = iota
	errOriginUnavailable
	errManifestMalformed
	errUpstreamTimeout
	errNotFound
	errInternal
)

func (k errKind) status() int {
	switch k {
	case errInvalidRequest:
		return http.StatusBadRequest
	case errOriginUnavailable, errManifestMalformed:
		return http.StatusBadGateway
	case errUpstreamTimeout:
		return http.StatusGatewayTimeout
	case errNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// stitchError carries the public message for a request failure. The cause
// is logged but never echoed to the client.
type stitchError struct {
	kind  errKind
	msg   string
	cause error
}

func newStitchError(kind errKind, msg string, cause error) *stitchError {
	return &stitchError{kind: kind, msg: msg, cause: cause}
}

func (e *stitchError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *stitchError) Unwrap() error { return e.cause }

// asStitchError maps any handler error to its public form.
func asStitchError(err error) *stitchError {
	var se *stitchError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newStitchError(errUpstreamTimeout, "upstream timeout", err)
	}
	return newStitchError(errInternal, "internal error", err)
}

// writeError logs the full error and responds with the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := asStitchError(err)
	status := se.kind.status()
	lvl := slog.LevelWarn
	if status >= 500 && se.kind == errInternal {
		lvl = slog.LevelError
	}
	slog.Log(r.Context(), lvl, "request failed", "path", r.URL.Path,
		"status", status, "err", se.Error())
	raw, _ := json.Marshal(map[string]string{"error": se.msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
