// Package session tracks playback sessions across manifest and segment
// requests. Sessions are identified by a client-chosen token and expire
// after a configurable idle time.
package session

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// ErrNotFound is returned for lookups and touches of unknown sessions.
var ErrNotFound = errors.New("session not found")

// Session is the per-viewer state the stitcher keeps between requests.
type Session struct {
	ID        string    `json:"id"`
	OriginURL string    `json:"originUrl"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Store is the session persistence interface. Implementations must be safe
// for concurrent use.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it when
	// absent. The bool reports whether it was created.
	GetOrCreate(ctx context.Context, id, originURL, mode string) (*Session, bool, error)
	// Get returns the session, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// Touch refreshes the session's idle timer. It never creates and
	// returns ErrNotFound for unknown ids.
	Touch(ctx context.Context, id string) error
	// Delete removes the session if present.
	Delete(ctx context.Context, id string) error
	// ReapExpired evicts idle sessions and returns how many went.
	// Stores with native expiry may return 0 without scanning.
	ReapExpired(ctx context.Context) (int, error)
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)
}

var validIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidID reports whether id is an acceptable session token.
func ValidID(id string) bool {
	return validIDRe.MatchString(id)
}
