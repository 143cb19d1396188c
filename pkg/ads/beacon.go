package ads

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Beacon events in firing order.
const (
	BeaconImpression    = "impression"
	BeaconStart         = "start"
	BeaconFirstQuartile = "firstQuartile"
	BeaconMidpoint      = "midpoint"
	BeaconThirdQuartile = "thirdQuartile"
	BeaconComplete      = "complete"
	BeaconError         = "error"
)

const (
	bitImpression = 1 << iota
	bitStart
	bitFirstQuartile
	bitMidpoint
	bitThirdQuartile
	bitComplete
	bitError
)

// errorCodeLinear is the VAST error code reported when ad media cannot be
// fetched (VAST "General Linear error").
const errorCodeLinear = "400"

// Tracker fires tracking beacons for delivered ad segments. Each
// (session, break, ad, event) fires at most once; progress is measured by
// the cumulative duration of delivered segments.
type Tracker struct {
	mu      sync.Mutex
	fired   map[string]uint8
	client  *http.Client
	timeout time.Duration
	onFired func(event string)
}

func NewTracker(timeout time.Duration, onFired func(event string)) *Tracker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Tracker{
		fired:   make(map[string]uint8),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		onFired: onFired,
	}
}

func beaconKey(sessionID, breakID string, adIdx int) string {
	return fmt.Sprintf("%s|%s|%d", sessionID, breakID, adIdx)
}

// SegmentDelivered fires the beacons due after segment segIdx of the ad has
// been served to the session. Quartile events fire when the delivered
// duration crosses the quarter marks; completion fires on the last segment.
func (t *Tracker) SegmentDelivered(sessionID, breakID string, adIdx int, ad *Ad, segIdx int) {
	if segIdx < 0 || segIdx >= len(ad.Segments) {
		return
	}
	var deliveredS float64
	for i := 0; i <= segIdx; i++ {
		deliveredS += ad.Segments[i].DurationS
	}
	progress := 1.0
	if ad.DurationS > 0 {
		progress = deliveredS / ad.DurationS
	}
	last := segIdx == len(ad.Segments)-1

	checks := []struct {
		bit       uint8
		event     string
		threshold float64
		urls      []string
	}{
		{bitImpression, BeaconImpression, 0, ad.Tracking.Impression},
		{bitStart, BeaconStart, 0, ad.Tracking.Start},
		{bitFirstQuartile, BeaconFirstQuartile, 0.25, ad.Tracking.FirstQuartile},
		{bitMidpoint, BeaconMidpoint, 0.5, ad.Tracking.Midpoint},
		{bitThirdQuartile, BeaconThirdQuartile, 0.75, ad.Tracking.ThirdQuartile},
		{bitComplete, BeaconComplete, 1.0, ad.Tracking.Complete},
	}
	key := beaconKey(sessionID, breakID, adIdx)
	for _, c := range checks {
		due := progress+1e-9 >= c.threshold
		if c.bit == bitComplete {
			due = last
		}
		if !due || !t.claim(key, c.bit) {
			continue
		}
		t.fire(c.event, c.urls, "")
	}
}

// AdFailed fires the ad's error beacons after a failed media fetch.
func (t *Tracker) AdFailed(sessionID, breakID string, adIdx int, ad *Ad) {
	key := beaconKey(sessionID, breakID, adIdx)
	if !t.claim(key, bitError) {
		return
	}
	t.fire(BeaconError, ad.Tracking.Error, errorCodeLinear)
}

// Forget drops all beacon state belonging to a session.
func (t *Tracker) Forget(sessionID string) {
	prefix := sessionID + "|"
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.fired {
		if strings.HasPrefix(k, prefix) {
			delete(t.fired, k)
		}
	}
}

// claim marks the event fired and reports whether this call won the claim.
func (t *Tracker) claim(key string, bit uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired[key]&bit != 0 {
		return false
	}
	t.fired[key] |= bit
	return true
}

// fire dispatches the URLs fire-and-forget. Tracking failures are logged
// and never surfaced to the player.
func (t *Tracker) fire(event string, urls []string, errorCode string) {
	if len(urls) == 0 {
		return
	}
	if t.onFired != nil {
		t.onFired(event)
	}
	for _, u := range urls {
		if errorCode != "" {
			u = strings.ReplaceAll(u, "[ERRORCODE]", errorCode)
		}
		go func(u string) {
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				slog.Debug("bad beacon URL", "event", event, "url", u, "err", err)
				return
			}
			resp, err := t.client.Do(req)
			if err != nil {
				slog.Debug("beacon failed", "event", event, "url", u, "err", err)
				return
			}
			resp.Body.Close()
			slog.Debug("beacon fired", "event", event, "url", u, "status", resp.StatusCode)
		}(u)
	}
}
