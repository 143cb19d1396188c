// Package ads provides ad decisioning for manifest stitching: break
// identity, pluggable ad providers, the shared break cache, and tracking
// beacon dispatch.
package ads

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

// Segment is one media segment of an ad.
type Segment struct {
	URI       string
	DurationS float64
}

// Tracking holds the beacon URL sets of one ad.
type Tracking struct {
	Impression    []string
	Start         []string
	FirstQuartile []string
	Midpoint      []string
	ThirdQuartile []string
	Complete      []string
	Error         []string
}

// Ad is a resolved ad ready for stitching.
type Ad struct {
	ID        string
	Segments  []Segment
	DurationS float64
	Slate     bool
	Tracking  Tracking
}

// AdPod is the ordered set of ads filling one break. A pod with no ads
// means no fill.
type AdPod struct {
	Ads       []Ad
	DurationS float64
}

// Empty returns true if the pod has no ads.
func (p AdPod) Empty() bool {
	return len(p.Ads) == 0
}

// BreakID derives a stable break identifier from the origin URL and the
// break's position key. Every instance seeing the same origin break derives
// the same id, so cached pods and segment names agree across replicas.
func BreakID(originURL, startKey string) string {
	sum := sha256.Sum256([]byte(originURL + ":" + startKey))
	return hex.EncodeToString(sum[:8])
}

// SegmentRef addresses one segment of one ad within a break. It travels
// inside proxied segment names, so it must parse back without state.
type SegmentRef struct {
	BreakID string
	AdIdx   int
	SegIdx  int
	Ext     string
}

// Name formats the ref as a path element: b-<breakID>-a<adIdx>-s<segIdx><ext>
func (r SegmentRef) Name() string {
	return fmt.Sprintf("b-%s-a%d-s%d%s", r.BreakID, r.AdIdx, r.SegIdx, r.Ext)
}

var segmentNameRe = regexp.MustCompile(`^b-([0-9a-f]{16})-a(\d+)-s(\d+)(\.[A-Za-z0-9]+)?$`)

// ParseSegmentName parses a name produced by SegmentRef.Name.
func ParseSegmentName(name string) (SegmentRef, error) {
	m := segmentNameRe.FindStringSubmatch(name)
	if m == nil {
		return SegmentRef{}, fmt.Errorf("bad ad segment name %q", name)
	}
	adIdx, err := strconv.Atoi(m[2])
	if err != nil {
		return SegmentRef{}, fmt.Errorf("bad ad index in %q", name)
	}
	segIdx, err := strconv.Atoi(m[3])
	if err != nil {
		return SegmentRef{}, fmt.Errorf("bad segment index in %q", name)
	}
	return SegmentRef{BreakID: m[1], AdIdx: adIdx, SegIdx: segIdx, Ext: m[4]}, nil
}
