package vast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Limits for wrapper chain resolution. The whole chain shares one deadline
// so a slow wrapper hop cannot stall playback.
const (
	MaxWrapperDepth     = 5
	DefaultChainTimeout = 2 * time.Second
	maxResponseBytes    = 4 << 20
)

var (
	ErrWrapperDepth = errors.New("wrapper chain too deep")
	ErrWrapperCycle = errors.New("wrapper chain cycle")
)

// ResolvedAd is an inline ad with impression, error, and tracking URLs
// merged down from every wrapper that led to it.
type ResolvedAd struct {
	ID          string
	Sequence    int
	Title       string
	DurationS   float64
	MediaFiles  []MediaFile
	Impressions []string
	ErrorURLs   []string
	Tracking    map[string][]string
}

// Client fetches VAST documents and resolves wrapper chains.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	maxDepth   int
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultChainTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		maxDepth:   MaxWrapperDepth,
	}
}

// ExpandMacros fills in the ad request macros supported by the stitcher.
func ExpandMacros(tagURL string, durS float64) string {
	r := strings.NewReplacer(
		"[DURATION]", strconv.Itoa(int(durS+0.5)),
		"[CACHEBUSTING]", fmt.Sprintf("%08d", rand.Intn(100_000_000)),
	)
	return r.Replace(tagURL)
}

// FetchAds requests tagURL and resolves all wrappers, returning the playable
// inline ads in pod order. An empty slice with nil error is a no-fill.
func (c *Client) FetchAds(ctx context.Context, tagURL string) ([]ResolvedAd, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	visited := map[string]bool{}
	ads, err := c.resolve(ctx, tagURL, visited, 0, inheritedTrackers{})
	if err != nil {
		return nil, err
	}
	// Sequenced ads form a pod and play first, in sequence order.
	sort.SliceStable(ads, func(i, j int) bool {
		si, sj := ads[i].Sequence, ads[j].Sequence
		if si > 0 && sj > 0 {
			return si < sj
		}
		return si > 0 && sj <= 0
	})
	return ads, nil
}

// inheritedTrackers carries wrapper-level URLs down the chain. Each descent
// copies so sibling branches stay independent.
type inheritedTrackers struct {
	impressions []string
	errorURLs   []string
	tracking    map[string][]string
}

func (inh inheritedTrackers) extend(w *Wrapper) inheritedTrackers {
	next := inheritedTrackers{
		impressions: append(append([]string{}, inh.impressions...), w.Impressions...),
		errorURLs:   append(append([]string{}, inh.errorURLs...), w.Errors...),
		tracking:    map[string][]string{},
	}
	for ev, urls := range inh.tracking {
		next.tracking[ev] = append([]string{}, urls...)
	}
	for _, cr := range w.Creatives {
		if cr.Linear == nil {
			continue
		}
		for _, tr := range cr.Linear.TrackingEvents {
			if tr.URL != "" {
				next.tracking[tr.Event] = append(next.tracking[tr.Event], tr.URL)
			}
		}
	}
	return next
}

func (c *Client) resolve(ctx context.Context, tagURL string, visited map[string]bool,
	depth int, inh inheritedTrackers) ([]ResolvedAd, error) {
	if depth > c.maxDepth {
		return nil, ErrWrapperDepth
	}
	if visited[tagURL] {
		return nil, ErrWrapperCycle
	}
	visited[tagURL] = true
	doc, err := c.fetchDoc(ctx, tagURL)
	if err != nil {
		return nil, err
	}
	var out []ResolvedAd
	for i := range doc.Ads {
		ad := &doc.Ads[i]
		switch {
		case ad.InLine != nil:
			if ra, ok := buildResolvedAd(ad, inh); ok {
				out = append(out, ra)
			}
		case ad.Wrapper != nil:
			if ad.Wrapper.VASTAdTagURI == "" {
				slog.Warn("wrapper without VASTAdTagURI", "adID", ad.ID)
				continue
			}
			sub, err := c.resolve(ctx, ad.Wrapper.VASTAdTagURI, visited, depth+1, inh.extend(ad.Wrapper))
			if err != nil {
				// A dead wrapper branch loses its ads, not the whole response
				slog.Warn("wrapper resolution failed", "adID", ad.ID, "err", err)
				continue
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func buildResolvedAd(ad *Ad, inh inheritedTrackers) (ResolvedAd, bool) {
	lin := ad.InLine.linear()
	if lin == nil {
		return ResolvedAd{}, false
	}
	durS, err := ParseDuration(lin.Duration)
	if err != nil || durS <= 0 {
		slog.Warn("skipping ad with unusable duration", "adID", ad.ID, "duration", lin.Duration)
		return ResolvedAd{}, false
	}
	if SelectMediaFile(lin.MediaFiles, DefaultTargetBitrateKbps) == nil {
		slog.Warn("skipping ad without usable media file", "adID", ad.ID)
		return ResolvedAd{}, false
	}
	ra := ResolvedAd{
		ID:          ad.ID,
		Sequence:    ad.Sequence,
		Title:       ad.InLine.AdTitle,
		DurationS:   durS,
		MediaFiles:  lin.MediaFiles,
		Impressions: append(append([]string{}, inh.impressions...), ad.InLine.Impressions...),
		ErrorURLs:   append(append([]string{}, inh.errorURLs...), ad.InLine.Errors...),
		Tracking:    map[string][]string{},
	}
	for ev, urls := range inh.tracking {
		ra.Tracking[ev] = append([]string{}, urls...)
	}
	for _, tr := range lin.TrackingEvents {
		if tr.URL != "" {
			ra.Tracking[tr.Event] = append(ra.Tracking[tr.Event], tr.URL)
		}
	}
	return ra, true
}

func (c *Client) fetchDoc(ctx context.Context, tagURL string) (*VAST, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create VAST request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch VAST: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch VAST %s: status %d", tagURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read VAST response: %w", err)
	}
	return Parse(data)
}
