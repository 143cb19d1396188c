package ads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dash-Industry-Forum/adstitch/pkg/vast"
)

// Outcomes of one VAST resolution, reported through the onResult hook.
const (
	VASTResultFilled = "filled"
	VASTResultEmpty  = "empty"
	VASTResultError  = "error"
)

// VASTProvider resolves breaks against a remote VAST ad server.
type VASTProvider struct {
	client     *vast.Client
	endpoint   string
	targetKbps int
	onResult   func(result string)
}

// NewVASTProvider creates a provider for the given VAST tag URL. onResult,
// if non-nil, runs once per resolution with the outcome.
func NewVASTProvider(endpoint string, timeout time.Duration, targetKbps int,
	onResult func(result string)) *VASTProvider {
	if targetKbps <= 0 {
		targetKbps = vast.DefaultTargetBitrateKbps
	}
	return &VASTProvider{
		client:     vast.NewClient(timeout),
		endpoint:   endpoint,
		targetKbps: targetKbps,
		onResult:   onResult,
	}
}

func (p *VASTProvider) reportResult(result string) {
	if p.onResult != nil {
		p.onResult(result)
	}
}

func (p *VASTProvider) Name() string { return "vast" }

func (p *VASTProvider) Resolve(ctx context.Context, breakID string, durationS float64) (AdPod, error) {
	durationS = ClampBreakDuration(durationS)
	tagURL := vast.ExpandMacros(p.endpoint, durationS)
	resolved, err := p.client.FetchAds(ctx, tagURL)
	if err != nil {
		p.reportResult(VASTResultError)
		return AdPod{}, fmt.Errorf("vast request for break %s: %w", breakID, err)
	}
	pod := AdPod{}
	for _, ra := range resolved {
		mf := vast.SelectMediaFile(ra.MediaFiles, p.targetKbps)
		if mf == nil {
			continue
		}
		if ra.DurationS > durationS-pod.DurationS+0.001 {
			// This ad would overshoot the break; a later shorter one may fit
			slog.Debug("skipping ad that does not fit break",
				"breakID", breakID, "adID", ra.ID, "adDurS", ra.DurationS)
			continue
		}
		vast.CheckCreatives(ra.ID, ra.MediaFiles)
		pod.Ads = append(pod.Ads, Ad{
			ID:        ra.ID,
			Segments:  []Segment{{URI: mf.URL, DurationS: ra.DurationS}},
			DurationS: ra.DurationS,
			Tracking:  trackingFrom(ra),
		})
		pod.DurationS += ra.DurationS
	}
	if pod.Empty() {
		p.reportResult(VASTResultEmpty)
		slog.Info("vast no fill", "breakID", breakID, "durationS", durationS)
		return pod, nil
	}
	p.reportResult(VASTResultFilled)
	if pod.DurationS < durationS {
		// Short fill is fine; the remainder plays origin content or slate
		slog.Info("vast short fill", "breakID", breakID,
			"filledS", pod.DurationS, "requestedS", durationS)
	}
	return pod, nil
}

func trackingFrom(ra vast.ResolvedAd) Tracking {
	return Tracking{
		Impression:    ra.Impressions,
		Start:         ra.Tracking[vast.EventStart],
		FirstQuartile: ra.Tracking[vast.EventFirstQuartile],
		Midpoint:      ra.Tracking[vast.EventMidpoint],
		ThirdQuartile: ra.Tracking[vast.EventThirdQuartile],
		Complete:      ra.Tracking[vast.EventComplete],
		Error:         ra.ErrorURLs,
	}
}
