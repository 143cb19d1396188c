package ads

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// MaxBreakDurationS caps requested break durations so a bad cue or a crafted
// request cannot make the service assemble absurd pods.
const MaxBreakDurationS = 3600.0

// Provider resolves an ad break to a pod. An empty pod with a nil error is
// a no-fill, not a failure.
type Provider interface {
	Resolve(ctx context.Context, breakID string, durationS float64) (AdPod, error)
	Name() string
}

// ClampBreakDuration applies the DoS guard on requested break durations.
func ClampBreakDuration(durationS float64) float64 {
	if durationS > MaxBreakDurationS {
		slog.Warn("clamping oversize break duration", "requestedS", durationS, "maxS", MaxBreakDurationS)
		return MaxBreakDurationS
	}
	return durationS
}

// StaticProvider fills breaks by repeating a fixed seed ad. Segment k of the
// seed loops over a cycle of ten files named out_000.ts .. out_009.ts.
type StaticProvider struct {
	sourceURL string
	segDurS   float64
}

func NewStaticProvider(sourceURL string, segDurS float64) *StaticProvider {
	if segDurS <= 0 {
		segDurS = 1.0
	}
	return &StaticProvider{
		sourceURL: strings.TrimSuffix(sourceURL, "/"),
		segDurS:   segDurS,
	}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Resolve(_ context.Context, breakID string, durationS float64) (AdPod, error) {
	durationS = ClampBreakDuration(durationS)
	n := int(math.Ceil(durationS / p.segDurS))
	pod := AdPod{}
	for k := 0; k < n; k++ {
		seg := Segment{
			URI:       fmt.Sprintf("%s/out_%03d.ts", p.sourceURL, k%10),
			DurationS: p.segDurS,
		}
		pod.Ads = append(pod.Ads, Ad{
			ID:        fmt.Sprintf("static-%s-%d", breakID, k),
			Segments:  []Segment{seg},
			DurationS: p.segDurS,
		})
		pod.DurationS += p.segDurS
	}
	return pod, nil
}

// SlateWrapper decorates a provider so that unfilled breaks get slate
// content instead of passing through. Provider errors also degrade to slate
// since an on-screen gap is worse than a filler loop.
type SlateWrapper struct {
	inner    Provider
	slateURL string
	segDurS  float64
	onSlate  func()
}

func NewSlateWrapper(inner Provider, slateURL string, segDurS float64, onSlate func()) *SlateWrapper {
	if segDurS <= 0 {
		segDurS = 1.0
	}
	return &SlateWrapper{
		inner:    inner,
		slateURL: strings.TrimSuffix(slateURL, "/"),
		segDurS:  segDurS,
		onSlate:  onSlate,
	}
}

func (w *SlateWrapper) Name() string { return w.inner.Name() + "+slate" }

func (w *SlateWrapper) Resolve(ctx context.Context, breakID string, durationS float64) (AdPod, error) {
	pod, err := w.inner.Resolve(ctx, breakID, durationS)
	if err != nil {
		slog.Warn("ad provider failed, falling back to slate",
			"provider", w.inner.Name(), "breakID", breakID, "err", err)
		return w.slatePod(breakID, durationS), nil
	}
	if !pod.Empty() {
		return pod, nil
	}
	slog.Info("no fill, inserting slate", "breakID", breakID, "durationS", durationS)
	return w.slatePod(breakID, durationS), nil
}

func (w *SlateWrapper) slatePod(breakID string, durationS float64) AdPod {
	if w.onSlate != nil {
		w.onSlate()
	}
	durationS = ClampBreakDuration(durationS)
	n := int(math.Ceil(durationS / w.segDurS))
	pod := AdPod{}
	for k := 0; k < n; k++ {
		seg := Segment{
			URI:       fmt.Sprintf("%s/out_%03d.ts", w.slateURL, k%10),
			DurationS: w.segDurS,
		}
		pod.Ads = append(pod.Ads, Ad{
			ID:        fmt.Sprintf("slate-%s-%d", breakID, k),
			Segments:  []Segment{seg},
			DurationS: w.segDurS,
			Slate:     true,
		})
		pod.DurationS += w.segDurS
	}
	return pod
}

// SlateSegmentURL returns the upstream URL for slate segment idx, using the
// same ten-file cycle as slate pods.
func SlateSegmentURL(slateURL string, idx int) string {
	return fmt.Sprintf("%s/out_%03d.ts", strings.TrimSuffix(slateURL, "/"), idx%10)
}
