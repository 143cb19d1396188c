package dash

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/beevik/etree"

	"github.com/Dash-Industry-Forum/adstitch/pkg/ads"
	"github.com/Dash-Industry-Forum/adstitch/pkg/scte35"
)

// Break is an ad break detected from a period-level SCTE-35 EventStream.
// PeriodIdx indexes into mpd.Periods of the parsed document.
type Break struct {
	ID        string
	PeriodIdx int
	PeriodID  string
	EventID   string
	DurationS float64
}

// DetectBreaks scans the raw MPD for periods carrying SCTE-35 EventStream
// signaling and returns one break per signaling period, in document order.
// The three scheme variants (2013:xml, 2013:bin, 2014:xml+bin) are all
// understood. Only splice-out events open a break.
func DetectBreaks(rawMPD []byte, mpdURL string) ([]Break, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawMPD); err != nil {
		return nil, fmt.Errorf("parse mpd xml: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "MPD" {
		return nil, fmt.Errorf("document root is not MPD")
	}

	var breaks []Break
	periodIdx := -1
	for _, period := range root.ChildElements() {
		if period.Tag != "Period" {
			continue
		}
		periodIdx++
		periodID := period.SelectAttrValue("id", strconv.Itoa(periodIdx))
		brk, ok := breakFromPeriod(period, periodIdx, periodID)
		if !ok {
			continue
		}
		brk.ID = ads.BreakID(mpdURL, brk.PeriodID+"/"+brk.EventID)
		breaks = append(breaks, brk)
	}
	return breaks, nil
}

func breakFromPeriod(period *etree.Element, periodIdx int, periodID string) (Break, bool) {
	for _, es := range period.ChildElements() {
		if es.Tag != "EventStream" {
			continue
		}
		scheme := es.SelectAttrValue("schemeIdUri", "")
		switch scheme {
		case scte35.SchemeIDURIXML, scte35.SchemeIDURIBin, scte35.SchemeIDURIXMLBin:
		default:
			continue
		}
		timescale := uint64(1)
		if ts := es.SelectAttrValue("timescale", ""); ts != "" {
			if n, err := strconv.ParseUint(ts, 10, 64); err == nil && n > 0 {
				timescale = n
			}
		}
		for evIdx, ev := range es.ChildElements() {
			if ev.Tag != "Event" {
				continue
			}
			durS := eventDurationS(ev, timescale)
			si := spliceInfoForEvent(ev, scheme)
			switch {
			case si == nil:
				if durS <= 0 {
					slog.Warn("unreadable SCTE-35 event without duration, skipping",
						"period", periodID, "scheme", scheme)
					continue
				}
				slog.Warn("unreadable SCTE-35 payload, trusting event duration",
					"period", periodID, "durationS", durS)
			case !si.OutOfNetwork:
				continue // splice-in or null, no break starts here
			default:
				if durS <= 0 && si.HasDuration {
					durS = si.DurationS
				}
			}
			if durS <= 0 {
				continue
			}
			eventID := ev.SelectAttrValue("id", strconv.Itoa(evIdx))
			return Break{
				PeriodIdx: periodIdx,
				PeriodID:  periodID,
				EventID:   eventID,
				DurationS: ads.ClampBreakDuration(durS),
			}, true
		}
	}
	return Break{}, false
}

func eventDurationS(ev *etree.Element, timescale uint64) float64 {
	d := ev.SelectAttrValue("duration", "")
	if d == "" {
		return 0
	}
	n, err := strconv.ParseUint(d, 10, 64)
	if err != nil {
		return 0
	}
	return float64(n) / float64(timescale)
}

// spliceInfoForEvent decodes the event payload in the form the scheme
// prescribes. nil means the payload could not be read.
func spliceInfoForEvent(ev *etree.Element, scheme string) *scte35.SpliceInfo {
	switch scheme {
	case scte35.SchemeIDURIBin:
		si, err := scte35.DecodeBase64(ev.Text())
		if err != nil {
			return nil
		}
		return si
	default:
		for _, child := range ev.ChildElements() {
			si, err := scte35.ParseXMLNode(child)
			if err != nil {
				continue
			}
			return si
		}
		return nil
	}
}
