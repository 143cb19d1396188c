// Package vast implements the subset of VAST 2/3/4 needed for server-side
// ad insertion: document parsing, wrapper resolution, and media file selection.
package vast

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// VAST is the root element of an ad server response.
type VAST struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []Ad     `xml:"Ad"`
	Errors  []string `xml:"Error"`
}

// Ad is either an InLine ad or a Wrapper pointing at another ad server.
type Ad struct {
	ID       string   `xml:"id,attr"`
	Sequence int      `xml:"sequence,attr"`
	InLine   *InLine  `xml:"InLine"`
	Wrapper  *Wrapper `xml:"Wrapper"`
}

type InLine struct {
	AdSystem    string     `xml:"AdSystem"`
	AdTitle     string     `xml:"AdTitle"`
	Impressions []string   `xml:"Impression"`
	Errors      []string   `xml:"Error"`
	Creatives   []Creative `xml:"Creatives>Creative"`
}

type Wrapper struct {
	AdSystem     string     `xml:"AdSystem"`
	VASTAdTagURI string     `xml:"VASTAdTagURI"`
	Impressions  []string   `xml:"Impression"`
	Errors       []string   `xml:"Error"`
	Creatives    []Creative `xml:"Creatives>Creative"`
}

type Creative struct {
	ID       string  `xml:"id,attr"`
	AdID     string  `xml:"adId,attr"`
	Sequence int     `xml:"sequence,attr"`
	Linear   *Linear `xml:"Linear"`
}

type Linear struct {
	Duration       string      `xml:"Duration"`
	TrackingEvents []Tracking  `xml:"TrackingEvents>Tracking"`
	MediaFiles     []MediaFile `xml:"MediaFiles>MediaFile"`
}

type Tracking struct {
	Event string `xml:"event,attr"`
	URL   string `xml:",chardata"`
}

type MediaFile struct {
	ID           string `xml:"id,attr"`
	Delivery     string `xml:"delivery,attr"`
	Type         string `xml:"type,attr"`
	Width        int    `xml:"width,attr"`
	Height       int    `xml:"height,attr"`
	Bitrate      int    `xml:"bitrate,attr"`
	Codec        string `xml:"codec,attr"`
	APIFramework string `xml:"apiFramework,attr"`
	URL          string `xml:",chardata"`
}

// Tracking event names from the VAST schema that the stitcher acts on.
const (
	EventStart         = "start"
	EventFirstQuartile = "firstQuartile"
	EventMidpoint      = "midpoint"
	EventThirdQuartile = "thirdQuartile"
	EventComplete      = "complete"
)

// Parse unmarshals a VAST document. URL-carrying character data is trimmed
// since ad servers wrap it in CDATA with surrounding whitespace.
func Parse(data []byte) (*VAST, error) {
	var v VAST
	if err := xml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal VAST: %w", err)
	}
	trimStrings(v.Errors)
	for i := range v.Ads {
		ad := &v.Ads[i]
		if ad.InLine != nil {
			trimStrings(ad.InLine.Impressions)
			trimStrings(ad.InLine.Errors)
			trimCreatives(ad.InLine.Creatives)
		}
		if ad.Wrapper != nil {
			ad.Wrapper.VASTAdTagURI = strings.TrimSpace(ad.Wrapper.VASTAdTagURI)
			trimStrings(ad.Wrapper.Impressions)
			trimStrings(ad.Wrapper.Errors)
			trimCreatives(ad.Wrapper.Creatives)
		}
	}
	return &v, nil
}

func trimStrings(ss []string) {
	for i := range ss {
		ss[i] = strings.TrimSpace(ss[i])
	}
}

func trimCreatives(cs []Creative) {
	for i := range cs {
		lin := cs[i].Linear
		if lin == nil {
			continue
		}
		lin.Duration = strings.TrimSpace(lin.Duration)
		for j := range lin.TrackingEvents {
			lin.TrackingEvents[j].URL = strings.TrimSpace(lin.TrackingEvents[j].URL)
		}
		for j := range lin.MediaFiles {
			lin.MediaFiles[j].URL = strings.TrimSpace(lin.MediaFiles[j].URL)
		}
	}
}

// linear returns the first linear creative of the ad, if any.
func (in *InLine) linear() *Linear {
	for i := range in.Creatives {
		if in.Creatives[i].Linear != nil {
			return in.Creatives[i].Linear
		}
	}
	return nil
}

// ParseDuration parses a VAST duration (HH:MM:SS or HH:MM:SS.mmm) into seconds.
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("duration %q not on HH:MM:SS form", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("bad hours in duration %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minutes in duration %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("bad seconds in duration %q", s)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}
