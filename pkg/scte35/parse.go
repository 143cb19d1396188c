package scte35

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/Comcast/gots/v2/scte35"
	"github.com/beevik/etree"
)

const ptsTicksPerSecond = 90000

// sectionTableID is the table_id every splice_info_section starts with.
const sectionTableID = 0xFC

// SpliceInfo is a decoded summary of a splice_info_section, reduced to
// what ad-break detection needs.
type SpliceInfo struct {
	EventID      uint32
	OutOfNetwork bool
	HasDuration  bool
	DurationS    float64
	AutoReturn   bool
}

// Decode parses a binary splice_info_section.
// Both splice_insert and time_signal commands are understood. For time_signal,
// the segmentation descriptors decide the out/in direction.
func Decode(data []byte) (*SpliceInfo, error) {
	// gots expects a PSI section with a leading pointer_field byte; raw
	// payloads start directly at table_id.
	if len(data) > 0 && data[0] == sectionTableID {
		data = append([]byte{0}, data...)
	}
	s, err := scte35.NewSCTE35(data)
	if err != nil {
		return nil, fmt.Errorf("parse splice_info_section: %w", err)
	}
	si := SpliceInfo{}
	switch s.Command() {
	case scte35.SpliceInsert:
		cmd, ok := s.CommandInfo().(scte35.SpliceInsertCommand)
		if !ok {
			return nil, fmt.Errorf("splice_insert command without splice_insert info")
		}
		si.EventID = cmd.EventID()
		si.OutOfNetwork = cmd.IsOut() && !cmd.IsEventCanceled()
		if cmd.HasDuration() {
			si.HasDuration = true
			si.DurationS = float64(cmd.Duration()) / ptsTicksPerSecond
			si.AutoReturn = cmd.IsAutoReturn()
		}
	case scte35.TimeSignal:
		for _, d := range s.Descriptors() {
			if !d.IsOut() {
				continue
			}
			si.EventID = d.EventID()
			si.OutOfNetwork = true
			if d.HasDuration() {
				si.HasDuration = true
				si.DurationS = float64(d.Duration()) / ptsTicksPerSecond
			}
			break
		}
	default:
		// splice_null etc. carry no break signal
	}
	return &si, nil
}

// DecodeBase64 parses a base64-encoded binary splice_info_section.
func DecodeBase64(payload string) (*SpliceInfo, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("base64 splice_info_section: %w", err)
	}
	return Decode(data)
}

// ParseXMLNode extracts splice info from the XML representation of SCTE-35
// as used inside DASH Event elements. Two forms are understood:
//
//	<SpliceInfoSection><SpliceInsert .../></SpliceInfoSection>  (urn:scte:scte35:2013:xml)
//	<Signal><Binary>base64</Binary></Signal>                    (urn:scte:scte35:2014:xml+bin)
//
// The namespace prefix on the elements is ignored.
func ParseXMLNode(el *etree.Element) (*SpliceInfo, error) {
	switch el.Tag {
	case "SpliceInfoSection":
		return parseSpliceInfoSection(el)
	case "Signal":
		bin := childElement(el, "Binary")
		if bin == nil {
			return nil, fmt.Errorf("Signal element without Binary child")
		}
		return DecodeBase64(bin.Text())
	default:
		return nil, fmt.Errorf("element %q is not a SCTE-35 signal", el.Tag)
	}
}

func parseSpliceInfoSection(el *etree.Element) (*SpliceInfo, error) {
	si := SpliceInfo{}
	ins := childElement(el, "SpliceInsert")
	if ins == nil {
		if ts := childElement(el, "TimeSignal"); ts != nil {
			// time_signal without binary descriptors gives no direction
			return &si, nil
		}
		return nil, fmt.Errorf("SpliceInfoSection without SpliceInsert")
	}
	si.OutOfNetwork = xmlBoolAttr(ins, "outOfNetworkIndicator")
	if id := getAttrValue(ins, "spliceEventId"); id != "" {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad spliceEventId %q: %w", id, err)
		}
		si.EventID = uint32(n)
	}
	if bd := childElement(ins, "BreakDuration"); bd != nil {
		ticks := getAttrValue(bd, "duration")
		if ticks != "" {
			n, err := strconv.ParseUint(ticks, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad BreakDuration %q: %w", ticks, err)
			}
			si.HasDuration = true
			si.DurationS = float64(n) / ptsTicksPerSecond
			si.AutoReturn = xmlBoolAttr(bd, "autoReturn")
		}
	}
	return &si, nil
}

// childElement returns the first child with the given local tag name.
// Namespace prefixes are ignored.
func childElement(e *etree.Element, tag string) *etree.Element {
	for _, c := range e.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func xmlBoolAttr(e *etree.Element, key string) bool {
	v := getAttrValue(e, key)
	return v == "true" || v == "1"
}

// getAttrValue returns value if key exists, or empty string
func getAttrValue(e *etree.Element, key string) string {
	a := e.SelectAttr(key)
	if a == nil {
		return ""
	}
	return a.Value
}
