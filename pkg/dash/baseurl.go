package dash

import (
	"fmt"
	"net/url"

	m "github.com/Eyevinn/dash-mpd/mpd"
)

// RewriteBaseURLs routes all media references through the stitcher. The
// effective base of every representation is resolved through the four
// BaseURL levels (MPD, Period, AdaptationSet, Representation) against the
// MPD's own URL, then replaced by a single representation-level proxy base
// carrying the encoded upstream base. Segment template patterns stay
// untouched so the player keeps doing its own number and time substitution.
func RewriteBaseURLs(mpd *m.MPD, o Options) error {
	mpdBase, err := url.Parse(o.MPDURL)
	if err != nil || !mpdBase.IsAbs() {
		return fmt.Errorf("mpd url %q is not absolute", o.MPDURL)
	}
	docBase, err := resolveBase(mpdBase, firstBaseValue(mpd.BaseURL))
	if err != nil {
		return err
	}
	urls := o.urls()
	for _, p := range mpd.Periods {
		pBase, err := resolveBase(docBase, firstBaseValue(p.BaseURLs))
		if err != nil {
			return err
		}
		p.BaseURLs = nil
		for _, as := range p.AdaptationSets {
			asBase, err := resolveBase(pBase, firstBaseValue(as.BaseURLs))
			if err != nil {
				return err
			}
			as.BaseURLs = nil
			for _, rep := range as.Representations {
				repBase, err := resolveBase(asBase, firstBaseValue(rep.BaseURLs))
				if err != nil {
					return err
				}
				rep.BaseURLs = []*m.BaseURLType{
					{Value: m.AnyURI(urls.SegmentBase(repBase.String()))},
				}
			}
		}
	}
	mpd.BaseURL = nil
	return nil
}

// firstBaseValue returns the first BaseURL value. Additional entries are
// alternatives for the same content (multi-CDN) and are dropped since all
// traffic goes through the stitcher anyway.
func firstBaseValue(urls []*m.BaseURLType) string {
	if len(urls) == 0 || urls[0] == nil {
		return ""
	}
	return string(urls[0].Value)
}

func resolveBase(parent *url.URL, ref string) (*url.URL, error) {
	if ref == "" {
		return parent, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse BaseURL %q: %w", ref, err)
	}
	return parent.ResolveReference(u), nil
}
