// Package proxyurl builds and parses the stitcher's proxied URL forms.
// Original segment URIs travel base64url-encoded inside the proxy path so
// that they round-trip byte-exact, relative or absolute.
package proxyurl

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// EncodeURI encodes a segment or playlist URI for use as a path element.
func EncodeURI(uri string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(uri))
}

// DecodeURI reverses EncodeURI.
func DecodeURI(enc string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode proxied URI: %w", err)
	}
	return string(b), nil
}

// Builder creates proxy URLs for one session. BaseURL is the public address
// of the stitcher without trailing slash; empty gives host-relative paths.
type Builder struct {
	BaseURL   string
	SessionID string
}

func (b Builder) prefix() string {
	return fmt.Sprintf("%s/stitch/%s", strings.TrimSuffix(b.BaseURL, "/"), b.SessionID)
}

// Segment returns the proxy URL for a content segment URI, with the origin
// manifest URL carried as a query parameter for later resolution.
func (b Builder) Segment(uri, originURL string) string {
	return fmt.Sprintf("%s/segment/%s?origin=%s", b.prefix(), EncodeURI(uri), url.QueryEscape(originURL))
}

// SegmentBase returns a proxy base URL ending in "/" for DASH BaseURL
// rewriting. Relative media paths (with template identifiers intact) are
// appended by the player and resolved by the segment route.
func (b Builder) SegmentBase(absBase string) string {
	return fmt.Sprintf("%s/segment/%s/", b.prefix(), EncodeURI(absBase))
}

// MediaPlaylist returns the proxy URL for a variant or rendition playlist.
func (b Builder) MediaPlaylist(uri, originURL string) string {
	return fmt.Sprintf("%s/playlist/%s?origin=%s", b.prefix(), EncodeURI(uri), url.QueryEscape(originURL))
}

// Ad returns the proxy URL for one ad segment name.
func (b Builder) Ad(name string) string {
	return fmt.Sprintf("%s/ad/%s", b.prefix(), name)
}

// Slate returns the proxy URL for slate segment idx.
func (b Builder) Slate(idx int) string {
	return fmt.Sprintf("%s/slate/%d", b.prefix(), idx)
}

// AssetList returns the SGAI asset-list URL for a break.
func (b Builder) AssetList(breakID string, durationS float64) string {
	return fmt.Sprintf("%s/asset-list/%s?dur=%.3f", b.prefix(), breakID, durationS)
}

// ResolveSegmentPath turns the wildcard remainder of a segment route back
// into an absolute upstream URL. Two forms exist:
//
//	{encoded-uri}            HLS; resolved against the origin query parameter
//	{encoded-base}/rest...   DASH; rest appended to the decoded absolute base
func ResolveSegmentPath(rest, origin string) (string, error) {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("empty segment path")
	}
	head, tail, hasTail := strings.Cut(rest, "/")
	decoded, err := DecodeURI(head)
	if err != nil {
		return "", err
	}
	if hasTail {
		base, err := url.Parse(decoded)
		if err != nil || !base.IsAbs() {
			return "", fmt.Errorf("proxied base %q is not an absolute URL", decoded)
		}
		ref, err := url.Parse(tail)
		if err != nil {
			return "", fmt.Errorf("bad segment path remainder: %w", err)
		}
		return base.ResolveReference(ref).String(), nil
	}
	return Absolute(decoded, origin)
}

// Absolute resolves uri against baseURL unless it is absolute already.
func Absolute(uri, baseURL string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse URI %q: %w", uri, err)
	}
	if u.IsAbs() {
		return uri, nil
	}
	if baseURL == "" {
		return "", fmt.Errorf("relative URI %q without origin", uri)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", baseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}
