package proxyurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"seg_001.ts",
		"../video/seg_001.ts",
		"https://origin.example.com/live/ch1/seg_001.ts?token=a%2Fb&x=1",
		"media/$RepresentationID$/$Number$.m4s",
	}
	for _, uri := range cases {
		enc := EncodeURI(uri)
		assert.NotContains(t, enc, "/")
		dec, err := DecodeURI(enc)
		require.NoError(t, err)
		assert.Equal(t, uri, dec)
	}
}

func TestBuilderPaths(t *testing.T) {
	b := Builder{BaseURL: "https://stitch.example.com", SessionID: "abc-123"}
	assert.Equal(t, "https://stitch.example.com/stitch/abc-123/ad/b-0011223344556677-a0-s1.ts",
		b.Ad("b-0011223344556677-a0-s1.ts"))
	assert.Equal(t, "https://stitch.example.com/stitch/abc-123/slate/3", b.Slate(3))
	assert.Equal(t, "https://stitch.example.com/stitch/abc-123/asset-list/0011223344556677?dur=12.000",
		b.AssetList("0011223344556677", 12))

	segURL := b.Segment("seg_001.ts", "https://origin.example.com/live/playlist.m3u8")
	dec, err := DecodeURI(segURL[len("https://stitch.example.com/stitch/abc-123/segment/") : len(segURL)-len("?origin=https%3A%2F%2Forigin.example.com%2Flive%2Fplaylist.m3u8")])
	require.NoError(t, err)
	assert.Equal(t, "seg_001.ts", dec)
}

func TestResolveSegmentPath(t *testing.T) {
	origin := "https://origin.example.com/live/playlist.m3u8"

	// HLS relative URI resolved against origin
	u, err := ResolveSegmentPath(EncodeURI("seg_001.ts"), origin)
	require.NoError(t, err)
	assert.Equal(t, "https://origin.example.com/live/seg_001.ts", u)

	// HLS absolute URI ignores origin
	u, err = ResolveSegmentPath(EncodeURI("https://cdn.example.com/a.ts"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.ts", u)

	// DASH base + rest
	enc := EncodeURI("https://origin.example.com/dash/ch1/")
	u, err = ResolveSegmentPath(enc+"/video/42.m4s", "")
	require.NoError(t, err)
	assert.Equal(t, "https://origin.example.com/dash/ch1/video/42.m4s", u)

	// relative URI without origin fails
	_, err = ResolveSegmentPath(EncodeURI("seg.ts"), "")
	assert.Error(t, err)

	// DASH form requires an absolute base
	_, err = ResolveSegmentPath(EncodeURI("dash/ch1")+"/video/42.m4s", origin)
	assert.Error(t, err)
}
