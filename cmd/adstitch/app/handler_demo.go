package app

import (
	"net/http"
	"strings"
)

// The demo endpoints serve a fixed origin so the stitcher can be exercised
// against itself: point a session's origin at /demo/playlist.m3u8 or
// /demo/manifest.mpd and fetch the stitched result.

// demoPlaylist is a closed live-profile playlist with one 30 s ad break:
// CUE-OUT before segment 5, continuation tags inside, CUE-IN before
// segment 8.
const demoPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.000,
seg_0.ts
#EXTINF:10.000,
seg_1.ts
#EXTINF:10.000,
seg_2.ts
#EXTINF:10.000,
seg_3.ts
#EXTINF:10.000,
seg_4.ts
#EXT-X-CUE-OUT:30.000
#EXTINF:10.000,
seg_5.ts
#EXT-X-CUE-OUT-CONT:ElapsedTime=10.000,Duration=30.000
#EXTINF:10.000,
seg_6.ts
#EXT-X-CUE-OUT-CONT:ElapsedTime=20.000,Duration=30.000
#EXTINF:10.000,
seg_7.ts
#EXT-X-CUE-IN
#EXTINF:10.000,
seg_8.ts
#EXTINF:10.000,
seg_9.ts
#EXTINF:10.000,
seg_10.ts
#EXT-X-ENDLIST
`

// demoMPD is a static two-period MPD where the first period signals a 30 s
// splice-out via a SCTE-35 XML EventStream.
const demoMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT90S"
     profiles="urn:mpeg:dash:profile:isoff-on-demand:2011" minBufferTime="PT2S">
  <Period id="P0" start="PT0S" duration="PT60S">
    <EventStream schemeIdUri="urn:scte:scte35:2013:xml" timescale="1">
      <Event duration="30" id="1">
        <SpliceInfoSection>
          <SpliceInsert spliceEventId="1234" outOfNetworkIndicator="true">
            <BreakDuration autoReturn="true" duration="2700000"/>
          </SpliceInsert>
        </SpliceInfoSection>
      </Event>
    </EventStream>
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4" codecs="avc1.64001f">
      <SegmentTemplate timescale="1000" duration="4000" media="video/$Number$.m4s"
                       initialization="video/init.m4s" startNumber="1"/>
      <Representation id="v1080" bandwidth="5000000" width="1920" height="1080"/>
      <Representation id="v720" bandwidth="3000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
  <Period id="P1" start="PT60S" duration="PT30S">
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4" codecs="avc1.64001f">
      <SegmentTemplate timescale="1000" duration="4000" media="video/$Number$.m4s"
                       initialization="video/init.m4s" startNumber="1"/>
      <Representation id="v1080" bandwidth="5000000" width="1920" height="1080"/>
      <Representation id="v720" bandwidth="3000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>
`

func (s *Server) demoPlaylistHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeHLS)
	_, _ = w.Write([]byte(demoPlaylist))
}

func (s *Server) demoMPDHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeMPD)
	_, _ = w.Write([]byte(demoMPD))
}

// demoMediaHandlerFunc serves dummy media bytes for any segment path under
// /demo, including the static ad source /demo/ads/out_NNN.ts. The payload
// is not playable media, just stable bytes for proxy and beacon tests.
func (s *Server) demoMediaHandlerFunc(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(demoTSPacket())
	case strings.HasSuffix(r.URL.Path, ".m4s"):
		w.Header().Set("Content-Type", "video/iso.segment")
		_, _ = w.Write(demoMP4Fragment())
	default:
		writeError(w, r, newStitchError(errNotFound, "not found", nil))
	}
}

// demoTSPacket returns ten empty MPEG-TS packets (sync byte + padding PID).
func demoTSPacket() []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = 0x1f
	pkt[2] = 0xff
	pkt[3] = 0x10
	for i := 4; i < len(pkt); i++ {
		pkt[i] = 0xff
	}
	out := make([]byte, 0, 10*188)
	for i := 0; i < 10; i++ {
		out = append(out, pkt...)
	}
	return out
}

// demoMP4Fragment returns a minimal box structure ("free" box payload).
func demoMP4Fragment() []byte {
	payload := []byte("adstitch demo segment")
	size := uint32(8 + len(payload))
	out := []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	out = append(out, 'f', 'r', 'e', 'e')
	return append(out, payload...)
}
