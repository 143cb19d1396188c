package vast

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineResponse(id, duration, mediaURL string) string {
	return fmt.Sprintf(`<VAST version="3.0">
  <Ad id=%q>
    <InLine>
      <AdSystem>TestDSP</AdSystem>
      <AdTitle>%s</AdTitle>
      <Impression>https://track.example.com/%s/imp</Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>%s</Duration>
            <TrackingEvents>
              <Tracking event="start">https://track.example.com/%s/start</Tracking>
            </TrackingEvents>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720"
                bitrate="2000">%s</MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`, id, id, id, duration, id, mediaURL)
}

func wrapperResponse(id, nextURL string) string {
	return fmt.Sprintf(`<VAST version="3.0">
  <Ad id=%q>
    <Wrapper>
      <AdSystem>Upstream</AdSystem>
      <VASTAdTagURI><![CDATA[%s]]></VASTAdTagURI>
      <Impression>https://track.example.com/%s/wrapped-imp</Impression>
      <Error>https://track.example.com/%s/wrapped-err</Error>
      <Creatives>
        <Creative>
          <Linear>
            <TrackingEvents>
              <Tracking event="complete">https://track.example.com/%s/wrapped-complete</Tracking>
            </TrackingEvents>
          </Linear>
        </Creative>
      </Creatives>
    </Wrapper>
  </Ad>
</VAST>`, id, nextURL, id, id, id)
}

func TestFetchAdsInline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, inlineResponse("a1", "00:00:12", "https://ads.example.com/a1.mp4"))
	}))
	defer ts.Close()

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "a1", ads[0].ID)
	assert.InDelta(t, 12.0, ads[0].DurationS, 0.001)
	assert.Equal(t, []string{"https://track.example.com/a1/imp"}, ads[0].Impressions)
	assert.Equal(t, []string{"https://track.example.com/a1/start"}, ads[0].Tracking[EventStart])
}

func TestFetchAdsWrapperChain(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()
	mux.HandleFunc("/wrapper", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wrapperResponse("w1", ts.URL+"/inline"))
	})
	mux.HandleFunc("/inline", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, inlineResponse("a1", "00:00:06", "https://ads.example.com/a1.mp4"))
	})

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL+"/wrapper")
	require.NoError(t, err)
	require.Len(t, ads, 1)
	ad := ads[0]
	assert.Equal(t, "a1", ad.ID)
	// Wrapper URLs come first, then inline ones
	assert.Equal(t, []string{
		"https://track.example.com/w1/wrapped-imp",
		"https://track.example.com/a1/imp",
	}, ad.Impressions)
	assert.Equal(t, []string{"https://track.example.com/w1/wrapped-err"}, ad.ErrorURLs)
	assert.Equal(t, []string{"https://track.example.com/w1/wrapped-complete"}, ad.Tracking[EventComplete])
	assert.Equal(t, []string{"https://track.example.com/a1/start"}, ad.Tracking[EventStart])
}

func TestFetchAdsWrapperCycle(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wrapperResponse("w1", ts.URL+"/loop"))
	})

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL+"/loop")
	// The cycle kills the wrapper branch, leaving a no-fill
	require.NoError(t, err)
	assert.Empty(t, ads)
}

func TestFetchAdsWrapperDepthLimit(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()
	for i := 0; i < 10; i++ {
		next := fmt.Sprintf("%s/w/%d", ts.URL, i+1)
		mux.HandleFunc(fmt.Sprintf("/w/%d", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, wrapperResponse("w", next))
		})
	}

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL+"/w/0")
	require.NoError(t, err)
	assert.Empty(t, ads)
}

func TestFetchAdsNoFill(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<VAST version="3.0"></VAST>`)
	}))
	defer ts.Close()

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Empty(t, ads)
}

func TestFetchAdsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient(2 * time.Second)
	_, err := c.FetchAds(context.Background(), ts.URL)
	assert.Error(t, err)
}

func TestFetchAdsDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, `<VAST version="3.0"></VAST>`)
	}))
	defer ts.Close()

	c := NewClient(50 * time.Millisecond)
	start := time.Now()
	_, err := c.FetchAds(context.Background(), ts.URL)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestFetchAdsSkipsUnusableAds(t *testing.T) {
	doc := `<VAST version="3.0">
  <Ad id="bad-dur">
    <InLine><AdTitle>zero duration</AdTitle>
      <Creatives><Creative><Linear>
        <Duration>00:00:00</Duration>
        <MediaFiles><MediaFile type="video/mp4" bitrate="1000">https://ads.example.com/x.mp4</MediaFile></MediaFiles>
      </Linear></Creative></Creatives>
    </InLine>
  </Ad>
  <Ad id="no-media">
    <InLine><AdTitle>no media</AdTitle>
      <Creatives><Creative><Linear>
        <Duration>00:00:10</Duration>
        <MediaFiles></MediaFiles>
      </Linear></Creative></Creatives>
    </InLine>
  </Ad>
  <Ad id="good">
    <InLine><AdTitle>good</AdTitle>
      <Creatives><Creative><Linear>
        <Duration>00:00:10</Duration>
        <MediaFiles><MediaFile type="video/mp4" bitrate="1000">https://ads.example.com/good.mp4</MediaFile></MediaFiles>
      </Linear></Creative></Creatives>
    </InLine>
  </Ad>
</VAST>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, doc)
	}))
	defer ts.Close()

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "good", ads[0].ID)
}

func TestFetchAdsPodOrder(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<VAST version="3.0">`)
	for _, seq := range []int{3, 1, 2} {
		fmt.Fprintf(&sb, `<Ad id="p%d" sequence="%d">
  <InLine><AdTitle>pod ad</AdTitle>
    <Creatives><Creative><Linear>
      <Duration>00:00:05</Duration>
      <MediaFiles><MediaFile type="video/mp4" bitrate="1000">https://ads.example.com/p%d.mp4</MediaFile></MediaFiles>
    </Linear></Creative></Creatives>
  </InLine>
</Ad>`, seq, seq, seq)
	}
	sb.WriteString(`</VAST>`)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sb.String())
	}))
	defer ts.Close()

	c := NewClient(2 * time.Second)
	ads, err := c.FetchAds(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Len(t, ads, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{ads[0].ID, ads[1].ID, ads[2].ID})
}

func TestExpandMacros(t *testing.T) {
	got := ExpandMacros("https://ads.example.com/vast?d=[DURATION]&cb=[CACHEBUSTING]", 29.7)
	assert.Contains(t, got, "d=30")
	assert.NotContains(t, got, "[DURATION]")
	assert.NotContains(t, got, "[CACHEBUSTING]")
	// Cache buster is 8 digits
	idx := strings.Index(got, "cb=")
	require.GreaterOrEqual(t, idx, 0)
	assert.Len(t, got[idx+3:], 8)
}
