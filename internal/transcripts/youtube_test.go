package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/contentstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"go.uber.org/zap"
)

const timedTextXML = `<?xml version="1.0" encoding="utf-8"?>
<transcript>
  <text start="1.5" dur="2.0">First cue</text>
  <text start="3.5" dur="0.4"></text>
  <text start="4.0" dur="1.25">Second
line</text>
</transcript>`

func newYouTubeTestServer(t *testing.T, withTracks bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if !withTracks {
			fmt.Fprint(w, "<html>no captions here</html>")
			return
		}
		fmt.Fprintf(w, `<html><script>var ytInitialPlayerResponse = {"captionTracks":[{"baseUrl":"%s/timedtext?lang=en","languageCode":"en"},{"baseUrl":"%s/timedtext?lang=de","languageCode":"de","kind":"asr"}]};</script></html>`,
			server.URL, server.URL)
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, timedTextXML)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestFetcher(t *testing.T, server *httptest.Server) *YouTubeFetcher {
	t.Helper()
	fetcher, err := NewYouTubeFetcher(config.YouTubeConfig{
		URLBase:            server.URL + "/watch?v=",
		CaptionTracksRegex: `"captionTracks":\[(?P<caption_tracks>[^\]]+)`,
		Timeout:            5 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewYouTubeFetcher: %v", err)
	}
	return fetcher
}

func TestLinksDiscoversCaptionTracks(t *testing.T) {
	server := newYouTubeTestServer(t, true)
	fetcher := newTestFetcher(t, server)

	tracks, err := fetcher.Links(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].LanguageCode != "en" || tracks[1].Kind != "asr" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
}

func TestLinksFailsWithoutCaptionTracks(t *testing.T) {
	server := newYouTubeTestServer(t, false)
	fetcher := newTestFetcher(t, server)

	_, err := fetcher.Links(context.Background(), "abc123")
	if !errors.Is(err, errs.ErrGetTranscriptsFromYouTube) {
		t.Fatalf("expected ErrGetTranscriptsFromYouTube, got %v", err)
	}
}

func TestGetTranscriptsFromYouTubeParsesTimedText(t *testing.T) {
	server := newYouTubeTestServer(t, true)
	fetcher := newTestFetcher(t, server)

	subs, err := fetcher.GetTranscriptsFromYouTube(context.Background(), "abc123", "en")
	if err != nil {
		t.Fatalf("GetTranscriptsFromYouTube: %v", err)
	}
	// The empty-body entry must be dropped, not turned into a blank cue.
	if subs.Len() != 2 {
		t.Fatalf("expected 2 cues, got %d: %v", subs.Len(), subs.Text)
	}
	if !reflect.DeepEqual(subs.Start, []int{1500, 4000}) {
		t.Fatalf("start: %v", subs.Start)
	}
	// end = (start + dur + 0.0001) * 1000
	if !reflect.DeepEqual(subs.End, []int{3500, 5250}) {
		t.Fatalf("end: %v", subs.End)
	}
	if subs.Text[1] != "Second line" {
		t.Fatalf("newlines must collapse to spaces: %q", subs.Text[1])
	}
}

func TestDownloadYouTubeSubsStoresCanonicalFilename(t *testing.T) {
	server := newYouTubeTestServer(t, true)
	fetcher := newTestFetcher(t, server)
	store := contentstore.NewMemoryStore()
	course := keys.CourseKey{Org: "edX", Course: "DemoX", Run: "2026"}

	filename, err := DownloadYouTubeSubs(context.Background(), fetcher, store, course, "abc123", "en")
	if err != nil {
		t.Fatalf("DownloadYouTubeSubs: %v", err)
	}
	if filename != "subs_abc123.srt.sjson" {
		t.Fatalf("filename: %q", filename)
	}
	data, err := store.Find(context.Background(), course, filename)
	if err != nil {
		t.Fatalf("stored transcript missing: %v", err)
	}
	if ParseSJSON(data).Len() != 2 {
		t.Fatalf("stored content: %s", data)
	}
}

func TestPickTrackPrefersManualOverASR(t *testing.T) {
	tracks := []CaptionTrack{
		{BaseURL: "asr", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "manual", LanguageCode: "en"},
	}
	if got := pickTrack(tracks, "en"); got.BaseURL != "manual" {
		t.Fatalf("pickTrack: %+v", got)
	}
	if got := pickTrack(tracks, "fr"); got.BaseURL != "asr" {
		t.Fatalf("pickTrack fallback: %+v", got)
	}
}

func TestParseYouTubeIDs(t *testing.T) {
	got := ParseYouTubeIDs("0.75:slowId, 1.00:normalId ,1.50:fastId,garbage")
	want := map[float64]string{0.75: "slowId", 1.0: "normalId", 1.5: "fastId"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseYouTubeIDs: %v", got)
	}
}

func TestGenerateSubsFromSource(t *testing.T) {
	store := contentstore.NewMemoryStore()
	course := keys.CourseKey{Org: "edX", Course: "DemoX", Run: "2026"}
	source := &Subs{Start: []int{1000}, End: []int{2000}, Text: []string{"cue"}}
	speeds := map[float64]string{0.75: "slowId", 1.0: "normalId"}

	if _, err := GenerateSubsFromSource(context.Background(), store, course, speeds, source, 1.0, "en"); err != nil {
		t.Fatalf("GenerateSubsFromSource: %v", err)
	}

	slow, err := store.Find(context.Background(), course, SubsFilename("slowId", "en"))
	if err != nil {
		t.Fatalf("slow variant missing: %v", err)
	}
	if subs := ParseSJSON(slow); subs.Start[0] != 750 {
		t.Fatalf("slow variant not rescaled: %+v", subs)
	}
	normal, err := store.Find(context.Background(), course, SubsFilename("normalId", "en"))
	if err != nil {
		t.Fatalf("normal variant missing: %v", err)
	}
	if subs := ParseSJSON(normal); subs.Start[0] != 1000 {
		t.Fatalf("normal variant changed: %+v", subs)
	}
}
