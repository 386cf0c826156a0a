package transcripts

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"go.uber.org/zap"
)

// CaptionTrack is one entry of the watch page's captionTracks array.
type CaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

// YouTubeFetcher discovers and downloads third-party transcripts.
type YouTubeFetcher struct {
	http    *http.Client
	urlBase string
	tracks  *regexp.Regexp
	logger  *zap.Logger
}

func NewYouTubeFetcher(cfg config.YouTubeConfig, logger *zap.Logger) (*YouTubeFetcher, error) {
	re, err := regexp.Compile(cfg.CaptionTracksRegex)
	if err != nil {
		return nil, fmt.Errorf("compile caption tracks regex: %w", err)
	}
	return &YouTubeFetcher{
		http:    &http.Client{Timeout: cfg.Timeout},
		urlBase: cfg.URLBase,
		tracks:  re,
		logger:  logger.Named("YouTube"),
	}, nil
}

// Links scrapes the watch page for available caption tracks.
func (f *YouTubeFetcher) Links(ctx context.Context, youtubeID string) ([]CaptionTrack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.urlBase+youtubeID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d for video %s", errs.ErrGetTranscriptsFromYouTube, resp.StatusCode, youtubeID)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}

	m := f.tracks.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: no caption tracks found for video %s", errs.ErrGetTranscriptsFromYouTube, youtubeID)
	}
	var tracks []CaptionTrack
	if err := json.Unmarshal([]byte("["+string(m[len(m)-1])+"]"), &tracks); err != nil {
		return nil, fmt.Errorf("%w: parse caption tracks: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: empty caption track list for video %s", errs.ErrGetTranscriptsFromYouTube, youtubeID)
	}
	return tracks, nil
}

// GetTranscriptsFromYouTube downloads the transcript XML for youtubeID
// and converts it into the canonical cue form. The language-matching
// track wins; manual tracks beat auto-generated ones.
func (f *YouTubeFetcher) GetTranscriptsFromYouTube(ctx context.Context, youtubeID, lang string) (*Subs, error) {
	if lang == "" {
		lang = "en"
	}
	tracks, err := f.Links(ctx, youtubeID)
	if err != nil {
		return nil, err
	}
	track := pickTrack(tracks, lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d for video %s", errs.ErrGetTranscriptsFromYouTube, resp.StatusCode, youtubeID)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}

	subs, err := parseTimedTextXML(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGetTranscriptsFromYouTube, err)
	}
	if subs.Len() == 0 {
		return nil, fmt.Errorf("%w: empty subtitles for video %s", errs.ErrGetTranscriptsFromYouTube, youtubeID)
	}
	f.logger.Info("downloaded transcript from youtube",
		zap.String("youtube_id", youtubeID),
		zap.String("language", track.LanguageCode),
		zap.Int("cues", subs.Len()))
	return subs, nil
}

func pickTrack(tracks []CaptionTrack, lang string) CaptionTrack {
	var asrFallback *CaptionTrack
	for i := range tracks {
		if tracks[i].LanguageCode != lang {
			continue
		}
		if tracks[i].Kind != "asr" {
			return tracks[i]
		}
		if asrFallback == nil {
			asrFallback = &tracks[i]
		}
	}
	if asrFallback != nil {
		return *asrFallback
	}
	return tracks[0]
}

type timedText struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Body  string  `xml:",chardata"`
	} `xml:"text"`
}

// parseTimedTextXML converts youtube's timedtext XML into cue arrays.
// Cue ends get a tiny epsilon so that zero-duration cues keep end > start
// after rounding.
func parseTimedTextXML(data []byte) (*Subs, error) {
	var doc timedText
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	subs := &Subs{}
	for _, t := range doc.Texts {
		text := strings.ReplaceAll(t.Body, "\n", " ")
		if text == "" {
			continue
		}
		subs.Start = append(subs.Start, int(t.Start*1000))
		subs.End = append(subs.End, int((t.Start+t.Dur+0.0001)*1000))
		subs.Text = append(subs.Text, text)
	}
	return subs, nil
}

// ParseYouTubeIDs splits a "0.75:id,1.00:id2" style youtube field into a
// speed keyed map, tolerating whitespace and skipping malformed chunks.
func ParseYouTubeIDs(value string) map[float64]string {
	out := map[float64]string{}
	for _, chunk := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(chunk), ":", 2)
		if len(parts) != 2 {
			continue
		}
		speed, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			continue
		}
		out[speed] = strings.TrimSpace(parts[1])
	}
	return out
}
