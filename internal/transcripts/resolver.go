package transcripts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/studiocore/authoring/internal/contentstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Video carries the transcript-relevant fields of a video block.
type Video struct {
	Location keys.UsageKey

	EdxVideoID   string
	Sub          string
	YouTubeID075 string
	YouTubeID10  string
	YouTubeID125 string
	YouTubeID15  string
	HTML5Sources []string
	// Transcripts maps language code to the uploaded transcript filename.
	Transcripts        map[string]string
	TranscriptLanguage string
}

// VideoFromFields extracts a Video from a block's open field mapping.
func VideoFromFields(location keys.UsageKey, fields map[string]interface{}) *Video {
	str := func(name string) string {
		if v, ok := fields[name].(string); ok {
			return v
		}
		return ""
	}
	v := &Video{
		Location:           location,
		EdxVideoID:         str("edx_video_id"),
		Sub:                str("sub"),
		YouTubeID075:       str("youtube_id_0_75"),
		YouTubeID10:        str("youtube_id_1_0"),
		YouTubeID125:       str("youtube_id_1_25"),
		YouTubeID15:        str("youtube_id_1_5"),
		TranscriptLanguage: str("transcript_language"),
		Transcripts:        map[string]string{},
	}
	if sources, ok := fields["html5_sources"].([]interface{}); ok {
		for _, s := range sources {
			if src, ok := s.(string); ok {
				v.HTML5Sources = append(v.HTML5Sources, src)
			}
		}
	}
	if m, ok := fields["transcripts"].(map[string]interface{}); ok {
		for lang, name := range m {
			if fn, ok := name.(string); ok {
				v.Transcripts[lang] = fn
			}
		}
	}
	return v
}

// YouTubeSpeedDict maps each configured youtube id to its playback speed.
func (v *Video) YouTubeSpeedDict() map[string]float64 {
	ids := []string{v.YouTubeID075, v.YouTubeID10, v.YouTubeID125, v.YouTubeID15}
	speeds := []float64{0.75, 1.0, 1.25, 1.5}
	out := map[string]float64{}
	for i, id := range ids {
		if id != "" {
			out[id] = speeds[i]
		}
	}
	return out
}

// HTML5IDs parses html5 source URLs into bare ids (basename sans
// extension). Slashes are assumed absent from the filename itself.
func HTML5IDs(sources []string) []string {
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		base := src
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[i+1:]
		}
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[:i]
		}
		ids = append(ids, base)
	}
	return ids
}

// SubsFilename is the canonical storage filename for a transcript id.
func SubsFilename(subsID, lang string) string {
	if lang == "" || lang == "en" {
		return fmt.Sprintf("subs_%s.srt.sjson", subsID)
	}
	return fmt.Sprintf("%s_subs_%s.srt.sjson", lang, subsID)
}

// PackageStore resolves static files for library-owned blocks.
type PackageStore interface {
	FindStatic(ctx context.Context, usage keys.UsageKey, filename string) ([]byte, error)
}

// Resolver fans transcript requests out across the video asset service,
// the course content store, and the component package store.
type Resolver struct {
	val      VideoAssetService
	content  contentstore.Store
	packages PackageStore
	logger   *zap.Logger
}

func NewResolver(val VideoAssetService, content contentstore.Store, packages PackageStore, logger *zap.Logger) *Resolver {
	return &Resolver{val: val, content: content, packages: packages, logger: logger.Named("TranscriptResolver")}
}

// GetTranscript returns (content, filename, mime) for the requested
// language and output format, or errs.ErrTranscriptNotFound.
//
// fallbackToEnglish is the host-level toggle: when the requested
// language has no transcript, English is tried instead.
func (r *Resolver) GetTranscript(ctx context.Context, video *Video, lang string, outputFormat Format, youtubeID string, fallbackToEnglish bool) ([]byte, string, string, error) {
	if outputFormat.MIMEType() == "" {
		return nil, "", "", fmt.Errorf("%w: Invalid transcript format `%s`", errs.ErrTranscriptNotFound, outputFormat)
	}
	if lang == "" {
		lang = "en"
	}
	lang = r.matchLanguage(lang, video)

	content, filename, mime, err := r.resolve(ctx, video, lang, outputFormat, youtubeID)
	if err != nil && errors.Is(err, errs.ErrTranscriptNotFound) && fallbackToEnglish && lang != "en" {
		r.logger.Debug("falling back to english transcript",
			zap.String("video", video.Location.String()),
			zap.String("language", lang))
		return r.resolve(ctx, video, "en", outputFormat, youtubeID)
	}
	return content, filename, mime, err
}

func (r *Resolver) resolve(ctx context.Context, video *Video, lang string, outputFormat Format, youtubeID string) ([]byte, string, string, error) {
	if video.Location.Course.IsLibrary() {
		return r.fromPackageStore(ctx, video, lang, outputFormat)
	}
	if video.EdxVideoID != "" {
		content, filename, mime, err := r.fromAssetService(ctx, video, lang, outputFormat)
		if err == nil {
			return content, filename, mime, nil
		}
		if !errors.Is(err, errs.ErrTranscriptNotFound) {
			return nil, "", "", err
		}
	}
	return r.fromContentStore(ctx, video, lang, outputFormat, youtubeID)
}

func (r *Resolver) fromAssetService(ctx context.Context, video *Video, lang string, outputFormat Format) ([]byte, string, string, error) {
	data, err := r.val.GetVideoTranscriptData(ctx, video.EdxVideoID, lang)
	if err != nil {
		return nil, "", "", err
	}
	converted, err := Convert(data.Content, data.FileFormat, outputFormat)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", errs.ErrTranscriptNotFound, err)
	}
	base := strings.TrimSuffix(data.FileName, path.Ext(data.FileName))
	return converted, fmt.Sprintf("%s.%s", base, outputFormat), outputFormat.MIMEType(), nil
}

func (r *Resolver) fromContentStore(ctx context.Context, video *Video, lang string, outputFormat Format, youtubeID string) ([]byte, string, string, error) {
	course := video.Location.Course
	candidates := append([]string{youtubeID, video.Sub, video.YouTubeID10}, HTML5IDs(video.HTML5Sources)...)

	var (
		inputFormat Format
		baseName    string
		raw         []byte
	)
	for _, subID := range candidates {
		if subID != "" {
			if data, err := r.content.Find(ctx, course, SubsFilename(subID, lang)); err == nil {
				inputFormat, baseName, raw = FormatSJSON, subID, data
				break
			}
		}
		if filename := video.Transcripts[lang]; filename != "" {
			if data, err := r.content.Find(ctx, course, filename); err == nil {
				inputFormat, baseName, raw = FormatSRT, strings.TrimSuffix(filename, path.Ext(filename)), data
				break
			}
		}
	}
	if raw == nil {
		return nil, "", "", fmt.Errorf("%w: no transcript for `%s` language", errs.ErrTranscriptNotFound, lang)
	}

	converted, err := Convert(raw, inputFormat, outputFormat)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", errs.ErrTranscriptNotFound, err)
	}
	if len(strings.TrimSpace(string(converted))) == 0 {
		return nil, "", "", fmt.Errorf("%w: no transcript content", errs.ErrTranscriptNotFound)
	}

	// Translation dispatches address a specific youtube id; rescale the
	// sjson payload to that id's playback speed.
	if youtubeID != "" && outputFormat == FormatSJSON {
		if speed, ok := video.YouTubeSpeedDict()[youtubeID]; ok && speed != 1.0 {
			converted = MarshalSJSON(Rescale(ParseSJSON(converted), 1.0, speed))
		}
	}

	prefix := ""
	if lang != "" && lang != "en" {
		prefix = lang + "_"
	}
	filename := fmt.Sprintf("%s%s.%s", prefix, baseName, outputFormat)
	return converted, filename, outputFormat.MIMEType(), nil
}

func (r *Resolver) fromPackageStore(ctx context.Context, video *Video, lang string, outputFormat Format) ([]byte, string, string, error) {
	if r.packages == nil {
		return nil, "", "", fmt.Errorf("%w: no package store configured", errs.ErrTranscriptNotFound)
	}
	filename := video.Transcripts[lang]
	if filename == "" {
		return nil, "", "", fmt.Errorf("%w: no transcript for `%s` language", errs.ErrTranscriptNotFound, lang)
	}
	if !strings.HasSuffix(filename, ".srt") {
		// Only SubRip sources are supported for library components.
		return nil, "", "", fmt.Errorf("%w: unsupported library transcript %q", errs.ErrTranscriptNotFound, filename)
	}
	raw, err := r.packages.FindStatic(ctx, video.Location, "static/"+filename)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %s", errs.ErrTranscriptNotFound, filename)
	}

	converted, err := Convert(raw, FormatSRT, outputFormat)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", errs.ErrTranscriptNotFound, err)
	}
	prefix := ""
	if lang != "" && lang != "en" {
		prefix = lang + "_"
	}
	base := strings.TrimSuffix(filename, path.Ext(filename))
	return converted, fmt.Sprintf("%s%s.%s", prefix, base, outputFormat), outputFormat.MIMEType(), nil
}

// matchLanguage canonicalizes a requested language tag against the
// languages the video actually carries, so regional variants (en-GB,
// zh-Hans) find their base transcript.
func (r *Resolver) matchLanguage(requested string, video *Video) string {
	available := make([]string, 0, len(video.Transcripts)+1)
	available = append(available, "en")
	for lang := range video.Transcripts {
		available = append(available, lang)
	}

	tags := make([]language.Tag, 0, len(available))
	valid := make([]string, 0, len(available))
	for _, lang := range available {
		tag, err := language.Parse(lang)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		valid = append(valid, lang)
	}
	want, err := language.Parse(requested)
	if err != nil || len(tags) == 0 {
		return requested
	}

	matcher := language.NewMatcher(tags)
	_, index, confidence := matcher.Match(want)
	if confidence >= language.High {
		return valid[index]
	}
	return requested
}
