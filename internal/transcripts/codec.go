package transcripts

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/studiocore/authoring/internal/pkg/errs"
)

// Format is a transcript serialization format.
type Format string

const (
	FormatSRT   Format = "srt"
	FormatTXT   Format = "txt"
	FormatSJSON Format = "sjson"
)

// MIMEType returns the content type served for a format, or "" when the
// format is unknown.
func (f Format) MIMEType() string {
	switch f {
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	case FormatTXT:
		return "text/plain; charset=utf-8"
	case FormatSJSON:
		return "application/json"
	}
	return ""
}

// Subs is the canonical internal transcript form: three equal-length
// arrays of cue starts, ends (millisecond timestamps) and texts.
type Subs struct {
	Start []int    `json:"start"`
	End   []int    `json:"end"`
	Text  []string `json:"text"`
}

// Len returns the cue count.
func (s *Subs) Len() int { return len(s.Start) }

func (s *Subs) wellFormed() bool {
	return len(s.Start) == len(s.End) && len(s.End) == len(s.Text)
}

// Clone deep-copies the subs.
func (s *Subs) Clone() *Subs {
	out := &Subs{
		Start: append([]int(nil), s.Start...),
		End:   append([]int(nil), s.End...),
		Text:  append([]string(nil), s.Text...),
	}
	return out
}

// Rescale converts cue timings recorded at fromSpeed into timings for
// toSpeed, rounding to the nearest millisecond. Text is shared.
func Rescale(subs *Subs, fromSpeed, toSpeed float64) *Subs {
	if fromSpeed == toSpeed {
		return subs
	}
	coefficient := toSpeed / fromSpeed
	out := &Subs{
		Start: make([]int, len(subs.Start)),
		End:   make([]int, len(subs.End)),
		Text:  subs.Text,
	}
	for i, ts := range subs.Start {
		out.Start[i] = int(math.Round(float64(ts) * coefficient))
	}
	for i, ts := range subs.End {
		out.End[i] = int(math.Round(float64(ts) * coefficient))
	}
	return out
}

// SubsToSRT renders subs as SubRip text. Cues are emitted in input order
// with 1-based indexes; timings are divided by speed before emission.
func SubsToSRT(subs *Subs, speed float64) string {
	if !subs.wellFormed() {
		return ""
	}
	scaled := subs
	if speed != 1.0 {
		scaled = Rescale(subs, speed, 1.0)
	}

	var b strings.Builder
	for i := 0; i < scaled.Len(); i++ {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatSRTTime(scaled.Start[i]),
			formatSRTTime(scaled.End[i]),
			scaled.Text[i])
	}
	return b.String()
}

// SubsToTXT renders subs as plain text, one cue per line with HTML
// entities decoded.
func SubsToTXT(subs *Subs) string {
	lines := make([]string, len(subs.Text))
	copy(lines, subs.Text)
	return html.UnescapeString(strings.Join(lines, "\n"))
}

var srtTimeLine = regexp.MustCompile(
	`^(\d{1,3}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,3}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// SRTToSubs parses SubRip bytes into the canonical form. A leading BOM
// is stripped; newlines inside a cue collapse to single spaces.
// Malformed cue blocks fail with errs.ErrTranscriptGeneration.
func SRTToSubs(data []byte) (*Subs, error) {
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	subs := &Subs{}
	for _, block := range strings.Split(text, "\n\n") {
		lines := splitCueBlock(block)
		if len(lines) == 0 {
			continue
		}
		// Optional numeric index line.
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			lines = lines[1:]
		}
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: cue block without timings", errs.ErrTranscriptGeneration)
		}
		start, end, err := parseSRTTimeLine(lines[0])
		if err != nil {
			return nil, err
		}
		body := strings.Join(lines[1:], " ")
		subs.Start = append(subs.Start, start)
		subs.End = append(subs.End, end)
		subs.Text = append(subs.Text, body)
	}
	if subs.Len() == 0 {
		return nil, fmt.Errorf("%w: no cues found", errs.ErrTranscriptGeneration)
	}
	return subs, nil
}

func splitCueBlock(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func parseSRTTimeLine(line string) (int, int, error) {
	m := srtTimeLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: bad timing line %q", errs.ErrTranscriptGeneration, line)
	}
	toMillis := func(h, min, sec, ms string) int {
		hv, _ := strconv.Atoi(h)
		mv, _ := strconv.Atoi(min)
		sv, _ := strconv.Atoi(sec)
		msv, _ := strconv.Atoi(ms)
		return ((hv*60+mv)*60+sv)*1000 + msv
	}
	return toMillis(m[1], m[2], m[3], m[4]), toMillis(m[5], m[6], m[7], m[8]), nil
}

func formatSRTTime(millis int) string {
	if millis < 0 {
		millis = 0
	}
	ms := millis % 1000
	total := millis / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", total/3600, (total/60)%60, total%60, ms)
}

// ParseSJSON decodes sjson bytes. Undecodable content yields a single
// placeholder cue rather than an error, matching long-standing player
// behavior for corrupt stored transcripts.
func ParseSJSON(data []byte) *Subs {
	var subs Subs
	if err := json.Unmarshal(data, &subs); err != nil || !subs.wellFormed() {
		return &Subs{
			Start: []int{1},
			End:   []int{2},
			Text:  []string{"An error occured obtaining the transcript."},
		}
	}
	return &subs
}

// MarshalSJSON encodes subs in the canonical sjson layout.
func MarshalSJSON(subs *Subs) []byte {
	out := struct {
		Start []int    `json:"start"`
		End   []int    `json:"end"`
		Text  []string `json:"text"`
	}{subs.Start, subs.End, subs.Text}
	if out.Start == nil {
		out.Start = []int{}
	}
	if out.End == nil {
		out.End = []int{}
	}
	if out.Text == nil {
		out.Text = []string{}
	}
	data, _ := json.Marshal(out)
	return data
}

// Convert transcodes transcript content between formats. Accepted inputs
// are srt and sjson; outputs srt, txt and sjson.
func Convert(content []byte, inputFormat, outputFormat Format) ([]byte, error) {
	if inputFormat == outputFormat {
		return content, nil
	}

	switch inputFormat {
	case FormatSRT:
		subs, err := SRTToSubs(content)
		if err != nil {
			return nil, err
		}
		switch outputFormat {
		case FormatTXT:
			return []byte(SubsToTXT(subs)), nil
		case FormatSJSON:
			return MarshalSJSON(subs), nil
		}
	case FormatSJSON:
		subs := ParseSJSON(content)
		switch outputFormat {
		case FormatTXT:
			return []byte(SubsToTXT(subs)), nil
		case FormatSRT:
			return []byte(SubsToSRT(subs, 1.0)), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot convert %s to %s", errs.ErrTranscriptGeneration, inputFormat, outputFormat)
}
