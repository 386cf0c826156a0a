package transcripts

import (
	"context"
	"fmt"
	"sync"

	"github.com/studiocore/authoring/internal/pkg/errs"
)

// TranscriptData is a stored transcript returned by the video asset
// service.
type TranscriptData struct {
	FileName string
	Content  []byte
	// FileFormat is the stored serialization (srt or sjson).
	FileFormat Format
}

// TranscriptionPlan describes one third-party transcription provider.
type TranscriptionPlan struct {
	Fidelity     map[string]interface{} `json:"fidelity,omitempty"`
	Turnaround   map[string]string      `json:"turnaround,omitempty"`
	Languages    map[string]string      `json:"languages,omitempty"`
	Translations map[string]string      `json:"translations,omitempty"`
}

// VideoAssetService is the external data plane that owns transcripts for
// videos with an assigned video id.
type VideoAssetService interface {
	GetVideoTranscriptData(ctx context.Context, videoID, languageCode string) (*TranscriptData, error)
	GetAvailableTranscriptLanguages(ctx context.Context, videoID string) ([]string, error)
	CreateOrUpdateVideoTranscript(ctx context.Context, videoID, languageCode string, metadata map[string]string, fileData []byte) error
	DeleteVideoTranscript(ctx context.Context, videoID, languageCode string) error
	GetThirdPartyTranscriptionPlans(ctx context.Context) (map[string]TranscriptionPlan, error)
}

// FakeVideoAssetService is an in-memory VideoAssetService for tests.
type FakeVideoAssetService struct {
	mu          sync.Mutex
	transcripts map[string]*TranscriptData // key: videoID + "/" + lang
	Plans       map[string]TranscriptionPlan
}

func NewFakeVideoAssetService() *FakeVideoAssetService {
	return &FakeVideoAssetService{transcripts: map[string]*TranscriptData{}}
}

func (f *FakeVideoAssetService) key(videoID, lang string) string { return videoID + "/" + lang }

// Put seeds a stored transcript.
func (f *FakeVideoAssetService) Put(videoID, lang string, data *TranscriptData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[f.key(videoID, lang)] = data
}

func (f *FakeVideoAssetService) GetVideoTranscriptData(_ context.Context, videoID, lang string) (*TranscriptData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.transcripts[f.key(videoID, lang)]
	if !ok {
		return nil, fmt.Errorf("%w: video %s lang %s", errs.ErrTranscriptNotFound, videoID, lang)
	}
	return data, nil
}

func (f *FakeVideoAssetService) GetAvailableTranscriptLanguages(_ context.Context, videoID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var langs []string
	for key := range f.transcripts {
		if id, lang, ok := splitKey(key); ok && id == videoID {
			langs = append(langs, lang)
		}
	}
	return langs, nil
}

func (f *FakeVideoAssetService) CreateOrUpdateVideoTranscript(_ context.Context, videoID, lang string, metadata map[string]string, fileData []byte) error {
	if videoID == "" || lang == "" {
		return fmt.Errorf("%w: video id and language are required", errs.ErrTranscriptRequestValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	format := Format(metadata["file_format"])
	if format == "" {
		format = FormatSJSON
	}
	f.transcripts[f.key(videoID, lang)] = &TranscriptData{
		FileName:   metadata["file_name"],
		Content:    fileData,
		FileFormat: format,
	}
	return nil
}

func (f *FakeVideoAssetService) DeleteVideoTranscript(_ context.Context, videoID, lang string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.transcripts, f.key(videoID, lang))
	return nil
}

func (f *FakeVideoAssetService) GetThirdPartyTranscriptionPlans(context.Context) (map[string]TranscriptionPlan, error) {
	return f.Plans, nil
}

func splitKey(key string) (string, string, bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
