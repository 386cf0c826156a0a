package transcripts

import (
	"context"
	"fmt"

	"github.com/studiocore/authoring/internal/contentstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
)

// SaveSubsToStore writes subs into the course content store under the
// canonical sjson filename and returns that filename.
func SaveSubsToStore(ctx context.Context, store contentstore.Store, course keys.CourseKey, subs *Subs, subsID, lang string) (string, error) {
	filename := SubsFilename(subsID, lang)
	if err := store.Save(ctx, course, filename, MarshalSJSON(subs), FormatSJSON.MIMEType()); err != nil {
		return "", fmt.Errorf("save subs %s: %w", filename, err)
	}
	return filename, nil
}

// RemoveSubsFromStore deletes the stored sjson transcripts for each of
// the given ids. Missing files are not an error.
func RemoveSubsFromStore(ctx context.Context, store contentstore.Store, course keys.CourseKey, subsIDs []string, lang string) error {
	for _, subsID := range subsIDs {
		if subsID == "" {
			continue
		}
		if err := store.Delete(ctx, course, SubsFilename(subsID, lang)); err != nil {
			return fmt.Errorf("remove subs %s: %w", subsID, err)
		}
	}
	return nil
}

// GenerateSubsFromSource rescales source subtitles to every configured
// speed variant and stores each result under its youtube id. speeds maps
// playback speed to youtube id; sourceSpeed describes the timing of the
// provided subs.
func GenerateSubsFromSource(ctx context.Context, store contentstore.Store, course keys.CourseKey, speeds map[float64]string, subs *Subs, sourceSpeed float64, lang string) (*Subs, error) {
	if !subs.wellFormed() {
		return nil, fmt.Errorf("%w: subtitles are not well formed", errs.ErrTranscriptGeneration)
	}
	if sourceSpeed == 0 {
		sourceSpeed = 1.0
	}
	for speed, youtubeID := range speeds {
		if youtubeID == "" {
			continue
		}
		scaled := Rescale(subs, sourceSpeed, speed)
		if _, err := SaveSubsToStore(ctx, store, course, scaled, youtubeID, lang); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// CopyOrRenameTranscript copies the stored transcript for oldSubsID to
// newSubsID, deleting the source when deleteOld is set.
func CopyOrRenameTranscript(ctx context.Context, store contentstore.Store, course keys.CourseKey, oldSubsID, newSubsID, lang string, deleteOld bool) error {
	data, err := store.Find(ctx, course, SubsFilename(oldSubsID, lang))
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrTranscriptNotFound, oldSubsID)
	}
	if _, err := SaveSubsToStore(ctx, store, course, ParseSJSON(data), newSubsID, lang); err != nil {
		return err
	}
	if deleteOld {
		return RemoveSubsFromStore(ctx, store, course, []string{oldSubsID}, lang)
	}
	return nil
}

// DownloadYouTubeSubs fetches the transcript for youtubeID and saves it
// to the content store, returning the stored filename.
func DownloadYouTubeSubs(ctx context.Context, fetcher *YouTubeFetcher, store contentstore.Store, course keys.CourseKey, youtubeID, lang string) (string, error) {
	subs, err := fetcher.GetTranscriptsFromYouTube(ctx, youtubeID, lang)
	if err != nil {
		return "", err
	}
	return SaveSubsToStore(ctx, store, course, subs, youtubeID, lang)
}
