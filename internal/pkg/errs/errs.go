// Package errs defines the error kinds shared across the authoring core.
// Callers map these onto their own transport-level responses; the core
// never formats HTTP payloads itself.
package errs

import (
	"errors"
	"fmt"
)

// ConcurrentAuthorsMessage is the fixed user-visible text for optimistic
// concurrency losses. UIs rely on the exact phrase.
const ConcurrentAuthorsMessage = "Invalid data, possibly caused by concurrent authors"

var (
	// ErrInvalidKey reports a malformed locator string.
	ErrInvalidKey = errors.New("invalid key")

	// ErrItemNotFound reports a well-formed locator that refers to nothing.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotFound reports a missing file in the binary blob store.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is carried through from the caller's own
	// authorization decision.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConcurrentAuthors reports a lost optimistic-concurrency race.
	ErrConcurrentAuthors = errors.New(ConcurrentAuthorsMessage)

	// ErrTranscriptNotFound reports that no transcript exists for the
	// requested video/language, or that the requested format is unknown.
	ErrTranscriptNotFound = errors.New("transcript not found")

	// ErrTranscriptGeneration reports a transcript conversion failure,
	// typically malformed SubRip input.
	ErrTranscriptGeneration = errors.New("transcript generation failed")

	// ErrGetTranscriptsFromYouTube reports a third-party fetch failure.
	// This is an expected condition, not data corruption.
	ErrGetTranscriptsFromYouTube = errors.New("can't receive transcripts from youtube")

	// ErrTranscriptRequestValidation reports invalid third-party
	// transcription credentials or parameters.
	ErrTranscriptRequestValidation = errors.New("transcript request validation failed")
)

// UserError is an invariant violation attributable to user input. The
// message is returned verbatim to the UI layer and must not leak internal
// identifiers.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

// NewUserError builds a UserError with a formatted message.
func NewUserError(format string, args ...interface{}) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err carries a user-visible message.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
