// Package contentstore is the binary blob store for course-scoped files
// (transcripts, subtitle sources). Files are addressed by (course,
// filename); every operation is atomic at single-file granularity.
package contentstore

import (
	"context"

	"github.com/studiocore/authoring/internal/keys"
)

// Store is the narrow surface the transcript pipeline writes through.
type Store interface {
	// Save writes or replaces a file.
	Save(ctx context.Context, course keys.CourseKey, filename string, data []byte, contentType string) error
	// Find returns the file bytes, or errs.ErrNotFound.
	Find(ctx context.Context, course keys.CourseKey, filename string) ([]byte, error)
	// Delete removes a file; deleting a missing file is not an error.
	Delete(ctx context.Context, course keys.CourseKey, filename string) error
	// URL returns an opaque location for the file.
	URL(course keys.CourseKey, filename string) string
}

// objectKey builds the canonical per-course object path.
func objectKey(course keys.CourseKey, filename string) string {
	return course.Org + "/" + course.Course + "/" + course.Run + "/" + filename
}
