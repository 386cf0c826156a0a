// Package keys implements the opaque, parseable identifiers for courses
// and blocks. Keys round-trip through their canonical string form:
//
//	course-v1:<org>+<course>+<run>
//	lib-v1:<org>+<library>
//	block-v1:<org>+<course>+<run>+type@<type>+block@<id>
//	lib-block-v1:<org>+<library>+type@<type>+block@<id>
package keys

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/studiocore/authoring/internal/pkg/errs"
)

const (
	coursePrefix   = "course-v1:"
	libraryPrefix  = "lib-v1:"
	blockPrefix    = "block-v1:"
	libBlockPrefix = "lib-block-v1:"
)

var allowedID = regexp.MustCompile(`^[\w\-~.]+$`)

// CourseKey identifies a course run, or a content library when Run is
// empty.
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

// IsLibrary reports whether the key addresses a content library rather
// than a course run.
func (c CourseKey) IsLibrary() bool { return c.Run == "" }

// IsZero reports whether the key is unset.
func (c CourseKey) IsZero() bool { return c.Org == "" && c.Course == "" && c.Run == "" }

func (c CourseKey) String() string {
	if c.IsLibrary() {
		return libraryPrefix + c.Org + "+" + c.Course
	}
	return coursePrefix + c.Org + "+" + c.Course + "+" + c.Run
}

// Compare orders course keys by their lexical (org, course, run) tuple.
func (c CourseKey) Compare(other CourseKey) int {
	if d := strings.Compare(c.Org, other.Org); d != 0 {
		return d
	}
	if d := strings.Compare(c.Course, other.Course); d != 0 {
		return d
	}
	return strings.Compare(c.Run, other.Run)
}

// UsageKey identifies a single block inside a course or library.
type UsageKey struct {
	Course CourseKey
	Type   string
	ID     string
}

// IsZero reports whether the key is unset.
func (u UsageKey) IsZero() bool { return u.Course.IsZero() && u.Type == "" && u.ID == "" }

func (u UsageKey) String() string {
	if u.Course.IsLibrary() {
		return fmt.Sprintf("%s%s+%s+type@%s+block@%s", libBlockPrefix, u.Course.Org, u.Course.Course, u.Type, u.ID)
	}
	return fmt.Sprintf("%s%s+%s+%s+type@%s+block@%s", blockPrefix, u.Course.Org, u.Course.Course, u.Course.Run, u.Type, u.ID)
}

// CourseKeyOf returns the enclosing course key.
func (u UsageKey) CourseKeyOf() CourseKey { return u.Course }

// MapIntoCourse re-attaches the usage key to another course, keeping the
// block type and id. Crossing course keys is always explicit.
func (u UsageKey) MapIntoCourse(course CourseKey) UsageKey {
	return UsageKey{Course: course, Type: u.Type, ID: u.ID}
}

// NewUsageKey builds a usage key inside course.
func NewUsageKey(course CourseKey, blockType, blockID string) UsageKey {
	return UsageKey{Course: course, Type: blockType, ID: blockID}
}

// ParseCourseKey parses a canonical course or library key string.
func ParseCourseKey(s string) (CourseKey, error) {
	switch {
	case strings.HasPrefix(s, coursePrefix):
		parts := strings.Split(strings.TrimPrefix(s, coursePrefix), "+")
		if len(parts) != 3 {
			return CourseKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
		}
		key := CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}
		if !validCourseKey(key) || key.Run == "" {
			return CourseKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
		}
		return key, nil
	case strings.HasPrefix(s, libraryPrefix):
		parts := strings.Split(strings.TrimPrefix(s, libraryPrefix), "+")
		if len(parts) != 2 {
			return CourseKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
		}
		key := CourseKey{Org: parts[0], Course: parts[1]}
		if !validCourseKey(key) {
			return CourseKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
		}
		return key, nil
	default:
		return CourseKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}
}

// ParseUsageKey parses a canonical block key string.
func ParseUsageKey(s string) (UsageKey, error) {
	var fields []string
	library := false
	switch {
	case strings.HasPrefix(s, blockPrefix):
		fields = strings.Split(strings.TrimPrefix(s, blockPrefix), "+")
	case strings.HasPrefix(s, libBlockPrefix):
		fields = strings.Split(strings.TrimPrefix(s, libBlockPrefix), "+")
		library = true
	default:
		return UsageKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}

	want := 5
	if library {
		want = 4
	}
	if len(fields) != want {
		return UsageKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}

	course := CourseKey{Org: fields[0], Course: fields[1]}
	rest := fields[2:]
	if !library {
		course.Run = fields[2]
		rest = fields[3:]
	}
	blockType, ok := strings.CutPrefix(rest[0], "type@")
	if !ok {
		return UsageKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}
	blockID, ok := strings.CutPrefix(rest[1], "block@")
	if !ok {
		return UsageKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}

	key := UsageKey{Course: course, Type: blockType, ID: blockID}
	if !validCourseKey(course) || (!library && course.Run == "") ||
		!allowedID.MatchString(blockType) || !allowedID.MatchString(blockID) {
		return UsageKey{}, fmt.Errorf("%w: %q", errs.ErrInvalidKey, s)
	}
	return key, nil
}

func validCourseKey(key CourseKey) bool {
	if !allowedID.MatchString(key.Org) || !allowedID.MatchString(key.Course) {
		return false
	}
	return key.Run == "" || allowedID.MatchString(key.Run)
}
