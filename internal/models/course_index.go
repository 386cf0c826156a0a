package models

// CourseIndexModel is the per-course head record. It points at the active
// draft and published structure snapshots and carries the optimistic
// concurrency counter guarding every commit.
type CourseIndexModel struct {
	Base
	Org    string `json:"org"    gorm:"uniqueIndex:idx_course_key;size:191;not null"`
	Course string `json:"course" gorm:"uniqueIndex:idx_course_key;size:191;not null"`
	Run    string `json:"run"    gorm:"uniqueIndex:idx_course_key;size:191"`

	DraftVersion     string `json:"draftVersion"     gorm:"type:char(36)"`
	PublishedVersion string `json:"publishedVersion" gorm:"type:char(36)"`

	// Version increases by one on every committed bulk region. Commits
	// compare-and-swap on it; a stale writer loses.
	Version int64 `json:"version" gorm:"not null;default:0"`

	EditedBy string `json:"editedBy"`
}

func (CourseIndexModel) TableName() string { return "course_indexes" }
