package models

// ContentFileModel stores a single binary file scoped to a course. The
// (course_key, filename) pair is the lookup identity; writes replace the
// row atomically.
type ContentFileModel struct {
	Base
	CourseKey   string `json:"courseKey"   gorm:"uniqueIndex:idx_course_file;size:191;not null"`
	Filename    string `json:"filename"    gorm:"uniqueIndex:idx_course_file;size:191;not null"`
	Data        []byte `json:"-"           gorm:"type:longblob"`
	ContentType string `json:"contentType" gorm:"size:128"`
	MD5         string `json:"md5"         gorm:"size:32"`
}

func (ContentFileModel) TableName() string { return "content_files" }
