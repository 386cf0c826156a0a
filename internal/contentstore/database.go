package contentstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/models"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseStore keeps file bytes in the content_files table.
type DatabaseStore struct {
	db *gorm.DB
}

func NewDatabaseStore(db *gorm.DB) *DatabaseStore { return &DatabaseStore{db: db} }

func (s *DatabaseStore) Save(ctx context.Context, course keys.CourseKey, filename string, data []byte, contentType string) error {
	sum := md5.Sum(data)
	row := models.ContentFileModel{
		CourseKey:   course.String(),
		Filename:    filename,
		Data:        data,
		ContentType: contentType,
		MD5:         hex.EncodeToString(sum[:]),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_key"}, {Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "content_type", "md5", "updated_at"}),
	}).Create(&row).Error
}

func (s *DatabaseStore) Find(ctx context.Context, course keys.CourseKey, filename string) ([]byte, error) {
	var row models.ContentFileModel
	err := s.db.WithContext(ctx).
		Where("course_key = ? AND filename = ?", course.String(), filename).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, filename)
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, course keys.CourseKey, filename string) error {
	return s.db.WithContext(ctx).
		Where("course_key = ? AND filename = ?", course.String(), filename).
		Delete(&models.ContentFileModel{}).Error
}

func (s *DatabaseStore) URL(course keys.CourseKey, filename string) string {
	return "/assets/" + objectKey(course, filename)
}
