package blockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/models"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store reads and writes course trees. All mutation happens inside a
// bulk region: load the head, stage edits in memory, commit new
// snapshots behind a compare-and-swap on the course index version.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("BlockStore"), now: time.Now}
}

// CreateCourse creates the course index and the initial draft and
// published snapshots holding only the root block. Library keys get a
// library root instead of a course root.
func (s *Store) CreateCourse(ctx context.Context, course keys.CourseKey, user string, displayName *string, fields map[string]interface{}) (*Block, error) {
	rootCategory := "course"
	if course.IsLibrary() {
		rootCategory = "library"
	}
	rootKey := nodeKey(rootCategory, rootCategory)
	rootData := &models.BlockData{
		Category:    rootCategory,
		DisplayName: cloneStringPtr(displayName),
		Fields:      cloneFields(fields),
		EditedBy:    user,
		EditedOn:    s.now(),
	}

	var block *Block
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.CourseIndexModel{}).
			Where("org = ? AND course = ? AND run = ?", course.Org, course.Course, course.Run).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errs.NewUserError("Course %s already exists", course)
		}

		draft := &models.StructureModel{
			CourseKey: course.String(),
			Branch:    models.BranchDraft,
			Root:      rootKey,
			Blocks:    map[string]*models.BlockData{rootKey: rootData},
			EditedBy:  user,
		}
		published := &models.StructureModel{
			CourseKey: course.String(),
			Branch:    models.BranchPublished,
			Root:      rootKey,
			Blocks:    map[string]*models.BlockData{rootKey: cloneBlockData(rootData)},
			EditedBy:  user,
		}
		if err := tx.Create(draft).Error; err != nil {
			return err
		}
		if err := tx.Create(published).Error; err != nil {
			return err
		}

		index := &models.CourseIndexModel{
			Org:              course.Org,
			Course:           course.Course,
			Run:              course.Run,
			DraftVersion:     draft.ID,
			PublishedVersion: published.ID,
			Version:          1,
			EditedBy:         user,
		}
		if err := tx.Create(index).Error; err != nil {
			return err
		}
		var err error
		block, err = blockFromData(course, rootKey, rootData)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created course", zap.String("course", course.String()), zap.String("user", user))
	return block, nil
}

// ListCourses returns the keys of every non-library course index.
func (s *Store) ListCourses(ctx context.Context) ([]keys.CourseKey, error) {
	var indexes []models.CourseIndexModel
	if err := s.db.WithContext(ctx).
		Where("run <> ''").
		Order("org, course, run").
		Find(&indexes).Error; err != nil {
		return nil, err
	}
	out := make([]keys.CourseKey, 0, len(indexes))
	for _, index := range indexes {
		out = append(out, keys.CourseKey{Org: index.Org, Course: index.Course, Run: index.Run})
	}
	return out, nil
}

// HasCourse reports whether a course index exists for key.
func (s *Store) HasCourse(ctx context.Context, course keys.CourseKey) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CourseIndexModel{}).
		Where("org = ? AND course = ? AND run = ?", course.Org, course.Course, course.Run).
		Count(&count).Error
	return count > 0, err
}

// BulkOperations runs fn against a staged view of the course. When fn
// returns nil, dirty branches become new snapshot rows and the course
// head advances, provided nobody committed in between; a lost race
// fails with errs.ErrConcurrentAuthors and nothing is written.
func (s *Store) BulkOperations(ctx context.Context, course keys.CourseKey, user string, fn func(*Tx) error) error {
	tx, err := s.load(ctx, course, user)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.draftDirty && !tx.publishedDirty {
		return nil
	}
	return s.commit(ctx, tx)
}

func (s *Store) load(ctx context.Context, course keys.CourseKey, user string) (*Tx, error) {
	var index models.CourseIndexModel
	err := s.db.WithContext(ctx).
		Where("org = ? AND course = ? AND run = ?", course.Org, course.Course, course.Run).
		First(&index).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: course %s", errs.ErrItemNotFound, course)
		}
		return nil, err
	}

	tx := &Tx{course: course, user: user, index: &index, now: s.now}
	if tx.draft, err = s.loadStructure(ctx, index.DraftVersion); err != nil {
		return nil, err
	}
	if index.PublishedVersion != "" {
		if tx.published, err = s.loadStructure(ctx, index.PublishedVersion); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (s *Store) loadStructure(ctx context.Context, id string) (*structure, error) {
	var m models.StructureModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: structure %s", errs.ErrItemNotFound, id)
		}
		return nil, err
	}
	return structureFromModel(&m), nil
}

func (s *Store) commit(ctx context.Context, tx *Tx) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		updates := map[string]interface{}{
			"version":   tx.index.Version + 1,
			"edited_by": tx.user,
		}
		if tx.draftDirty {
			snapshot := s.snapshotModel(tx, tx.draft, models.BranchDraft)
			if err := db.Create(snapshot).Error; err != nil {
				return err
			}
			updates["draft_version"] = snapshot.ID
		}
		if tx.publishedDirty {
			snapshot := s.snapshotModel(tx, tx.published, models.BranchPublished)
			if err := db.Create(snapshot).Error; err != nil {
				return err
			}
			updates["published_version"] = snapshot.ID
		}

		result := db.Model(&models.CourseIndexModel{}).
			Where("id = ? AND version = ?", tx.index.ID, tx.index.Version).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			s.logger.Warn("bulk commit lost the version race",
				zap.String("course", tx.course.String()),
				zap.Int64("version", tx.index.Version))
			return fmt.Errorf("%w: %s", errs.ErrConcurrentAuthors, errs.ConcurrentAuthorsMessage)
		}
		return nil
	})
}

func (s *Store) snapshotModel(tx *Tx, branch *structure, name string) *models.StructureModel {
	blocks := make(map[string]*models.BlockData, len(branch.blocks))
	for key, data := range branch.blocks {
		blocks[key] = cloneBlockData(data)
	}
	return &models.StructureModel{
		CourseKey: tx.course.String(),
		Branch:    name,
		Root:      branch.root,
		Blocks:    blocks,
		EditedBy:  tx.user,
	}
}

// GetItem is a read-only convenience wrapper around a bulk region.
func (s *Store) GetItem(ctx context.Context, usage keys.UsageKey, revision Revision) (*Block, error) {
	var block *Block
	err := s.BulkOperations(ctx, usage.Course, "", func(tx *Tx) error {
		var err error
		block, err = tx.GetItem(usage, revision)
		return err
	})
	return block, err
}

// HasItem reports whether usage exists on the requested branch.
func (s *Store) HasItem(ctx context.Context, usage keys.UsageKey, revision Revision) (bool, error) {
	var found bool
	err := s.BulkOperations(ctx, usage.Course, "", func(tx *Tx) error {
		found = tx.HasItem(usage, revision)
		return nil
	})
	return found, err
}

// GetChildren returns usage's ordered children.
func (s *Store) GetChildren(ctx context.Context, usage keys.UsageKey, revision Revision) ([]*Block, error) {
	var children []*Block
	err := s.BulkOperations(ctx, usage.Course, "", func(tx *Tx) error {
		var err error
		children, err = tx.GetChildren(usage, revision)
		return err
	})
	return children, err
}

// GetItems returns every block of the given category in course.
func (s *Store) GetItems(ctx context.Context, course keys.CourseKey, category string, revision Revision) ([]*Block, error) {
	var items []*Block
	err := s.BulkOperations(ctx, course, "", func(tx *Tx) error {
		var err error
		items, err = tx.GetItems(category, revision)
		return err
	})
	return items, err
}

// GetParentLocation returns the parent of usage on the requested branch.
func (s *Store) GetParentLocation(ctx context.Context, usage keys.UsageKey, revision Revision) (keys.UsageKey, bool, error) {
	var (
		parent keys.UsageKey
		found  bool
	)
	err := s.BulkOperations(ctx, usage.Course, "", func(tx *Tx) error {
		parent, found = tx.GetParentLocation(usage, revision)
		return nil
	})
	return parent, found, err
}

// GetOrphans returns the unreachable non-detached draft blocks of course.
func (s *Store) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	var orphans []keys.UsageKey
	err := s.BulkOperations(ctx, course, "", func(tx *Tx) error {
		var err error
		orphans, err = tx.GetOrphans()
		return err
	})
	return orphans, err
}

// HasChanges reports whether usage's draft differs from published.
func (s *Store) HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error) {
	var changed bool
	err := s.BulkOperations(ctx, usage.Course, "", func(tx *Tx) error {
		var err error
		changed, err = tx.HasChanges(usage)
		return err
	})
	return changed, err
}
