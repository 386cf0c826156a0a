// Package blockops is the invariant-enforcing authoring surface above
// the block store. Every operation runs inside one bulk region, so a
// failed validation leaves the course untouched.
package blockops

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"github.com/studiocore/authoring/internal/pkg/events"
	"go.uber.org/zap"
)

// Service wires the block store, the event bus and the host policy
// toggles together.
type Service struct {
	store  *blockstore.Store
	bus    events.Publisher
	logger *zap.Logger
	policy config.PolicyConfig
}

func NewService(store *blockstore.Store, bus events.Publisher, logger *zap.Logger, policy config.PolicyConfig) *Service {
	return &Service{store: store, bus: bus, logger: logger.Named("BlockOps"), policy: policy}
}

// Store exposes the underlying block store for read-only callers.
func (s *Service) Store() *blockstore.Store { return s.store }

func newBlockID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Categories a content library cannot host.
var libraryDisallowedCategories = map[string]bool{
	"discussion":     true,
	"openassessment": true,
}

// CreateItemRequest describes one create call.
type CreateItemRequest struct {
	ParentLocator string
	Category      string
	DisplayName   *string
	Boilerplate   string
	Fields        map[string]interface{}
	User          string
	// Position inserts at an index instead of appending; negative
	// appends.
	Position int
}

// CreateItem creates a new child beneath the parent, optionally seeded
// from a boilerplate template. Unknown boilerplate names are ignored.
func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest) (*blockstore.Block, error) {
	parent, err := keys.ParseUsageKey(req.ParentLocator)
	if err != nil {
		return nil, err
	}
	if parent.Course.IsLibrary() && libraryDisallowedCategories[req.Category] {
		return nil, errs.NewUserError("Category '%s' not supported for Libraries", req.Category)
	}

	fields := map[string]interface{}{}
	for k, v := range req.Fields {
		fields[k] = v
	}
	if req.Boilerplate != "" {
		if tpl, ok := boilerplates[req.Boilerplate]; ok && tpl.Category == req.Category {
			if tpl.Data != "" {
				if _, set := fields["data"]; !set {
					fields["data"] = tpl.Data
				}
			}
			for k, v := range tpl.Metadata {
				if _, set := fields[k]; !set {
					fields[k] = v
				}
			}
		}
	}

	usage := keys.NewUsageKey(parent.Course, req.Category, newBlockID())
	var created *blockstore.Block
	err = s.store.BulkOperations(ctx, parent.Course, req.User, func(tx *blockstore.Tx) error {
		position := req.Position
		if position == 0 {
			position = -1
		}
		created, err = tx.CreateChild(parent, usage, req.DisplayName, fields, position)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created block",
		zap.String("block", usage.String()),
		zap.String("parent", parent.String()),
		zap.String("user", req.User))
	return created, nil
}

// DeleteItem removes a block and its subtree. Deleting a static_tab also
// drops the matching entry from the course root's tabs list.
func (s *Service) DeleteItem(ctx context.Context, usage keys.UsageKey, user string) error {
	return s.store.BulkOperations(ctx, usage.Course, user, func(tx *blockstore.Tx) error {
		block, err := tx.GetItem(usage, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		if err := tx.DeleteItem(usage); err != nil {
			return err
		}
		if block.Category == "static_tab" {
			return s.removeCourseTab(tx, usage)
		}
		return nil
	})
}

func (s *Service) removeCourseTab(tx *blockstore.Tx, tab keys.UsageKey) error {
	root := keys.NewUsageKey(tab.Course, "course", "course")
	course, err := tx.GetItem(root, blockstore.RevisionDraftPreferred)
	if err != nil {
		return err
	}
	tabs, ok := course.Fields["tabs"].([]interface{})
	if !ok {
		return nil
	}
	kept := make([]interface{}, 0, len(tabs))
	for _, raw := range tabs {
		entry, ok := raw.(map[string]interface{})
		if ok && entry["type"] == "static_tab" && entry["url_slug"] == tab.ID {
			continue
		}
		kept = append(kept, raw)
	}
	if len(kept) == len(tabs) {
		return nil
	}
	course.Fields["tabs"] = kept
	return tx.UpdateItem(course)
}

// DeleteOrphans removes every orphan of the course, node by node, and
// returns the deleted usage keys. The caller is responsible for the
// staff permission check.
func (s *Service) DeleteOrphans(ctx context.Context, course keys.CourseKey, user string) ([]keys.UsageKey, error) {
	var deleted []keys.UsageKey
	err := s.store.BulkOperations(ctx, course, user, func(tx *blockstore.Tx) error {
		orphans, err := tx.GetOrphans()
		if err != nil {
			return err
		}
		for _, orphan := range orphans {
			if err := tx.DeleteOrphan(orphan); err != nil {
				return err
			}
		}
		deleted = orphans
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("deleted orphans",
			zap.String("course", course.String()),
			zap.Int("count", len(deleted)),
			zap.String("user", user))
	}
	return deleted, nil
}

// Publish copies the draft subtree at usage to the published branch.
func (s *Service) Publish(ctx context.Context, usage keys.UsageKey, user string) error {
	err := s.store.BulkOperations(ctx, usage.Course, user, func(tx *blockstore.Tx) error {
		return tx.PublishItem(usage)
	})
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, events.BlockPublished, map[string]interface{}{
		"usage_key": usage.String(),
		"user":      user,
	})
	return nil
}

// Discard drops draft edits beneath usage, restoring the published
// subtree.
func (s *Service) Discard(ctx context.Context, usage keys.UsageKey, user string) error {
	return s.store.BulkOperations(ctx, usage.Course, user, func(tx *blockstore.Tx) error {
		return tx.RevertToPublished(usage)
	})
}
