package blockops

import (
	"context"

	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"github.com/studiocore/authoring/internal/pkg/events"
	"go.uber.org/zap"
)

// validMoveType maps structural parent categories to the single child
// category they accept on a move.
var validMoveType = map[string]string{
	"sequential": "vertical",
	"chapter":    "sequential",
}

// MoveResult carries the undo context for a completed move.
type MoveResult struct {
	MoveSourceLocator string `json:"move_source_locator"`
	ParentLocator     string `json:"parent_locator"`
	// SourceIndex is the source's index under its old parent before the
	// move, which an undo re-inserts at.
	SourceIndex int `json:"source_index"`
}

// MoveItem relocates source under targetParent. targetIndex of -1
// appends; any other value inserts at that position.
func (s *Service) MoveItem(ctx context.Context, source, targetParent keys.UsageKey, targetIndex int, user string) (*MoveResult, error) {
	var (
		result    *MoveResult
		movedFrom keys.UsageKey
	)
	err := s.store.BulkOperations(ctx, source.Course, user, func(tx *blockstore.Tx) error {
		srcBlock, err := tx.GetItem(source, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		target, err := tx.GetItem(targetParent, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}

		if err := validateMove(tx, srcBlock, target, targetIndex); err != nil {
			return err
		}

		oldParentKey, _ := tx.GetParentLocation(source, blockstore.RevisionDraftPreferred)
		oldParent, err := tx.GetItem(oldParentKey, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}

		sourceIndex := -1
		for i, child := range oldParent.Children {
			if child == source {
				sourceIndex = i
				break
			}
		}
		if sourceIndex < 0 {
			return errs.NewUserError("%s not found in its parent's children", source)
		}

		oldParent.Children = append(oldParent.Children[:sourceIndex], oldParent.Children[sourceIndex+1:]...)
		if err := tx.UpdateItem(oldParent); err != nil {
			return err
		}

		// Re-read in case old parent and target are the same block.
		target, err = tx.GetItem(targetParent, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		insertAt := targetIndex
		if insertAt < 0 || insertAt > len(target.Children) {
			insertAt = len(target.Children)
		}
		target.Children = append(target.Children[:insertAt],
			append([]keys.UsageKey{source}, target.Children[insertAt:]...)...)
		if err := tx.UpdateItem(target); err != nil {
			return err
		}

		s.logger.Info("MOVE",
			zap.String("source", source.String()),
			zap.String("from", oldParentKey.String()),
			zap.String("to", targetParent.String()),
			zap.Int("index", insertAt),
			zap.String("user", user))
		result = &MoveResult{
			MoveSourceLocator: source.String(),
			ParentLocator:     targetParent.String(),
			SourceIndex:       sourceIndex,
		}
		movedFrom = oldParentKey
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.BlockMoved, map[string]interface{}{
		"usage_key":            source.String(),
		"old_parent_usage_key": movedFrom.String(),
		"parent_usage_key":     targetParent.String(),
		"source_index":         result.SourceIndex,
		"user":                 user,
	})
	return result, nil
}

func validateMove(tx *blockstore.Tx, source, target *blockstore.Block, targetIndex int) error {
	if validMoveType[target.Category] != source.Category && !isComponentContainer(target.Category) {
		return errs.NewUserError("You can not move %s into %s.", source.Category, target.Category)
	}
	for _, child := range target.Children {
		if child == source.Location {
			return errs.NewUserError("Item is already present in target location.")
		}
	}
	if target.Location == source.Location {
		return errs.NewUserError("You can not move an item into itself.")
	}
	if isDescendant(tx, source.Location, target.Location) {
		return errs.NewUserError("You can not move an item into it's child.")
	}
	if target.Category == "split_test" {
		return errs.NewUserError("You can not move an item directly into content experiment.")
	}
	if targetIndex >= 0 && targetIndex > len(target.Children) {
		return errs.NewUserError("You can not move %s at an invalid index (%d).", source.Location, targetIndex)
	}
	return nil
}

// isComponentContainer reports whether the category is a non-structural
// container components may move into.
func isComponentContainer(category string) bool {
	return blockstore.CategoryHasChildren(category) && !blockstore.IsDirectOnlyCategory(category)
}

func isDescendant(tx *blockstore.Tx, root, candidate keys.UsageKey) bool {
	block, err := tx.GetItem(root, blockstore.RevisionDraftPreferred)
	if err != nil {
		return false
	}
	for _, child := range block.Children {
		if child == candidate || isDescendant(tx, child, candidate) {
			return true
		}
	}
	return false
}

// Reorder atomically replaces a parent's child order. The new order must
// be an exact permutation of the current children.
func (s *Service) Reorder(ctx context.Context, parent keys.UsageKey, order []keys.UsageKey, user string) error {
	return s.store.BulkOperations(ctx, parent.Course, user, func(tx *blockstore.Tx) error {
		block, err := tx.GetItem(parent, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		if !isPermutation(block.Children, order) {
			return errs.NewUserError(errs.ConcurrentAuthorsMessage)
		}
		block.Children = append([]keys.UsageKey(nil), order...)
		return tx.UpdateItem(block)
	})
}

func isPermutation(current, proposed []keys.UsageKey) bool {
	if len(current) != len(proposed) {
		return false
	}
	seen := make(map[keys.UsageKey]int, len(current))
	for _, key := range current {
		seen[key]++
	}
	for _, key := range proposed {
		seen[key]--
		if seen[key] < 0 {
			return false
		}
	}
	return true
}
