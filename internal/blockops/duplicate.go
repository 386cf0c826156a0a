package blockops

import (
	"context"
	"fmt"

	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/models"
	"github.com/studiocore/authoring/internal/pkg/events"
	"go.uber.org/zap"
)

// DuplicateBlock deep-copies the source subtree under the given parent
// and returns the new root's usage key.
//
// When the parent is also the source's current parent, the duplicate
// lands immediately after the source; otherwise it is appended.
func (s *Service) DuplicateBlock(ctx context.Context, parent, source keys.UsageKey, user string, displayName *string) (keys.UsageKey, error) {
	var dup keys.UsageKey
	err := s.store.BulkOperations(ctx, source.Course, user, func(tx *blockstore.Tx) error {
		src, err := tx.GetItem(source, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}

		rootName := duplicateRootName(src, displayName)
		dup, err = duplicateSubtree(tx, src, &rootName)
		if err != nil {
			return err
		}

		parentBlock, err := tx.GetItem(parent, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		position := len(parentBlock.Children)
		for i, child := range parentBlock.Children {
			if child == source {
				position = i + 1
				break
			}
		}
		parentBlock.Children = append(parentBlock.Children[:position],
			append([]keys.UsageKey{dup}, parentBlock.Children[position:]...)...)
		return tx.UpdateItem(parentBlock)
	})
	if err != nil {
		return keys.UsageKey{}, err
	}

	s.logger.Info("duplicated block",
		zap.String("source", source.String()),
		zap.String("duplicate", dup.String()),
		zap.String("user", user))
	s.bus.Publish(ctx, events.BlockDuplicated, map[string]interface{}{
		"usage_key":        dup.String(),
		"source_usage_key": source.String(),
		"block_type":       source.Type,
	})
	return dup, nil
}

func duplicateRootName(src *blockstore.Block, displayName *string) string {
	if displayName != nil && *displayName != "" {
		return *displayName
	}
	if src.DisplayName != nil && *src.DisplayName != "" {
		return fmt.Sprintf("Duplicate of '%s'", *src.DisplayName)
	}
	return fmt.Sprintf("Duplicate of %s", src.Category)
}

// duplicateSubtree copies src and its descendants. displayName overrides
// the copy's name at the root; descendants keep their own name, falling
// back to their category.
func duplicateSubtree(tx *blockstore.Tx, src *blockstore.Block, displayName *string) (keys.UsageKey, error) {
	name := ""
	if displayName != nil {
		name = *displayName
	} else if src.DisplayName != nil && *src.DisplayName != "" {
		name = *src.DisplayName
	} else {
		name = src.Category
	}

	dup := keys.NewUsageKey(src.Location.Course, src.Location.Type, newBlockID())
	created, err := tx.CreateItem(dup, &name, src.Fields)
	if err != nil {
		return keys.UsageKey{}, err
	}
	created.Asides = duplicateAsides(src.Asides)

	for _, childKey := range src.Children {
		child, err := tx.GetItem(childKey, blockstore.RevisionDraftPreferred)
		if err != nil {
			return keys.UsageKey{}, err
		}
		dupChild, err := duplicateSubtree(tx, child, nil)
		if err != nil {
			return keys.UsageKey{}, err
		}
		created.Children = append(created.Children, dupChild)
	}
	if err := tx.UpdateItem(created); err != nil {
		return keys.UsageKey{}, err
	}
	return dup, nil
}

// duplicateAsides deep-copies aside data. Parent-scoped fields are tied
// to the original placement, so the copy resets them to defaults.
func duplicateAsides(asides []models.AsideData) []models.AsideData {
	if asides == nil {
		return nil
	}
	out := make([]models.AsideData, len(asides))
	for i, aside := range asides {
		out[i] = models.AsideData{
			AsideType:      aside.AsideType,
			ContentFields:  cloneFieldMap(aside.ContentFields),
			SettingsFields: cloneFieldMap(aside.SettingsFields),
		}
	}
	return out
}

func cloneFieldMap(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
