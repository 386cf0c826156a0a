package blockops

import (
	"context"
	"fmt"
	"strconv"

	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"go.uber.org/zap"
)

// Group is one experiment group of a user partition.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserPartition is the course-level grouping a split_test block binds
// its children to.
type UserPartition struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Scheme string  `json:"scheme"`
	Groups []Group `json:"groups"`
}

// SyncSplitTestGroups reconciles a split_test block's children with the
// partition's groups: each group gets a dedicated vertical, recorded in
// the block's group_id_to_child mapping. Verticals for removed groups
// stay in place so their content is not lost, but their mapping entry is
// dropped.
func (s *Service) SyncSplitTestGroups(ctx context.Context, usage keys.UsageKey, partition UserPartition, user string) error {
	if usage.Type != "split_test" {
		return errs.NewUserError("%s is not a content experiment", usage)
	}
	return s.store.BulkOperations(ctx, usage.Course, user, func(tx *blockstore.Tx) error {
		block, err := tx.GetItem(usage, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}

		mapping := groupMapping(block.Fields)
		active := map[string]bool{}
		created := 0
		for _, group := range partition.Groups {
			groupID := strconv.FormatInt(group.ID, 10)
			active[groupID] = true
			if _, ok := mapping[groupID]; ok {
				continue
			}
			child := keys.NewUsageKey(usage.Course, "vertical", newBlockID())
			name := fmt.Sprintf("Group ID %s", groupID)
			if group.Name != "" {
				name = group.Name
			}
			if _, err := tx.CreateChild(usage, child, &name, nil, -1); err != nil {
				return err
			}
			mapping[groupID] = child.Type + "@" + child.ID
			created++
		}
		for groupID := range mapping {
			if !active[groupID] {
				delete(mapping, groupID)
			}
		}

		block, err = tx.GetItem(usage, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		if block.Fields == nil {
			block.Fields = map[string]interface{}{}
		}
		serialized := make(map[string]interface{}, len(mapping))
		for groupID, childRef := range mapping {
			serialized[groupID] = childRef
		}
		block.Fields["group_id_to_child"] = serialized
		block.Fields["user_partition_id"] = partition.ID
		if err := tx.UpdateItem(block); err != nil {
			return err
		}

		if created > 0 {
			s.logger.Info("synced content experiment groups",
				zap.String("block", usage.String()),
				zap.Int64("partition", partition.ID),
				zap.Int("created", created))
		}
		return nil
	})
}

func groupMapping(fields map[string]interface{}) map[string]string {
	out := map[string]string{}
	raw, ok := fields["group_id_to_child"].(map[string]interface{})
	if !ok {
		return out
	}
	for groupID, childRef := range raw {
		if ref, ok := childRef.(string); ok {
			out[groupID] = ref
		}
	}
	return out
}
