// Package blockstore persists hierarchical course trees as immutable
// per-branch structure snapshots. Every committed change inserts a new
// snapshot row and advances the course head with an optimistic
// compare-and-swap, so concurrent authors never silently clobber each
// other.
package blockstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/models"
)

// Revision selects which branch a read addresses.
type Revision int

const (
	// RevisionDraftPreferred reads the draft branch.
	RevisionDraftPreferred Revision = iota
	// RevisionPublishedOnly reads the published branch.
	RevisionPublishedOnly
	// RevisionDraftOnly reads the draft branch and never falls through.
	RevisionDraftOnly
)

// Direct-only categories carry no independent draft: every write lands
// on both branches at once.
var directOnlyCategories = map[string]bool{
	"course":      true,
	"chapter":     true,
	"sequential":  true,
	"static_tab":  true,
	"about":       true,
	"course_info": true,
}

// Detached categories live outside the course navigation tree and are
// never reported as orphans.
var detachedCategories = map[string]bool{
	"static_tab":  true,
	"about":       true,
	"course_info": true,
}

// Categories whose blocks may hold children.
var childBearingCategories = map[string]bool{
	"course":          true,
	"chapter":         true,
	"sequential":      true,
	"vertical":        true,
	"split_test":      true,
	"conditional":     true,
	"library":         true,
	"library_content": true,
}

func IsDirectOnlyCategory(category string) bool { return directOnlyCategories[category] }
func IsDetachedCategory(category string) bool   { return detachedCategories[category] }
func CategoryHasChildren(category string) bool  { return childBearingCategories[category] }

// ContainerCategories returns the categories a component may be moved
// into: everything child-bearing that is not structural (direct-only).
func ContainerCategories() []string {
	out := make([]string, 0, len(childBearingCategories))
	for category := range childBearingCategories {
		if !directOnlyCategories[category] {
			out = append(out, category)
		}
	}
	return out
}

// Block is the runtime view of one tree node.
type Block struct {
	Location    keys.UsageKey
	Category    string
	DisplayName *string
	Fields      map[string]interface{}
	Children    []keys.UsageKey
	Asides      []models.AsideData

	EditedBy string
	EditedOn time.Time
}

// DisplayNameOrDefault returns the explicit display name, or the
// category when none was set.
func (b *Block) DisplayNameOrDefault() string {
	if b.DisplayName != nil && *b.DisplayName != "" {
		return *b.DisplayName
	}
	return b.Category
}

// HasChildren reports whether this block's category may hold children.
func (b *Block) HasChildren() bool { return CategoryHasChildren(b.Category) }

// nodeKey is the in-structure identifier for a block.
func nodeKey(blockType, blockID string) string { return blockType + "@" + blockID }

func nodeKeyOf(u keys.UsageKey) string { return nodeKey(u.Type, u.ID) }

func parseNodeKey(course keys.CourseKey, key string) (keys.UsageKey, error) {
	blockType, blockID, ok := strings.Cut(key, "@")
	if !ok {
		return keys.UsageKey{}, fmt.Errorf("malformed structure node key %q", key)
	}
	return keys.NewUsageKey(course, blockType, blockID), nil
}

func blockFromData(course keys.CourseKey, key string, data *models.BlockData) (*Block, error) {
	location, err := parseNodeKey(course, key)
	if err != nil {
		return nil, err
	}
	block := &Block{
		Location:    location,
		Category:    data.Category,
		DisplayName: cloneStringPtr(data.DisplayName),
		Fields:      cloneFields(data.Fields),
		Asides:      cloneAsides(data.Asides),
		EditedBy:    data.EditedBy,
		EditedOn:    data.EditedOn,
	}
	for _, childKey := range data.Children {
		child, err := parseNodeKey(course, childKey)
		if err != nil {
			return nil, err
		}
		block.Children = append(block.Children, child)
	}
	return block, nil
}

func dataFromBlock(b *Block) *models.BlockData {
	data := &models.BlockData{
		Category:    b.Category,
		DisplayName: cloneStringPtr(b.DisplayName),
		Fields:      cloneFields(b.Fields),
		Asides:      cloneAsides(b.Asides),
		EditedBy:    b.EditedBy,
		EditedOn:    b.EditedOn,
	}
	for _, child := range b.Children {
		data.Children = append(data.Children, nodeKeyOf(child))
	}
	return data
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneFields(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneAsides(asides []models.AsideData) []models.AsideData {
	if asides == nil {
		return nil
	}
	out := make([]models.AsideData, len(asides))
	for i, aside := range asides {
		out[i] = models.AsideData{
			AsideType:      aside.AsideType,
			ContentFields:  cloneFields(aside.ContentFields),
			SettingsFields: cloneFields(aside.SettingsFields),
			ParentFields:   cloneFields(aside.ParentFields),
		}
	}
	return out
}

func cloneBlockData(data *models.BlockData) *models.BlockData {
	out := &models.BlockData{
		Category:    data.Category,
		DisplayName: cloneStringPtr(data.DisplayName),
		Fields:      cloneFields(data.Fields),
		Children:    append([]string(nil), data.Children...),
		Asides:      cloneAsides(data.Asides),
		EditedBy:    data.EditedBy,
		EditedOn:    data.EditedOn,
	}
	return out
}
