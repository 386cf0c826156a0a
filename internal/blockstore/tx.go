package blockstore

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/models"
	"github.com/studiocore/authoring/internal/pkg/errs"
)

// structure is one branch tree staged in memory during a bulk region.
type structure struct {
	root   string
	blocks map[string]*models.BlockData
}

func newStructure(root string) *structure {
	return &structure{root: root, blocks: map[string]*models.BlockData{}}
}

func structureFromModel(m *models.StructureModel) *structure {
	s := newStructure(m.Root)
	for key, data := range m.Blocks {
		s.blocks[key] = cloneBlockData(data)
	}
	return s
}

// parentOf returns the node key of the block referencing key as a child.
func (s *structure) parentOf(key string) (string, bool) {
	for parentKey, data := range s.blocks {
		for _, childKey := range data.Children {
			if childKey == key {
				return parentKey, true
			}
		}
	}
	return "", false
}

func (s *structure) removeChildRef(key string) {
	for _, data := range s.blocks {
		for i, childKey := range data.Children {
			if childKey == key {
				data.Children = append(data.Children[:i], data.Children[i+1:]...)
				break
			}
		}
	}
}

// descendants returns key plus every block reachable beneath it.
func (s *structure) descendants(key string) []string {
	var out []string
	var walk func(string)
	walk = func(k string) {
		data, ok := s.blocks[k]
		if !ok {
			return
		}
		out = append(out, k)
		for _, child := range data.Children {
			walk(child)
		}
	}
	walk(key)
	return out
}

// Tx is a staged mutation of one course's draft and published trees.
// Nothing touches the database until the enclosing bulk region commits.
type Tx struct {
	course keys.CourseKey
	user   string

	index     *models.CourseIndexModel
	draft     *structure
	published *structure

	draftDirty     bool
	publishedDirty bool

	now func() time.Time
}

// Course returns the course this transaction operates on.
func (t *Tx) Course() keys.CourseKey { return t.course }

// User returns the acting user recorded on edits.
func (t *Tx) User() string { return t.user }

func (t *Tx) branch(revision Revision) *structure {
	if revision == RevisionPublishedOnly {
		return t.published
	}
	return t.draft
}

func (t *Tx) markDirty(s *structure) {
	if s == t.draft {
		t.draftDirty = true
	} else if s == t.published {
		t.publishedDirty = true
	}
}

// GetItem returns the block at usage on the requested branch.
func (t *Tx) GetItem(usage keys.UsageKey, revision Revision) (*Block, error) {
	branch := t.branch(revision)
	if branch == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}
	data, ok := branch.blocks[nodeKeyOf(usage)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}
	return blockFromData(t.course, nodeKeyOf(usage), data)
}

// HasItem reports whether usage exists on the requested branch.
func (t *Tx) HasItem(usage keys.UsageKey, revision Revision) bool {
	branch := t.branch(revision)
	if branch == nil {
		return false
	}
	_, ok := branch.blocks[nodeKeyOf(usage)]
	return ok
}

// GetChildren returns usage's children in order.
func (t *Tx) GetChildren(usage keys.UsageKey, revision Revision) ([]*Block, error) {
	parent, err := t.GetItem(usage, revision)
	if err != nil {
		return nil, err
	}
	children := make([]*Block, 0, len(parent.Children))
	for _, childKey := range parent.Children {
		child, err := t.GetItem(childKey, revision)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// GetParentLocation returns the parent of usage, if it has one.
func (t *Tx) GetParentLocation(usage keys.UsageKey, revision Revision) (keys.UsageKey, bool) {
	branch := t.branch(revision)
	if branch == nil {
		return keys.UsageKey{}, false
	}
	parentKey, ok := branch.parentOf(nodeKeyOf(usage))
	if !ok {
		return keys.UsageKey{}, false
	}
	parent, err := parseNodeKey(t.course, parentKey)
	if err != nil {
		return keys.UsageKey{}, false
	}
	return parent, true
}

// GetItems returns every block of the given category; category "" means
// all blocks. Results are ordered by location string for determinism.
func (t *Tx) GetItems(category string, revision Revision) ([]*Block, error) {
	branch := t.branch(revision)
	if branch == nil {
		return nil, nil
	}
	var out []*Block
	for key, data := range branch.blocks {
		if category != "" && data.Category != category {
			continue
		}
		block, err := blockFromData(t.course, key, data)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Location.String() < out[j].Location.String()
	})
	return out, nil
}

// GetOrphans returns draft blocks that are not reachable from the course
// root and are not detached by category.
func (t *Tx) GetOrphans() ([]keys.UsageKey, error) {
	reachable := map[string]bool{}
	for _, key := range t.draft.descendants(t.draft.root) {
		reachable[key] = true
	}
	var orphans []keys.UsageKey
	for key, data := range t.draft.blocks {
		if reachable[key] || IsDetachedCategory(data.Category) {
			continue
		}
		usage, err := parseNodeKey(t.course, key)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, usage)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].String() < orphans[j].String() })
	return orphans, nil
}

// CreateItem adds a new block with no parent. Direct-only categories are
// written to both branches.
func (t *Tx) CreateItem(usage keys.UsageKey, displayName *string, fields map[string]interface{}) (*Block, error) {
	key := nodeKeyOf(usage)
	if _, exists := t.draft.blocks[key]; exists {
		return nil, errs.NewUserError("Duplicate usage id %s", usage)
	}
	data := &models.BlockData{
		Category:    usage.Type,
		DisplayName: cloneStringPtr(displayName),
		Fields:      cloneFields(fields),
		EditedBy:    t.user,
		EditedOn:    t.now(),
	}
	t.draft.blocks[key] = data
	t.draftDirty = true
	if IsDirectOnlyCategory(usage.Type) && t.published != nil {
		t.published.blocks[key] = cloneBlockData(data)
		t.publishedDirty = true
	}
	return blockFromData(t.course, key, data)
}

// CreateChild adds a new block beneath parent, appended at position, a
// negative position meaning "at the end".
func (t *Tx) CreateChild(parent keys.UsageKey, usage keys.UsageKey, displayName *string, fields map[string]interface{}, position int) (*Block, error) {
	parentData, ok := t.draft.blocks[nodeKeyOf(parent)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrItemNotFound, parent)
	}
	block, err := t.CreateItem(usage, displayName, fields)
	if err != nil {
		return nil, err
	}
	childKey := nodeKeyOf(usage)
	if position < 0 || position > len(parentData.Children) {
		parentData.Children = append(parentData.Children, childKey)
	} else {
		parentData.Children = append(parentData.Children[:position],
			append([]string{childKey}, parentData.Children[position:]...)...)
	}
	parentData.EditedBy = t.user
	parentData.EditedOn = t.now()
	t.draftDirty = true
	if IsDirectOnlyCategory(parent.Type) && IsDirectOnlyCategory(usage.Type) && t.published != nil {
		if pub, ok := t.published.blocks[nodeKeyOf(parent)]; ok {
			pub.Children = append([]string(nil), parentData.Children...)
			pub.EditedBy = t.user
			pub.EditedOn = parentData.EditedOn
			t.publishedDirty = true
		}
	}
	return block, nil
}

// UpdateItem writes block's fields, display name, children and asides
// back to the tree. Direct-only categories update both branches.
func (t *Tx) UpdateItem(block *Block) error {
	key := nodeKeyOf(block.Location)
	if _, ok := t.draft.blocks[key]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrItemNotFound, block.Location)
	}
	data := dataFromBlock(block)
	data.EditedBy = t.user
	data.EditedOn = t.now()
	t.draft.blocks[key] = data
	t.draftDirty = true
	if IsDirectOnlyCategory(block.Category) && t.published != nil {
		if _, ok := t.published.blocks[key]; ok {
			t.published.blocks[key] = cloneBlockData(data)
			t.publishedDirty = true
		}
	}
	return nil
}

// DeleteItem removes usage and its entire subtree from the draft branch,
// detaching it from its parent. Direct-only categories are removed from
// both branches.
func (t *Tx) DeleteItem(usage keys.UsageKey) error {
	key := nodeKeyOf(usage)
	data, ok := t.draft.blocks[key]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}
	t.deleteSubtree(t.draft, key)
	t.draft.removeChildRef(key)
	t.draftDirty = true
	if IsDirectOnlyCategory(data.Category) && t.published != nil {
		if _, ok := t.published.blocks[key]; ok {
			t.deleteSubtree(t.published, key)
			t.published.removeChildRef(key)
			t.publishedDirty = true
		}
	}
	return nil
}

// DeleteOrphan removes a single unreachable node without touching its
// children, so shared descendants survive.
func (t *Tx) DeleteOrphan(usage keys.UsageKey) error {
	key := nodeKeyOf(usage)
	if _, ok := t.draft.blocks[key]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}
	delete(t.draft.blocks, key)
	t.draft.removeChildRef(key)
	t.draftDirty = true
	return nil
}

func (t *Tx) deleteSubtree(s *structure, key string) {
	for _, k := range s.descendants(key) {
		delete(s.blocks, k)
	}
	t.markDirty(s)
}

// PublishItem copies usage's draft subtree to the published branch,
// splicing it under its parent at the draft position. Descendants whose
// content is unchanged keep their published edit stamps.
func (t *Tx) PublishItem(usage keys.UsageKey) error {
	if t.published == nil {
		t.published = newStructure(t.draft.root)
	}
	key := nodeKeyOf(usage)
	if _, ok := t.draft.blocks[key]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}

	// Drop the previously published subtree before copying, so removed
	// descendants do not linger.
	if _, ok := t.published.blocks[key]; ok {
		t.deleteSubtree(t.published, key)
	}
	for _, k := range t.draft.descendants(key) {
		t.published.blocks[k] = cloneBlockData(t.draft.blocks[k])
	}

	if key != t.draft.root {
		parentKey, ok := t.draft.parentOf(key)
		if !ok {
			return errs.NewUserError("Cannot publish detached block %s", usage)
		}
		pubParent, ok := t.published.blocks[parentKey]
		if !ok {
			return fmt.Errorf("%w: published parent of %s", errs.ErrItemNotFound, usage)
		}
		if !containsString(pubParent.Children, key) {
			position := indexOf(t.draft.blocks[parentKey].Children, key)
			pubParent.Children = spliceAt(pubParent.Children, key, position)
		}
	}
	t.publishedDirty = true
	return nil
}

// RevertToPublished discards draft edits beneath usage, restoring the
// published subtree. Blocks that were never published cannot be
// reverted.
func (t *Tx) RevertToPublished(usage keys.UsageKey) error {
	key := nodeKeyOf(usage)
	if t.published == nil {
		return fmt.Errorf("%w: %s was never published", errs.ErrItemNotFound, usage)
	}
	if _, ok := t.published.blocks[key]; !ok {
		return fmt.Errorf("%w: %s was never published", errs.ErrItemNotFound, usage)
	}
	if _, ok := t.draft.blocks[key]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}

	t.deleteSubtree(t.draft, key)
	for _, k := range t.published.descendants(key) {
		t.draft.blocks[k] = cloneBlockData(t.published.blocks[k])
	}
	t.draftDirty = true
	return nil
}

// HasChanges reports whether usage's draft subtree differs from its
// published form. Never-published blocks always have changes; direct-only
// blocks never do on their own account.
func (t *Tx) HasChanges(usage keys.UsageKey) (bool, error) {
	key := nodeKeyOf(usage)
	data, ok := t.draft.blocks[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", errs.ErrItemNotFound, usage)
	}
	if IsDirectOnlyCategory(data.Category) {
		// The block itself mirrors published; changes can only come
		// from draftable descendants.
		for _, childKey := range data.Children {
			child, err := parseNodeKey(t.course, childKey)
			if err != nil {
				return false, err
			}
			changed, err := t.HasChanges(child)
			if err != nil {
				return false, err
			}
			if changed {
				return true, nil
			}
		}
		return false, nil
	}
	if t.published == nil {
		return true, nil
	}
	for _, k := range t.draft.descendants(key) {
		pub, ok := t.published.blocks[k]
		if !ok {
			return true, nil
		}
		if !reflect.DeepEqual(t.draft.blocks[k], pub) {
			return true, nil
		}
	}
	return false, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func spliceAt(list []string, v string, position int) []string {
	if position < 0 || position > len(list) {
		return append(list, v)
	}
	return append(list[:position], append([]string{v}, list[position:]...)...)
}
