// Package outline builds the authoring view model for course trees: per
// block publish state, schedule-derived visibility and the conditional
// per-category fields the outline and container pages render.
package outline

import (
	"context"
	"fmt"
	"time"

	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/keys"
	"go.uber.org/zap"
)

// VisibilityState summarizes what learners can currently see of a block.
type VisibilityState string

const (
	VisibilityLive           VisibilityState = "live"
	VisibilityReady          VisibilityState = "ready"
	VisibilityUnscheduled    VisibilityState = "unscheduled"
	VisibilityNeedsAttention VisibilityState = "needs_attention"
	VisibilityStaffOnly      VisibilityState = "staff_only"
)

// DefaultStartDate is the sentinel release date of unscheduled content.
var DefaultStartDate = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

// XBlockInfo is the serialized view of one block.
type XBlockInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Published   bool   `json:"published"`
	HasChanges  bool   `json:"has_changes"`
	EditedBy    string `json:"edited_by,omitempty"`

	VisibilityState      VisibilityState `json:"visibility_state,omitempty"`
	HasExplicitStaffLock bool            `json:"has_explicit_staff_lock"`
	StaffLockFrom        string          `json:"staff_lock_from,omitempty"`

	Start    string   `json:"start,omitempty"`
	Graded   bool     `json:"graded,omitempty"`
	Due      *string  `json:"due,omitempty"`
	DueDate  string   `json:"due_date,omitempty"`
	Format   string   `json:"format,omitempty"`
	Graders  []string `json:"course_graders,omitempty"`

	Highlights                     []string `json:"highlights,omitempty"`
	HighlightsEnabled              bool     `json:"highlights_enabled,omitempty"`
	HighlightsEnabledForMessaging  bool     `json:"highlights_enabled_for_messaging,omitempty"`

	IsProctoredExam                  *bool  `json:"is_proctored_exam,omitempty"`
	IsTimeLimited                    *bool  `json:"is_time_limited,omitempty"`
	DefaultTimeLimitMinutes          *int   `json:"default_time_limit_minutes,omitempty"`
	IsOnboardingExam                 *bool  `json:"is_onboarding_exam,omitempty"`
	ProctoringExamConfigurationLink  string `json:"proctoring_exam_configuration_link,omitempty"`
	SupportsOnboarding               *bool  `json:"supports_onboarding,omitempty"`
	WasExamEverLinkedWithExternal    *bool  `json:"was_exam_ever_linked_with_external,omitempty"`

	IsHeaderVisible *bool           `json:"is_header_visible,omitempty"`
	Actions         map[string]bool `json:"actions,omitempty"`

	ChildInfo    *ChildInfo    `json:"child_info,omitempty"`
	AncestorInfo *AncestorInfo `json:"ancestor_info,omitempty"`
}

// ChildInfo groups a block's rendered children.
type ChildInfo struct {
	Category    string        `json:"category"`
	DisplayName string        `json:"display_name"`
	Children    []*XBlockInfo `json:"children"`
}

// AncestorInfo lists a block's ancestors root-last; only the direct
// ancestor carries child info.
type AncestorInfo struct {
	Ancestors []*XBlockInfo `json:"ancestors"`
}

// Options select which optional parts of the view get built.
type Options struct {
	IncludeChildInfo    bool
	IncludeAncestorInfo bool
	// ChildPredicate limits recursion; nil includes every child.
	ChildPredicate func(*blockstore.Block) bool
	Graders        []string
}

// Service builds outline view models over the draft-preferred tree.
type Service struct {
	store  *blockstore.Store
	policy config.PolicyConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store *blockstore.Store, policy config.PolicyConfig, logger *zap.Logger) *Service {
	return &Service{store: store, policy: policy, logger: logger.Named("Outline"), now: time.Now}
}

// Info builds the view model for usage.
func (s *Service) Info(ctx context.Context, usage keys.UsageKey, opts Options) (*XBlockInfo, error) {
	var info *XBlockInfo
	err := s.store.BulkOperations(ctx, usage.Course, "", func(tx *blockstore.Tx) error {
		b := &builder{tx: tx, policy: s.policy, opts: opts, now: s.now()}
		b.selfPaced = b.courseSelfPaced()

		block, err := tx.GetItem(usage, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		info, err = b.build(block, opts.IncludeChildInfo, false, b.lockedByAncestor(block))
		if err != nil {
			return err
		}
		if opts.IncludeAncestorInfo {
			info.AncestorInfo, err = b.ancestorInfo(block)
		}
		return err
	})
	return info, err
}

type builder struct {
	tx        *blockstore.Tx
	policy    config.PolicyConfig
	opts      Options
	now       time.Time
	selfPaced bool
}

func (b *builder) courseSelfPaced() bool {
	root := keys.NewUsageKey(b.tx.Course(), "course", "course")
	course, err := b.tx.GetItem(root, blockstore.RevisionDraftPreferred)
	if err != nil {
		return false
	}
	return fieldBool(course.Fields, "self_paced")
}

// lockedByAncestor reports whether any ancestor of block carries an
// explicit staff lock; the lock is inherited by the whole subtree.
func (b *builder) lockedByAncestor(block *blockstore.Block) bool {
	current := block.Location
	for {
		parentKey, ok := b.tx.GetParentLocation(current, blockstore.RevisionDraftPreferred)
		if !ok {
			return false
		}
		parent, err := b.tx.GetItem(parentKey, blockstore.RevisionDraftPreferred)
		if err != nil {
			return false
		}
		if fieldBool(parent.Fields, "visible_to_staff_only") {
			return true
		}
		current = parentKey
	}
}

// build assembles the info for one block, recursing into children when
// requested. ancestorView suppresses recursion details on non-direct
// ancestors; inheritedLock carries an ancestor staff lock down.
func (b *builder) build(block *blockstore.Block, includeChildren, ancestorView, inheritedLock bool) (*XBlockInfo, error) {
	published := b.tx.HasItem(block.Location, blockstore.RevisionPublishedOnly)
	hasChanges, err := b.tx.HasChanges(block.Location)
	if err != nil {
		return nil, err
	}

	info := &XBlockInfo{
		ID:                   block.Location.String(),
		DisplayName:          block.DisplayNameOrDefault(),
		Category:             block.Category,
		Published:            published,
		HasChanges:           hasChanges,
		EditedBy:             block.EditedBy,
		HasExplicitStaffLock: fieldBool(block.Fields, "visible_to_staff_only"),
	}

	var children []*XBlockInfo
	if includeChildren && block.HasChildren() {
		for _, childKey := range block.Children {
			child, err := b.tx.GetItem(childKey, blockstore.RevisionDraftPreferred)
			if err != nil {
				return nil, err
			}
			if b.opts.ChildPredicate != nil && !b.opts.ChildPredicate(child) {
				continue
			}
			childInfo, err := b.build(child, true, false, inheritedLock || info.HasExplicitStaffLock)
			if err != nil {
				return nil, err
			}
			children = append(children, childInfo)
		}
		info.ChildInfo = &ChildInfo{
			Category:    childCategory(block.Category),
			DisplayName: childDisplayName(block.Category),
			Children:    children,
		}
	}

	info.VisibilityState = b.visibilityState(block, hasChanges, children, inheritedLock)
	b.applyCategoryFields(block, info)
	return info, nil
}

func (b *builder) applyCategoryFields(block *blockstore.Block, info *XBlockInfo) {
	switch block.Category {
	case "course":
		info.HighlightsEnabledForMessaging = b.policy.EnableCourseHighlights &&
			fieldBool(block.Fields, "highlights_enabled_for_messaging")
	case "chapter":
		info.Start = b.pinnedStart(block)
		info.Graded = fieldBool(block.Fields, "graded")
		info.Due, info.DueDate = dueFields(block.Fields)
		info.Format = fieldString(block.Fields, "format")
		info.Highlights = fieldStrings(block.Fields, "highlights")
		info.HighlightsEnabled = b.policy.EnableCourseHighlights
		info.Graders = b.opts.Graders
		if fieldBool(block.Fields, "is_entrance_exam") {
			info.DisplayName = "Entrance Exam"
			info.Actions = map[string]bool{
				"deletable":    false,
				"draggable":    false,
				"childAddable": false,
			}
		}
	case "sequential":
		info.Start = b.pinnedStart(block)
		info.Graded = fieldBool(block.Fields, "graded")
		info.Due, info.DueDate = dueFields(block.Fields)
		info.Format = fieldString(block.Fields, "format")
		if b.policy.EnableProctoredExams {
			info.IsProctoredExam = boolPtr(fieldBool(block.Fields, "is_proctored_exam"))
			info.IsTimeLimited = boolPtr(fieldBool(block.Fields, "is_time_limited"))
			info.IsOnboardingExam = boolPtr(fieldBool(block.Fields, "is_onboarding_exam"))
			info.SupportsOnboarding = boolPtr(fieldBool(block.Fields, "supports_onboarding"))
			info.WasExamEverLinkedWithExternal = boolPtr(fieldBool(block.Fields, "was_exam_ever_linked_with_external"))
			if minutes, ok := fieldInt(block.Fields, "default_time_limit_minutes"); ok {
				info.DefaultTimeLimitMinutes = &minutes
			}
			info.ProctoringExamConfigurationLink = fieldString(block.Fields, "proctoring_exam_configuration_link")
		}
		if b.inEntranceExam(block) {
			visible := false
			info.IsHeaderVisible = &visible
		}
	}
}

// inEntranceExam reports whether the block sits under an entrance-exam
// chapter.
func (b *builder) inEntranceExam(block *blockstore.Block) bool {
	parentKey, ok := b.tx.GetParentLocation(block.Location, blockstore.RevisionDraftPreferred)
	if !ok {
		return false
	}
	parent, err := b.tx.GetItem(parentKey, blockstore.RevisionDraftPreferred)
	if err != nil {
		return false
	}
	return parent.Category == "chapter" && fieldBool(parent.Fields, "is_entrance_exam")
}

func (b *builder) ancestorInfo(block *blockstore.Block) (*AncestorInfo, error) {
	var ancestors []*XBlockInfo
	current := block.Location
	direct := true
	for {
		parentKey, ok := b.tx.GetParentLocation(current, blockstore.RevisionDraftPreferred)
		if !ok {
			break
		}
		parent, err := b.tx.GetItem(parentKey, blockstore.RevisionDraftPreferred)
		if err != nil {
			return nil, err
		}
		info, err := b.build(parent, direct, true, b.lockedByAncestor(parent))
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, info)
		current = parentKey
		direct = false
	}
	// Annotate which ancestor enforces a staff lock on the block.
	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i].HasExplicitStaffLock {
			from := fmt.Sprintf("%s - %s", categoryLabel(ancestors[i].Category), ancestors[i].DisplayName)
			for j := i - 1; j >= 0; j-- {
				if ancestors[j].StaffLockFrom == "" && !ancestors[j].HasExplicitStaffLock {
					ancestors[j].StaffLockFrom = from
				}
			}
			break
		}
	}
	return &AncestorInfo{Ancestors: ancestors}, nil
}

// visibilityState folds the block's own schedule state with its
// children's states.
func (b *builder) visibilityState(block *blockstore.Block, hasChanges bool, children []*XBlockInfo, inheritedLock bool) VisibilityState {
	if inheritedLock || fieldBool(block.Fields, "visible_to_staff_only") {
		return VisibilityStaffOnly
	}
	// A never-published unit has changes too, so it lands here as well
	// as a previously published unit with draft edits.
	if block.Category == "vertical" && hasChanges {
		return VisibilityNeedsAttention
	}

	start := b.startOf(block)
	unscheduled := start.Equal(DefaultStartDate)
	live := b.selfPaced || b.now.After(start)

	if len(children) > 0 {
		allStaffOnly, allUnscheduled, allLive := true, true, true
		for _, child := range children {
			switch child.VisibilityState {
			case VisibilityNeedsAttention:
				return VisibilityNeedsAttention
			case VisibilityStaffOnly:
			default:
				allStaffOnly = false
				// An unscheduled child keeps allLive: it counts
				// against neither bucket.
				if child.VisibilityState != VisibilityUnscheduled {
					allUnscheduled = false
					if child.VisibilityState != VisibilityLive {
						allLive = false
					}
				}
			}
		}
		switch {
		case allStaffOnly:
			return VisibilityStaffOnly
		case allUnscheduled:
			if unscheduled {
				return VisibilityUnscheduled
			}
			return VisibilityNeedsAttention
		case allLive:
			if live {
				return VisibilityLive
			}
			return VisibilityNeedsAttention
		default:
			if unscheduled {
				return VisibilityNeedsAttention
			}
			return VisibilityReady
		}
	}

	switch {
	case live:
		return VisibilityLive
	case unscheduled:
		return VisibilityUnscheduled
	default:
		return VisibilityReady
	}
}

// startOf returns the block's release date; missing or pre-1900 dates
// pin to DefaultStartDate.
func (b *builder) startOf(block *blockstore.Block) time.Time {
	start, ok := fieldTime(block.Fields, "start")
	if !ok || start.Year() < 1900 {
		return DefaultStartDate
	}
	return start
}

func (b *builder) pinnedStart(block *blockstore.Block) string {
	return b.startOf(block).UTC().Format("2006-01-02T15:04:05Z")
}

// dueFields formats the due date, blanking pre-1900 values.
func dueFields(fields map[string]interface{}) (*string, string) {
	due, ok := fieldTime(fields, "due")
	if !ok || due.Year() < 1900 {
		return nil, ""
	}
	formatted := due.UTC().Format("2006-01-02T15:04:05Z")
	return &formatted, due.UTC().Format("Jan 02, 2006")
}

func childCategory(parentCategory string) string {
	switch parentCategory {
	case "course":
		return "chapter"
	case "chapter":
		return "sequential"
	case "sequential":
		return "vertical"
	}
	return "component"
}

func childDisplayName(parentCategory string) string {
	switch parentCategory {
	case "course":
		return "Section"
	case "chapter":
		return "Subsection"
	case "sequential":
		return "Unit"
	}
	return "Component"
}

func categoryLabel(category string) string {
	switch category {
	case "chapter":
		return "Section"
	case "sequential":
		return "Subsection"
	case "vertical":
		return "Unit"
	}
	return category
}

func boolPtr(v bool) *bool { return &v }

func fieldBool(fields map[string]interface{}, name string) bool {
	v, _ := fields[name].(bool)
	return v
}

func fieldString(fields map[string]interface{}, name string) string {
	v, _ := fields[name].(string)
	return v
}

func fieldStrings(fields map[string]interface{}, name string) []string {
	raw, ok := fields[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fieldInt(fields map[string]interface{}, name string) (int, bool) {
	switch v := fields[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func fieldTime(fields map[string]interface{}, name string) (time.Time, bool) {
	switch v := fields[name].(type) {
	case time.Time:
		return v, true
	case string:
		if v == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
