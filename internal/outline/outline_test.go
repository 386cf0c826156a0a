package outline

import (
	"context"
	"testing"

	"github.com/studiocore/authoring/internal/blockstore"
	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/testutil"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	svc    *Service
	store  *blockstore.Store
	course keys.CourseKey
}

func newFixture(t *testing.T, policy config.PolicyConfig) *fixture {
	t.Helper()
	store := blockstore.NewStore(testutil.DB(t), zap.NewNop())
	course := keys.CourseKey{Org: "edX", Course: "DemoX", Run: "2026"}
	name := "Demo Course"
	if _, err := store.CreateCourse(ctx, course, "author", &name, nil); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	return &fixture{svc: NewService(store, policy, zap.NewNop()), store: store, course: course}
}

func (f *fixture) root() keys.UsageKey { return keys.NewUsageKey(f.course, "course", "course") }

func (f *fixture) addChild(t *testing.T, parent keys.UsageKey, category, id string, fields map[string]interface{}) keys.UsageKey {
	t.Helper()
	usage := keys.NewUsageKey(f.course, category, id)
	err := f.store.BulkOperations(ctx, f.course, "author", func(tx *blockstore.Tx) error {
		_, err := tx.CreateChild(parent, usage, nil, fields, -1)
		return err
	})
	if err != nil {
		t.Fatalf("create %s: %v", usage, err)
	}
	return usage
}

func (f *fixture) setFields(t *testing.T, usage keys.UsageKey, fields map[string]interface{}) {
	t.Helper()
	err := f.store.BulkOperations(ctx, f.course, "author", func(tx *blockstore.Tx) error {
		block, err := tx.GetItem(usage, blockstore.RevisionDraftPreferred)
		if err != nil {
			return err
		}
		if block.Fields == nil {
			block.Fields = map[string]interface{}{}
		}
		for k, v := range fields {
			block.Fields[k] = v
		}
		return tx.UpdateItem(block)
	})
	if err != nil {
		t.Fatalf("set fields on %s: %v", usage, err)
	}
}

func (f *fixture) publish(t *testing.T, usage keys.UsageKey) {
	t.Helper()
	err := f.store.BulkOperations(ctx, f.course, "author", func(tx *blockstore.Tx) error {
		return tx.PublishItem(usage)
	})
	if err != nil {
		t.Fatalf("publish %s: %v", usage, err)
	}
}

func TestStaffLockPropagatesToSubtree(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "ch1",
		map[string]interface{}{"visible_to_staff_only": true})
	sequential := f.addChild(t, chapter, "sequential", "seq1", nil)
	vertical := f.addChild(t, sequential, "vertical", "unit1", nil)
	f.publish(t, vertical)

	info, err := f.svc.Info(ctx, chapter, Options{IncludeChildInfo: true})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	var check func(*XBlockInfo)
	check = func(node *XBlockInfo) {
		if node.VisibilityState != VisibilityStaffOnly {
			t.Fatalf("%s: visibility %q, want staff_only", node.ID, node.VisibilityState)
		}
		if node.ChildInfo != nil {
			for _, child := range node.ChildInfo.Children {
				check(child)
			}
		}
	}
	check(info)

	if !info.HasExplicitStaffLock {
		t.Fatal("chapter must report its explicit lock")
	}
	seqInfo := info.ChildInfo.Children[0]
	if seqInfo.HasExplicitStaffLock {
		t.Fatal("sequential lock is inherited, not explicit")
	}
}

func TestVisibilityStates(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "ch1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	sequential := f.addChild(t, chapter, "sequential", "seq1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})

	live := f.addChild(t, sequential, "vertical", "live1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	f.publish(t, live)

	info, err := f.svc.Info(ctx, live, Options{})
	if err != nil {
		t.Fatalf("Info(live): %v", err)
	}
	if info.VisibilityState != VisibilityLive {
		t.Fatalf("released published vertical: %q", info.VisibilityState)
	}

	ready := f.addChild(t, sequential, "vertical", "ready1",
		map[string]interface{}{"start": "2029-01-01T00:00:00Z"})
	f.publish(t, ready)
	info, _ = f.svc.Info(ctx, ready, Options{})
	if info.VisibilityState != VisibilityReady {
		t.Fatalf("future published vertical: %q", info.VisibilityState)
	}

	unscheduled := f.addChild(t, sequential, "vertical", "unsched1", nil)
	f.publish(t, unscheduled)
	info, _ = f.svc.Info(ctx, unscheduled, Options{})
	if info.VisibilityState != VisibilityUnscheduled {
		t.Fatalf("default-start vertical: %q", info.VisibilityState)
	}

	// An edited published unit needs attention, and the state bubbles
	// up to its container.
	f.setFields(t, live, map[string]interface{}{"note": "edited"})
	info, _ = f.svc.Info(ctx, live, Options{})
	if info.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("edited published vertical: %q", info.VisibilityState)
	}
	seqInfo, _ := f.svc.Info(ctx, sequential, Options{IncludeChildInfo: true})
	if seqInfo.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("container of edited unit: %q", seqInfo.VisibilityState)
	}
}

func TestNeverPublishedUnitNeedsAttention(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "ch1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	sequential := f.addChild(t, chapter, "sequential", "seq1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	vertical := f.addChild(t, sequential, "vertical", "unit1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})

	info, err := f.svc.Info(ctx, vertical, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("never-published vertical: %q", info.VisibilityState)
	}

	seqInfo, err := f.svc.Info(ctx, sequential, Options{IncludeChildInfo: true})
	if err != nil {
		t.Fatalf("Info(sequential): %v", err)
	}
	if seqInfo.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("container of never-published unit: %q", seqInfo.VisibilityState)
	}
}

func TestContainerScheduleMismatchNeedsAttention(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "ch1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})

	// All children live but the container's own release is in the future.
	seqFuture := f.addChild(t, chapter, "sequential", "seqFuture",
		map[string]interface{}{"start": "2029-01-01T00:00:00Z"})
	released := f.addChild(t, seqFuture, "vertical", "released1",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	f.publish(t, released)

	info, err := f.svc.Info(ctx, seqFuture, Options{IncludeChildInfo: true})
	if err != nil {
		t.Fatalf("Info(seqFuture): %v", err)
	}
	if info.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("future container with live children: %q", info.VisibilityState)
	}

	// All children unscheduled but the container itself has a release date.
	seqSched := f.addChild(t, chapter, "sequential", "seqSched",
		map[string]interface{}{"start": "2020-01-01T00:00:00Z"})
	unsched := f.addChild(t, seqSched, "vertical", "unsched1", nil)
	f.publish(t, unsched)

	info, err = f.svc.Info(ctx, seqSched, Options{IncludeChildInfo: true})
	if err != nil {
		t.Fatalf("Info(seqSched): %v", err)
	}
	if info.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("scheduled container with unscheduled children: %q", info.VisibilityState)
	}
}

func TestSelfPacedCourseIsAlwaysLive(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	f.setFields(t, f.root(), map[string]interface{}{"self_paced": true})
	chapter := f.addChild(t, f.root(), "chapter", "ch1", nil)

	info, err := f.svc.Info(ctx, chapter, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.VisibilityState != VisibilityLive {
		t.Fatalf("self-paced chapter: %q", info.VisibilityState)
	}
}

func TestSelfPacedUnitWithDraftEditsNeedsAttention(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	f.setFields(t, f.root(), map[string]interface{}{"self_paced": true})
	chapter := f.addChild(t, f.root(), "chapter", "ch1", nil)
	sequential := f.addChild(t, chapter, "sequential", "seq1", nil)
	vertical := f.addChild(t, sequential, "vertical", "unit1", nil)
	f.publish(t, vertical)

	info, err := f.svc.Info(ctx, vertical, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.VisibilityState != VisibilityLive {
		t.Fatalf("clean self-paced vertical: %q", info.VisibilityState)
	}

	f.setFields(t, vertical, map[string]interface{}{"note": "edited"})
	info, err = f.svc.Info(ctx, vertical, Options{})
	if err != nil {
		t.Fatalf("Info after edit: %v", err)
	}
	if info.VisibilityState != VisibilityNeedsAttention {
		t.Fatalf("edited self-paced vertical: %q", info.VisibilityState)
	}
}

func TestChapterFieldsAndDatePinning(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{EnableCourseHighlights: true})
	chapter := f.addChild(t, f.root(), "chapter", "ch1", map[string]interface{}{
		"start":      "1899-12-31T00:00:00Z",
		"due":        "1812-01-01T00:00:00Z",
		"graded":     true,
		"format":     "Homework",
		"highlights": []interface{}{"intro", "recap"},
	})

	info, err := f.svc.Info(ctx, chapter, Options{Graders: []string{"Homework", "Exam"}})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Start != "2030-01-01T00:00:00Z" {
		t.Fatalf("pre-1900 start must pin to the default start date: %q", info.Start)
	}
	if info.Due != nil || info.DueDate != "" {
		t.Fatalf("pre-1900 due must blank: %v %q", info.Due, info.DueDate)
	}
	if !info.Graded || info.Format != "Homework" {
		t.Fatalf("grading fields: %+v", info)
	}
	if len(info.Highlights) != 2 || !info.HighlightsEnabled {
		t.Fatalf("highlights: %+v", info)
	}
	if len(info.Graders) != 2 {
		t.Fatalf("course graders: %v", info.Graders)
	}
}

func TestEntranceExamChapter(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "exam",
		map[string]interface{}{"is_entrance_exam": true})
	sequential := f.addChild(t, chapter, "sequential", "examSeq", nil)

	info, err := f.svc.Info(ctx, chapter, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.DisplayName != "Entrance Exam" {
		t.Fatalf("display name: %q", info.DisplayName)
	}
	if info.Actions["deletable"] || info.Actions["draggable"] || info.Actions["childAddable"] {
		t.Fatalf("entrance exam actions: %v", info.Actions)
	}

	seqInfo, err := f.svc.Info(ctx, sequential, Options{})
	if err != nil {
		t.Fatalf("Info(sequential): %v", err)
	}
	if seqInfo.IsHeaderVisible == nil || *seqInfo.IsHeaderVisible {
		t.Fatalf("entrance exam sequential must hide its header: %v", seqInfo.IsHeaderVisible)
	}
}

func TestProctoringFieldsGatedByPolicy(t *testing.T) {
	fields := map[string]interface{}{
		"is_proctored_exam":          true,
		"is_time_limited":            true,
		"default_time_limit_minutes": 30,
	}

	on := newFixture(t, config.PolicyConfig{EnableProctoredExams: true})
	chapter := on.addChild(t, on.root(), "chapter", "ch1", nil)
	sequential := on.addChild(t, chapter, "sequential", "seq1", fields)
	info, err := on.svc.Info(ctx, sequential, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.IsProctoredExam == nil || !*info.IsProctoredExam {
		t.Fatalf("proctoring fields missing: %+v", info)
	}
	if info.DefaultTimeLimitMinutes == nil || *info.DefaultTimeLimitMinutes != 30 {
		t.Fatalf("time limit: %v", info.DefaultTimeLimitMinutes)
	}

	off := newFixture(t, config.PolicyConfig{EnableProctoredExams: false})
	chapter = off.addChild(t, off.root(), "chapter", "ch1", nil)
	sequential = off.addChild(t, chapter, "sequential", "seq1", fields)
	info, err = off.svc.Info(ctx, sequential, Options{})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.IsProctoredExam != nil {
		t.Fatal("proctoring fields must be withheld when the toggle is off")
	}
}

func TestAncestorInfo(t *testing.T) {
	f := newFixture(t, config.PolicyConfig{})
	chapter := f.addChild(t, f.root(), "chapter", "ch1",
		map[string]interface{}{"visible_to_staff_only": true})
	sequential := f.addChild(t, chapter, "sequential", "seq1", nil)
	vertical := f.addChild(t, sequential, "vertical", "unit1", nil)

	info, err := f.svc.Info(ctx, vertical, Options{IncludeAncestorInfo: true})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.AncestorInfo == nil {
		t.Fatal("ancestor info missing")
	}
	ancestors := info.AncestorInfo.Ancestors
	if len(ancestors) != 3 {
		t.Fatalf("ancestors: %d", len(ancestors))
	}
	if ancestors[0].Category != "sequential" || ancestors[1].Category != "chapter" || ancestors[2].Category != "course" {
		t.Fatalf("ancestor order: %s %s %s", ancestors[0].Category, ancestors[1].Category, ancestors[2].Category)
	}
	// Only the direct ancestor renders children.
	if ancestors[0].ChildInfo == nil {
		t.Fatal("direct ancestor must include child info")
	}
	if ancestors[1].ChildInfo != nil || ancestors[2].ChildInfo != nil {
		t.Fatal("non-direct ancestors must not include child info")
	}
	// The sequential reports which ancestor enforces the lock.
	if ancestors[0].StaffLockFrom != "Section - chapter" {
		t.Fatalf("staff_lock_from: %q", ancestors[0].StaffLockFrom)
	}
}
