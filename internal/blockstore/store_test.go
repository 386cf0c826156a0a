package blockstore

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/errs"
	"github.com/studiocore/authoring/internal/testutil"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newTestStore(t *testing.T) (*Store, keys.CourseKey) {
	t.Helper()
	store := NewStore(testutil.DB(t), zap.NewNop())
	course := keys.CourseKey{Org: "edX", Course: "DemoX", Run: "2026"}
	name := "Demo Course"
	if _, err := store.CreateCourse(ctx, course, "author", &name, nil); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	return store, course
}

func courseRoot(course keys.CourseKey) keys.UsageKey {
	return keys.NewUsageKey(course, "course", "course")
}

// addChild creates a block under parent and returns its usage key.
func addChild(t *testing.T, store *Store, parent keys.UsageKey, category, id string) keys.UsageKey {
	t.Helper()
	usage := keys.NewUsageKey(parent.Course, category, id)
	err := store.BulkOperations(ctx, parent.Course, "author", func(tx *Tx) error {
		_, err := tx.CreateChild(parent, usage, nil, nil, -1)
		return err
	})
	if err != nil {
		t.Fatalf("create %s: %v", usage, err)
	}
	return usage
}

func TestCreateCourseSeedsBothBranches(t *testing.T) {
	store, course := newTestStore(t)
	root := courseRoot(course)

	for _, revision := range []Revision{RevisionDraftPreferred, RevisionPublishedOnly} {
		block, err := store.GetItem(ctx, root, revision)
		if err != nil {
			t.Fatalf("GetItem(revision=%v): %v", revision, err)
		}
		if block.Category != "course" || block.DisplayNameOrDefault() != "Demo Course" {
			t.Fatalf("unexpected root: %+v", block)
		}
	}

	name := "x"
	if _, err := store.CreateCourse(ctx, course, "author", &name, nil); !errs.IsUserError(err) {
		t.Fatalf("duplicate course must fail with UserError, got %v", err)
	}
}

func TestDirectOnlyWritesHitBothBranches(t *testing.T) {
	store, course := newTestStore(t)
	chapter := addChild(t, store, courseRoot(course), "chapter", "ch1")

	published, err := store.HasItem(ctx, chapter, RevisionPublishedOnly)
	if err != nil || !published {
		t.Fatalf("chapter must exist on published branch: %v %v", published, err)
	}

	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		block, err := tx.GetItem(chapter, RevisionDraftPreferred)
		if err != nil {
			return err
		}
		name := "Week 1"
		block.DisplayName = &name
		return tx.UpdateItem(block)
	})
	if err != nil {
		t.Fatalf("update chapter: %v", err)
	}

	changed, err := store.HasChanges(ctx, chapter)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if changed {
		t.Fatal("direct-only block must never report changes after update_item")
	}
	pub, err := store.GetItem(ctx, chapter, RevisionPublishedOnly)
	if err != nil || pub.DisplayNameOrDefault() != "Week 1" {
		t.Fatalf("published copy not updated: %+v %v", pub, err)
	}
}

func TestDraftablePublishLifecycle(t *testing.T) {
	store, course := newTestStore(t)
	chapter := addChild(t, store, courseRoot(course), "chapter", "ch1")
	sequential := addChild(t, store, chapter, "sequential", "seq1")
	vertical := addChild(t, store, sequential, "vertical", "unit1")

	published, err := store.HasItem(ctx, vertical, RevisionPublishedOnly)
	if err != nil {
		t.Fatalf("HasItem: %v", err)
	}
	if published {
		t.Fatal("vertical must start unpublished")
	}
	if changed, _ := store.HasChanges(ctx, vertical); !changed {
		t.Fatal("never-published vertical must have changes")
	}

	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.PublishItem(vertical)
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	pub, err := store.GetItem(ctx, vertical, RevisionPublishedOnly)
	if err != nil {
		t.Fatalf("published vertical missing: %v", err)
	}
	if pub.Category != "vertical" {
		t.Fatalf("unexpected published block: %+v", pub)
	}
	if changed, _ := store.HasChanges(ctx, vertical); changed {
		t.Fatal("freshly published vertical must be clean")
	}

	// Publishing again must not change the published content.
	before, _ := store.GetItem(ctx, vertical, RevisionPublishedOnly)
	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.PublishItem(vertical)
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	after, _ := store.GetItem(ctx, vertical, RevisionPublishedOnly)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("publish is not idempotent:\n%+v\n%+v", before, after)
	}

	// The published sequential keeps the vertical in its children.
	pubSeq, err := store.GetItem(ctx, sequential, RevisionPublishedOnly)
	if err != nil {
		t.Fatalf("published sequential: %v", err)
	}
	if len(pubSeq.Children) != 1 || pubSeq.Children[0] != vertical {
		t.Fatalf("published sequential children: %+v", pubSeq.Children)
	}
}

func TestRevertToPublished(t *testing.T) {
	store, course := newTestStore(t)
	chapter := addChild(t, store, courseRoot(course), "chapter", "ch1")
	sequential := addChild(t, store, chapter, "sequential", "seq1")
	vertical := addChild(t, store, sequential, "vertical", "unit1")

	err := store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.PublishItem(vertical)
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		block, err := tx.GetItem(vertical, RevisionDraftPreferred)
		if err != nil {
			return err
		}
		name := "edited"
		block.DisplayName = &name
		return tx.UpdateItem(block)
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if changed, _ := store.HasChanges(ctx, vertical); !changed {
		t.Fatal("edited vertical must have changes")
	}

	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.RevertToPublished(vertical)
	})
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if changed, _ := store.HasChanges(ctx, vertical); changed {
		t.Fatal("reverted vertical must be clean")
	}
	draft, _ := store.GetItem(ctx, vertical, RevisionDraftPreferred)
	if draft.DisplayName != nil {
		t.Fatalf("revert left the draft edit in place: %+v", draft)
	}

	// A never-published block cannot be reverted.
	other := addChild(t, store, sequential, "vertical", "unit2")
	err = store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.RevertToPublished(other)
	})
	if !errors.Is(err, errs.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestDeleteItemRemovesSubtreeAndParentRef(t *testing.T) {
	store, course := newTestStore(t)
	chapter := addChild(t, store, courseRoot(course), "chapter", "ch1")
	sequential := addChild(t, store, chapter, "sequential", "seq1")
	vertical := addChild(t, store, sequential, "vertical", "unit1")
	html := addChild(t, store, vertical, "html", "html1")

	err := store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		return tx.DeleteItem(vertical)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, usage := range []keys.UsageKey{vertical, html} {
		if found, _ := store.HasItem(ctx, usage, RevisionDraftPreferred); found {
			t.Fatalf("%s must be gone", usage)
		}
	}
	seq, _ := store.GetItem(ctx, sequential, RevisionDraftPreferred)
	if len(seq.Children) != 0 {
		t.Fatalf("dangling child reference: %+v", seq.Children)
	}
}

func TestGetOrphans(t *testing.T) {
	store, course := newTestStore(t)
	chapter := addChild(t, store, courseRoot(course), "chapter", "ch1")
	_ = chapter

	loose := keys.NewUsageKey(course, "vertical", "loose1")
	tab := keys.NewUsageKey(course, "static_tab", "tab1")
	err := store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		if _, err := tx.CreateItem(loose, nil, nil); err != nil {
			return err
		}
		_, err := tx.CreateItem(tab, nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("create loose blocks: %v", err)
	}

	orphans, err := store.GetOrphans(ctx, course)
	if err != nil {
		t.Fatalf("GetOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != loose {
		t.Fatalf("orphans: %v", orphans)
	}
}

func TestConcurrentCommitLosesRace(t *testing.T) {
	store, course := newTestStore(t)
	root := courseRoot(course)

	err := store.BulkOperations(ctx, course, "author-a", func(tx *Tx) error {
		// A competing author commits while this region is open.
		other := keys.NewUsageKey(course, "chapter", "theirs")
		err := store.BulkOperations(ctx, course, "author-b", func(inner *Tx) error {
			_, err := inner.CreateChild(root, other, nil, nil, -1)
			return err
		})
		if err != nil {
			return err
		}

		mine := keys.NewUsageKey(course, "chapter", "mine")
		_, err = tx.CreateChild(root, mine, nil, nil, -1)
		return err
	})
	if !errors.Is(err, errs.ErrConcurrentAuthors) {
		t.Fatalf("expected ErrConcurrentAuthors, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), errs.ConcurrentAuthorsMessage) {
		t.Fatalf("error must carry the concurrent authors message: %v", err)
	}

	// The loser's write is gone; the winner's survives.
	if found, _ := store.HasItem(ctx, keys.NewUsageKey(course, "chapter", "mine"), RevisionDraftPreferred); found {
		t.Fatal("lost commit must not be visible")
	}
	if found, _ := store.HasItem(ctx, keys.NewUsageKey(course, "chapter", "theirs"), RevisionDraftPreferred); !found {
		t.Fatal("winning commit must be visible")
	}
}

func TestBulkReadsObservePendingWrites(t *testing.T) {
	store, course := newTestStore(t)
	root := courseRoot(course)

	err := store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		usage := keys.NewUsageKey(course, "chapter", "ch1")
		if _, err := tx.CreateChild(root, usage, nil, nil, -1); err != nil {
			return err
		}
		if !tx.HasItem(usage, RevisionDraftPreferred) {
			t.Fatal("pending write not observed inside the region")
		}
		parent, ok := tx.GetParentLocation(usage, RevisionDraftPreferred)
		if !ok || parent != root {
			t.Fatalf("parent: %v %v", parent, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("bulk region: %v", err)
	}
}

func TestFailedRegionRollsBack(t *testing.T) {
	store, course := newTestStore(t)
	root := courseRoot(course)
	boom := errors.New("boom")

	err := store.BulkOperations(ctx, course, "author", func(tx *Tx) error {
		usage := keys.NewUsageKey(course, "chapter", "ch1")
		if _, err := tx.CreateChild(root, usage, nil, nil, -1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected staged error, got %v", err)
	}
	if found, _ := store.HasItem(ctx, keys.NewUsageKey(course, "chapter", "ch1"), RevisionDraftPreferred); found {
		t.Fatal("failed region must not commit")
	}
}

