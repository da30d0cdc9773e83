package knowledge

import (
	"testing"

	"weave/internal/domain/knowledge"
	"weave/internal/errors"
)

func TestNoteHappyPath(t *testing.T) {
	mgr := NewNoteManager(nil)

	note, err := mgr.Create(knowledge.NoteProgress, "alice", "halfway there", []string{"run_1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := mgr.Submit(note.ID, "alice"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := mgr.Approve(note.ID, "bob"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	approved, _ := mgr.Get(note.ID)
	if approved.Status != knowledge.NoteApproved {
		t.Fatalf("expected approved, got %q", approved.Status)
	}
	if approved.ApprovedBy != "bob" || approved.ApprovedAt.IsZero() {
		t.Fatalf("approval actor and timestamp must be recorded: %+v", approved)
	}

	if err := mgr.Archive(note.ID, "bob"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	// Archived notes stay queryable for audit.
	archived, err := mgr.Get(note.ID)
	if err != nil || archived.Status != knowledge.NoteArchived {
		t.Fatalf("archived note must remain queryable: %v %+v", err, archived)
	}

	audit := mgr.Audit()
	if len(audit) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(audit))
	}
}

func TestApprovedContentIsImmutable(t *testing.T) {
	mgr := NewNoteManager(nil)
	note, _ := mgr.Create(knowledge.NoteConclusion, "alice", "v1", nil)
	_ = mgr.Submit(note.ID, "alice")
	_ = mgr.Approve(note.ID, "bob")

	err := mgr.UpdateContent(note.ID, "v2")
	if errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("expected invalid_transition editing approved content, got %v", err)
	}

	fork, err := mgr.Fork(note.ID, "alice")
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	if fork.Version != 2 || fork.Status != knowledge.NoteDraft {
		t.Fatalf("fork must be a draft with a bumped version: %+v", fork)
	}
	if err := mgr.UpdateContent(fork.ID, "v2"); err != nil {
		t.Fatalf("forked draft must be editable: %v", err)
	}
}

func TestRejectReturnsToDraft(t *testing.T) {
	mgr := NewNoteManager(nil)
	note, _ := mgr.Create(knowledge.NoteBlocker, "alice", "stuck", nil)
	_ = mgr.Submit(note.ID, "alice")

	if err := mgr.Reject(note.ID, "bob", "needs detail"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	rejected, _ := mgr.Get(note.ID)
	if rejected.Status != knowledge.NoteDraft {
		t.Fatalf("rejection must return the note to draft, got %q", rejected.Status)
	}

	audit := mgr.Audit()
	if audit[len(audit)-1].Reason != "needs detail" {
		t.Fatalf("rejection reason must be audited")
	}
}

func TestInvalidNoteTransitions(t *testing.T) {
	mgr := NewNoteManager(nil)
	note, _ := mgr.Create(knowledge.NoteReference, "alice", "link", nil)

	// draft -> approved skips review.
	if err := mgr.Approve(note.ID, "bob"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("draft cannot be approved directly, got %v", err)
	}
	// draft -> archived skips the whole lifecycle.
	if err := mgr.Archive(note.ID, "bob"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("draft cannot be archived directly, got %v", err)
	}

	_ = mgr.Submit(note.ID, "alice")
	_ = mgr.Approve(note.ID, "bob")
	_ = mgr.Archive(note.ID, "bob")

	// Archived is terminal.
	if err := mgr.Submit(note.ID, "alice"); errors.KindOf(err) != errors.KindInvalidTransition {
		t.Fatalf("archived is terminal, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	mgr := NewNoteManager(nil)
	if _, err := mgr.Create("whimsy", "alice", "x", nil); err == nil {
		t.Fatalf("unknown note kind must be rejected")
	}
	if _, err := mgr.Create(knowledge.NoteProgress, "", "x", nil); err == nil {
		t.Fatalf("owner is required")
	}
}
