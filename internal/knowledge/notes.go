package knowledge

import (
	"sync"
	"time"

	"weave/internal/domain/knowledge"
	"weave/internal/errors"
	"weave/internal/shared/id"
	"weave/internal/shared/logging"
)

// NoteTransition is one entry in the note audit trail.
type NoteTransition struct {
	NoteID    string               `json:"note_id"`
	From      knowledge.NoteStatus `json:"from"`
	To        knowledge.NoteStatus `json:"to"`
	Actor     string               `json:"actor"`
	Reason    string               `json:"reason,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// noteTransitions is the status machine: draft → pending → approved →
// archived, with pending → draft on rejection. Archived is terminal.
var noteTransitions = map[knowledge.NoteStatus][]knowledge.NoteStatus{
	knowledge.NoteDraft:    {knowledge.NotePending},
	knowledge.NotePending:  {knowledge.NoteApproved, knowledge.NoteDraft},
	knowledge.NoteApproved: {knowledge.NoteArchived},
}

// NoteManager owns knowledge notes and their lifecycle. Archived notes stay
// queryable for audit.
type NoteManager struct {
	mu     sync.RWMutex
	notes  map[string]*knowledge.Note
	audit  []NoteTransition
	logger logging.Logger
}

// NewNoteManager creates an empty note manager.
func NewNoteManager(logger logging.Logger) *NoteManager {
	return &NoteManager{
		notes:  make(map[string]*knowledge.Note),
		logger: logging.OrNop(logger),
	}
}

// Create adds a draft note.
func (m *NoteManager) Create(kind knowledge.NoteKind, owner, content string, tags []string) (*knowledge.Note, error) {
	if !kind.Valid() {
		return nil, errors.New(errors.KindInvalidRequest, "unknown note kind %q", kind)
	}
	if owner == "" {
		return nil, errors.New(errors.KindInvalidRequest, "note requires an owner")
	}

	note := &knowledge.Note{
		ID:        id.NewNoteID(),
		Kind:      kind,
		Status:    knowledge.NoteDraft,
		Owner:     owner,
		Content:   content,
		Tags:      append([]string(nil), tags...),
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	m.mu.Lock()
	m.notes[note.ID] = note
	m.mu.Unlock()

	copied := *note
	return &copied, nil
}

// UpdateContent edits a draft or pending note in place. Approved and archived
// notes are immutable; fork a new version instead.
func (m *NoteManager) UpdateContent(noteID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	note, ok := m.notes[noteID]
	if !ok {
		return errors.New(errors.KindInvalidRequest, "note %q not found", noteID)
	}
	if note.Immutable() {
		return errors.New(errors.KindInvalidTransition,
			"note %q is %s; fork a new version to change content", noteID, note.Status)
	}
	note.Content = content
	note.UpdatedAt = time.Now()
	return nil
}

func (m *NoteManager) transition(noteID string, to knowledge.NoteStatus, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	note, ok := m.notes[noteID]
	if !ok {
		return errors.New(errors.KindInvalidRequest, "note %q not found", noteID)
	}

	permitted := false
	for _, candidate := range noteTransitions[note.Status] {
		if candidate == to {
			permitted = true
			break
		}
	}
	if !permitted {
		return errors.New(errors.KindInvalidTransition,
			"note %q cannot move from %q to %q", noteID, note.Status, to).
			WithMeta("from", string(note.Status)).
			WithMeta("to", string(to))
	}

	from := note.Status
	note.Status = to
	note.UpdatedAt = time.Now()
	if to == knowledge.NoteApproved {
		note.ApprovedBy = actor
		note.ApprovedAt = note.UpdatedAt
	}

	m.audit = append(m.audit, NoteTransition{
		NoteID:    noteID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		Timestamp: note.UpdatedAt,
	})
	m.logger.Debug("note %s: %s -> %s by %s", noteID, from, to, actor)
	return nil
}

// Submit moves a draft note to pending review.
func (m *NoteManager) Submit(noteID, actor string) error {
	return m.transition(noteID, knowledge.NotePending, actor, "")
}

// Approve freezes the note content and records the approving actor.
func (m *NoteManager) Approve(noteID, actor string) error {
	return m.transition(noteID, knowledge.NoteApproved, actor, "")
}

// Reject returns a pending note to draft.
func (m *NoteManager) Reject(noteID, actor, reason string) error {
	return m.transition(noteID, knowledge.NoteDraft, actor, reason)
}

// Archive retires an approved note. Archived notes remain queryable.
func (m *NoteManager) Archive(noteID, actor string) error {
	return m.transition(noteID, knowledge.NoteArchived, actor, "")
}

// Fork creates a new draft carrying the content of an immutable note with a
// bumped version.
func (m *NoteManager) Fork(noteID, owner string) (*knowledge.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, ok := m.notes[noteID]
	if !ok {
		return nil, errors.New(errors.KindInvalidRequest, "note %q not found", noteID)
	}

	fork := &knowledge.Note{
		ID:        id.NewNoteID(),
		Kind:      source.Kind,
		Status:    knowledge.NoteDraft,
		Owner:     owner,
		Content:   source.Content,
		Tags:      append([]string(nil), source.Tags...),
		Version:   source.Version + 1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.notes[fork.ID] = fork

	copied := *fork
	return &copied, nil
}

// Get returns a copy of the note.
func (m *NoteManager) Get(noteID string) (*knowledge.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	note, ok := m.notes[noteID]
	if !ok {
		return nil, errors.New(errors.KindInvalidRequest, "note %q not found", noteID)
	}
	copied := *note
	return &copied, nil
}

// List returns copies of every note, archived included.
func (m *NoteManager) List() []*knowledge.Note {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*knowledge.Note, 0, len(m.notes))
	for _, note := range m.notes {
		copied := *note
		out = append(out, &copied)
	}
	return out
}

// Audit returns the transition trail, oldest first.
func (m *NoteManager) Audit() []NoteTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]NoteTransition(nil), m.audit...)
}
