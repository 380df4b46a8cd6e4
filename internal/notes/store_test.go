package notes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.CreateNote(ctx, CreateNoteParams{Title: "parent"})
	require.NoError(t, err)

	note, err := s.CreateNote(ctx, CreateNoteParams{
		ParentID: parent.NoteID,
		Title:    "child",
		Content:  "body",
		Mime:     "text/plain",
		Attributes: []Attribute{
			{Kind: KindLabel, Name: "tag", Value: "work"},
			{Kind: KindRelation, Name: "template", Value: "tmpl-id"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, note.NoteID)
	assert.Equal(t, "text", note.Kind)
	assert.NotEmpty(t, note.CreatedAt)

	loaded, err := s.Note(ctx, note.NoteID)
	require.NoError(t, err)
	assert.Equal(t, "child", loaded.Title)
	assert.Equal(t, "body", loaded.Content)

	isChild, err := s.IsChildOf(ctx, note.NoteID, parent.NoteID)
	require.NoError(t, err)
	assert.True(t, isChild)

	attrs, err := s.Attributes(ctx, note.NoteID)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "tag", attrs[0].Name)
	assert.Equal(t, KindRelation, attrs[1].Kind)
}

func TestNote_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Note(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestLabelValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.CreateNote(ctx, CreateNoteParams{
		Title: "n",
		Attributes: []Attribute{
			{Kind: KindLabel, Name: "todoDate", Value: "2026-09-01"},
			{Kind: KindLabel, Name: "todoDate", Value: "2026-09-05"},
			{Kind: KindRelation, Name: "owner", Value: "other"},
		},
	})
	require.NoError(t, err)

	v, err := s.LabelValue(ctx, note.NoteID, "todoDate")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", v, "first label by position wins")

	v, err = s.LabelValue(ctx, note.NoteID, "absent")
	require.NoError(t, err)
	assert.Empty(t, v)

	// Kind is part of the key.
	v, err = s.LabelValue(ctx, note.NoteID, "owner")
	require.NoError(t, err)
	assert.Empty(t, v)
	v, err = s.RelationValue(ctx, note.NoteID, "owner")
	require.NoError(t, err)
	assert.Equal(t, "other", v)
}

func TestNoteWithLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.NoteWithLabel(ctx, "taskDoneRoot")
	assert.ErrorIs(t, err, ErrRootMissing)

	root, err := s.CreateNote(ctx, CreateNoteParams{
		Title:      "Done",
		Attributes: []Attribute{{Kind: KindLabel, Name: "taskDoneRoot", Value: "true"}},
	})
	require.NoError(t, err)

	found, err := s.NoteWithLabel(ctx, "taskDoneRoot")
	require.NoError(t, err)
	assert.Equal(t, root.NoteID, found.NoteID)

	_, err = s.CreateNote(ctx, CreateNoteParams{
		Title:      "Done again",
		Attributes: []Attribute{{Kind: KindLabel, Name: "taskDoneRoot", Value: "true"}},
	})
	require.NoError(t, err)

	_, err = s.NoteWithLabel(ctx, "taskDoneRoot")
	assert.ErrorIs(t, err, ErrAmbiguousRoot)
}

func TestToggleNoteInParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.CreateNote(ctx, CreateNoteParams{Title: "parent"})
	require.NoError(t, err)
	note, err := s.CreateNote(ctx, CreateNoteParams{Title: "note"})
	require.NoError(t, err)

	// Adding twice leaves a single branch.
	require.NoError(t, s.ToggleNoteInParent(ctx, true, note.NoteID, parent.NoteID))
	require.NoError(t, s.ToggleNoteInParent(ctx, true, note.NoteID, parent.NoteID))

	children, err := s.ChildNotes(ctx, parent.NoteID)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	// Removing twice is equally harmless.
	require.NoError(t, s.ToggleNoteInParent(ctx, false, note.NoteID, parent.NoteID))
	require.NoError(t, s.ToggleNoteInParent(ctx, false, note.NoteID, parent.NoteID))

	children, err = s.ChildNotes(ctx, parent.NoteID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestSetNoteToParent_SingleSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day1, err := s.CreateNote(ctx, CreateNoteParams{Title: "2026-09-01"})
	require.NoError(t, err)
	day2, err := s.CreateNote(ctx, CreateNoteParams{Title: "2026-09-02"})
	require.NoError(t, err)
	note, err := s.CreateNote(ctx, CreateNoteParams{Title: "task"})
	require.NoError(t, err)

	require.NoError(t, s.SetNoteToParent(ctx, note.NoteID, "TODO", day1.NoteID))
	p, err := s.ParentWithRole(ctx, note.NoteID, "TODO")
	require.NoError(t, err)
	assert.Equal(t, day1.NoteID, p)

	// Moving replaces, never accumulates.
	require.NoError(t, s.SetNoteToParent(ctx, note.NoteID, "TODO", day2.NoteID))
	p, err = s.ParentWithRole(ctx, note.NoteID, "TODO")
	require.NoError(t, err)
	assert.Equal(t, day2.NoteID, p)

	still, err := s.IsChildOf(ctx, note.NoteID, day1.NoteID)
	require.NoError(t, err)
	assert.False(t, still)

	// Roles are independent slots.
	require.NoError(t, s.SetNoteToParent(ctx, note.NoteID, "DONE", day1.NoteID))
	p, err = s.ParentWithRole(ctx, note.NoteID, "TODO")
	require.NoError(t, err)
	assert.Equal(t, day2.NoteID, p)

	// Empty parent clears the slot.
	require.NoError(t, s.SetNoteToParent(ctx, note.NoteID, "TODO", ""))
	p, err = s.ParentWithRole(ctx, note.NoteID, "TODO")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestToggleLabel_ValueScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.CreateNote(ctx, CreateNoteParams{Title: "task"})
	require.NoError(t, err)

	require.NoError(t, s.ToggleLabel(ctx, true, note.NoteID, "cssClass", "done"))
	require.NoError(t, s.ToggleLabel(ctx, true, note.NoteID, "cssClass", "done"))

	attrs, err := s.Attributes(ctx, note.NoteID)
	require.NoError(t, err)
	assert.Len(t, attrs, 1, "toggle on is idempotent")

	// Removing a different value of the same name must not touch it.
	require.NoError(t, s.ToggleLabel(ctx, false, note.NoteID, "cssClass", "todo"))
	v, err := s.LabelValue(ctx, note.NoteID, "cssClass")
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	require.NoError(t, s.ToggleLabel(ctx, false, note.NoteID, "cssClass", "done"))
	v, err = s.LabelValue(ctx, note.NoteID, "cssClass")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSetLabel_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note, err := s.CreateNote(ctx, CreateNoteParams{Title: "task"})
	require.NoError(t, err)

	require.NoError(t, s.AddLabel(ctx, note.NoteID, "tag", "a"))
	require.NoError(t, s.AddLabel(ctx, note.NoteID, "tag", "b"))
	require.NoError(t, s.SetLabel(ctx, note.NoteID, "tag", "c"))

	attrs, err := s.Attributes(ctx, note.NoteID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "c", attrs[0].Value)
}

func TestAttributeEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var events []AttributeEvent
	s.OnAttributeChange(func(ev AttributeEvent) { events = append(events, ev) })

	note, err := s.CreateNote(ctx, CreateNoteParams{
		Title:      "task",
		Attributes: []Attribute{{Kind: KindLabel, Name: "todoDate", Value: "2026-09-01"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.AddLabel(ctx, note.NoteID, "tag", "work"))
	require.NoError(t, s.RemoveLabel(ctx, note.NoteID, "tag"))

	// Removing an absent label publishes nothing.
	require.NoError(t, s.RemoveLabel(ctx, note.NoteID, "tag"))

	require.Len(t, events, 3)
	assert.Equal(t, AttributeEvent{NoteID: note.NoteID, Kind: KindLabel, Name: "todoDate"}, events[0])
	assert.Equal(t, "tag", events[1].Name)
	assert.Equal(t, "tag", events[2].Name)
}

func TestDayNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Bootstrap(ctx))

	day, err := s.DayNote(ctx, "2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", day.Title)

	// Second lookup returns the same note, not a duplicate.
	again, err := s.DayNote(ctx, "2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, day.NoteID, again.NoteID)

	root, err := s.NoteWithLabel(ctx, LabelCalendarRoot)
	require.NoError(t, err)
	children, err := s.ChildNotes(ctx, root.NoteID)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	_, err = s.DayNote(ctx, "not-a-date")
	assert.Error(t, err)
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Bootstrap(ctx))
	require.NoError(t, s.Bootstrap(ctx))

	for _, marker := range []string{
		LabelDoneRoot, LabelTodoRoot, LabelCanceledRoot,
		LabelTagRoot, LabelLocationRoot, LabelCalendarRoot,
		LabelTaskTemplate, LabelReminderTemplate,
		LabelDailyReminderTemplate, LabelEventTemplate,
	} {
		_, err := s.NoteWithLabel(ctx, marker)
		assert.NoError(t, err, marker)
	}
}
