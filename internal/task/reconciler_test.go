package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
)

func newTestService(t *testing.T) (*Service, *notes.Store, Roots) {
	t.Helper()

	store, err := notes.Open(notes.Config{Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Bootstrap(ctx))

	roots, err := LocateRoots(ctx, store)
	require.NoError(t, err)

	metrics := NewMetrics(zap.NewNop())
	categories := NewCategoryIndex(store, metrics, zap.NewNop())
	svc := NewService(store, roots, categories, metrics, zap.NewNop())
	return svc, store, roots
}

func createTask(t *testing.T, store *notes.Store, parentID string, attrs ...notes.Attribute) string {
	t.Helper()
	note, err := store.CreateNote(context.Background(), notes.CreateNoteParams{
		ParentID:   parentID,
		Title:      "test task",
		Attributes: attrs,
	})
	require.NoError(t, err)
	return note.NoteID
}

func dayNoteID(t *testing.T, store *notes.Store, date string) string {
	t.Helper()
	day, err := store.DayNote(context.Background(), date)
	require.NoError(t, err)
	return day.NoteID
}

func TestLocateRoots(t *testing.T) {
	t.Run("resolves all roots after bootstrap", func(t *testing.T) {
		_, _, roots := newTestService(t)
		assert.NotEmpty(t, roots.Done)
		assert.NotEmpty(t, roots.Todo)
		assert.NotEmpty(t, roots.Canceled)
		assert.NotEmpty(t, roots.Tag)
		assert.NotEmpty(t, roots.Location)
	})

	t.Run("missing root is an error", func(t *testing.T) {
		store, err := notes.Open(notes.Config{Path: ":memory:"}, nil)
		require.NoError(t, err)
		defer store.Close()

		_, err = LocateRoots(context.Background(), store)
		assert.ErrorIs(t, err, notes.ErrRootMissing)
	})
}

func TestSync_TodoTask(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo, label(LabelTodoDate, "2026-09-01"))
	require.NoError(t, svc.Sync(ctx, taskID))

	inTodo, err := store.IsChildOf(ctx, taskID, roots.Todo)
	require.NoError(t, err)
	assert.True(t, inTodo)

	inDone, err := store.IsChildOf(ctx, taskID, roots.Done)
	require.NoError(t, err)
	assert.False(t, inDone)

	css, err := store.LabelValue(ctx, taskID, LabelCSSClass)
	require.NoError(t, err)
	assert.Equal(t, "todo", css)

	parent, err := store.ParentWithRole(ctx, taskID, RoleTodo)
	require.NoError(t, err)
	assert.Equal(t, dayNoteID(t, store, "2026-09-01"), parent)
}

func TestSync_CompletingTaskMovesFiling(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo, label(LabelTodoDate, "2026-09-01"))
	require.NoError(t, svc.Sync(ctx, taskID))

	require.NoError(t, store.AddLabel(ctx, taskID, LabelDoneDate, "2026-09-02"))
	require.NoError(t, svc.Sync(ctx, taskID))

	inTodo, err := store.IsChildOf(ctx, taskID, roots.Todo)
	require.NoError(t, err)
	assert.False(t, inTodo)

	inDone, err := store.IsChildOf(ctx, taskID, roots.Done)
	require.NoError(t, err)
	assert.True(t, inDone)

	css, err := store.LabelValue(ctx, taskID, LabelCSSClass)
	require.NoError(t, err)
	assert.Equal(t, "done", css)

	doneParent, err := store.ParentWithRole(ctx, taskID, RoleDone)
	require.NoError(t, err)
	assert.Equal(t, dayNoteID(t, store, "2026-09-02"), doneParent)

	// Completion vacates the todo slot.
	todoParent, err := store.ParentWithRole(ctx, taskID, RoleTodo)
	require.NoError(t, err)
	assert.Empty(t, todoParent)
}

func TestSync_CancellationWinsOverCompletion(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo,
		label(LabelTodoDate, "2026-09-01"),
		label(LabelDoneDate, "2026-09-02"),
		label(LabelCanceled, "true"))
	require.NoError(t, svc.Sync(ctx, taskID))

	inCanceled, err := store.IsChildOf(ctx, taskID, roots.Canceled)
	require.NoError(t, err)
	assert.True(t, inCanceled)

	inDone, err := store.IsChildOf(ctx, taskID, roots.Done)
	require.NoError(t, err)
	assert.False(t, inDone)

	inTodo, err := store.IsChildOf(ctx, taskID, roots.Todo)
	require.NoError(t, err)
	assert.False(t, inTodo)

	// No day placement in either slot.
	doneParent, err := store.ParentWithRole(ctx, taskID, RoleDone)
	require.NoError(t, err)
	assert.Empty(t, doneParent)
	todoParent, err := store.ParentWithRole(ctx, taskID, RoleTodo)
	require.NoError(t, err)
	assert.Empty(t, todoParent)

	// Canceled tasks present as done.
	css, err := store.LabelValue(ctx, taskID, LabelCSSClass)
	require.NoError(t, err)
	assert.Equal(t, "done", css)
}

func TestSync_DoneWithoutDateValue(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo,
		label(LabelTodoDate, "2026-09-01"),
		label(LabelDoneDate, ""))
	require.NoError(t, svc.Sync(ctx, taskID))

	// Completes the task but leaves the day slots empty.
	inDone, err := store.IsChildOf(ctx, taskID, roots.Done)
	require.NoError(t, err)
	assert.True(t, inDone)

	doneParent, err := store.ParentWithRole(ctx, taskID, RoleDone)
	require.NoError(t, err)
	assert.Empty(t, doneParent)

	todoParent, err := store.ParentWithRole(ctx, taskID, RoleTodo)
	require.NoError(t, err)
	assert.Empty(t, todoParent)
}

func TestSync_TodoDateSwapMovesSingleSlot(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo, label(LabelTodoDate, "2026-09-01"))
	require.NoError(t, svc.Sync(ctx, taskID))

	require.NoError(t, store.SetLabel(ctx, taskID, LabelTodoDate, "2026-09-03"))
	require.NoError(t, svc.Sync(ctx, taskID))

	parent, err := store.ParentWithRole(ctx, taskID, RoleTodo)
	require.NoError(t, err)
	assert.Equal(t, dayNoteID(t, store, "2026-09-03"), parent)

	oldDay := dayNoteID(t, store, "2026-09-01")
	stillThere, err := store.IsChildOf(ctx, taskID, oldDay)
	require.NoError(t, err)
	assert.False(t, stillThere)
}

func TestSync_TagReconciliation(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo,
		label(LabelTag, "work"),
		label(LabelTag, "urgent"))
	require.NoError(t, svc.Sync(ctx, taskID))

	// Both category notes exist and hold the task.
	tagNodes, err := store.ChildNotes(ctx, roots.Tag)
	require.NoError(t, err)
	require.Len(t, tagNodes, 2)
	for _, node := range tagNodes {
		member, err := store.IsChildOf(ctx, taskID, node.NoteID)
		require.NoError(t, err)
		assert.True(t, member, "task should be under tag node %q", node.Title)
	}

	// Dropping a tag removes membership but keeps the category note.
	require.NoError(t, store.RemoveLabel(ctx, taskID, LabelTag))
	require.NoError(t, store.AddLabel(ctx, taskID, LabelTag, "work"))
	require.NoError(t, svc.Sync(ctx, taskID))

	tagNodes, err = store.ChildNotes(ctx, roots.Tag)
	require.NoError(t, err)
	require.Len(t, tagNodes, 2)
	for _, node := range tagNodes {
		value, err := store.LabelValue(ctx, node.NoteID, LabelTagNote)
		require.NoError(t, err)
		member, err := store.IsChildOf(ctx, taskID, node.NoteID)
		require.NoError(t, err)
		assert.Equal(t, value == "work", member)
	}
}

func TestSync_CompletionClearsCategories(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo,
		label(LabelTag, "work"),
		label(LabelLocation, "office"))
	require.NoError(t, svc.Sync(ctx, taskID))

	require.NoError(t, store.AddLabel(ctx, taskID, LabelDoneDate, "2026-09-02"))
	require.NoError(t, svc.Sync(ctx, taskID))

	for _, rootID := range []string{roots.Tag, roots.Location} {
		children, err := store.ChildNotes(ctx, rootID)
		require.NoError(t, err)
		require.NotEmpty(t, children, "category notes must survive completion")
		for _, node := range children {
			member, err := store.IsChildOf(ctx, taskID, node.NoteID)
			require.NoError(t, err)
			assert.False(t, member)
		}
	}
}

func TestSync_Idempotent(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	taskID := createTask(t, store, roots.Todo,
		label(LabelTodoDate, "2026-09-01"),
		label(LabelTag, "work"),
		label(LabelLocation, "office"))

	require.NoError(t, svc.Sync(ctx, taskID))

	attrsBefore, err := store.Attributes(ctx, taskID)
	require.NoError(t, err)
	tagNodesBefore, err := store.ChildNotes(ctx, roots.Tag)
	require.NoError(t, err)

	// A second run with unchanged attributes changes nothing.
	require.NoError(t, svc.Sync(ctx, taskID))

	attrsAfter, err := store.Attributes(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, attrsBefore, attrsAfter)

	tagNodesAfter, err := store.ChildNotes(ctx, roots.Tag)
	require.NoError(t, err)
	assert.Equal(t, tagNodesBefore, tagNodesAfter)
}

func TestSync_SkipsReminders(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	reminderID := createTask(t, store, "",
		label(LabelReminder, "true"),
		label(LabelTodoDate, "2026-09-01"))
	require.NoError(t, svc.Sync(ctx, reminderID))

	inTodo, err := store.IsChildOf(ctx, reminderID, roots.Todo)
	require.NoError(t, err)
	assert.False(t, inTodo)

	css, err := store.LabelValue(ctx, reminderID, LabelCSSClass)
	require.NoError(t, err)
	assert.Empty(t, css)
}

func TestSync_ObserverNotified(t *testing.T) {
	svc, store, roots := newTestService(t)
	ctx := context.Background()

	var seen []string
	svc.SetObserver(func(noteID string) { seen = append(seen, noteID) })

	taskID := createTask(t, store, roots.Todo)
	require.NoError(t, svc.Sync(ctx, taskID))
	assert.Equal(t, []string{taskID}, seen)
}
