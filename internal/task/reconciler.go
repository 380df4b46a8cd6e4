package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
)

// Store is the slice of the note store the engine depends on.
type Store interface {
	Attributes(ctx context.Context, noteID string) ([]notes.Attribute, error)
	ChildNotes(ctx context.Context, parentID string) ([]notes.Note, error)
	LabelValue(ctx context.Context, noteID, name string) (string, error)
	NoteWithLabel(ctx context.Context, name string) (*notes.Note, error)
	CreateNote(ctx context.Context, p notes.CreateNoteParams) (*notes.Note, error)
	ToggleNoteInParent(ctx context.Context, present bool, noteID, parentID string) error
	SetNoteToParent(ctx context.Context, noteID, role, parentID string) error
	ToggleLabel(ctx context.Context, present bool, noteID, name, value string) error
	DayNote(ctx context.Context, date string) (*notes.Note, error)
}

// Roots holds the note IDs of the five filing roots. The engine takes them
// as configuration instead of looking them up mid-algorithm.
type Roots struct {
	Done     string
	Todo     string
	Canceled string
	Tag      string
	Location string
}

// LocateRoots resolves the filing roots by their marker labels. A missing or
// ambiguous root is a configuration error; nothing is created here.
func LocateRoots(ctx context.Context, s Store) (Roots, error) {
	var r Roots
	for _, l := range []struct {
		label string
		dst   *string
	}{
		{notes.LabelDoneRoot, &r.Done},
		{notes.LabelTodoRoot, &r.Todo},
		{notes.LabelCanceledRoot, &r.Canceled},
		{notes.LabelTagRoot, &r.Tag},
		{notes.LabelLocationRoot, &r.Location},
	} {
		note, err := s.NoteWithLabel(ctx, l.label)
		if err != nil {
			return Roots{}, fmt.Errorf("task: locate roots: %w", err)
		}
		*l.dst = note.NoteID
	}
	return r, nil
}

// Service reconciles a task's derived filing with its current attributes.
// The event-driven watcher and the manual sync endpoint are two entry points
// into the same Sync contract.
type Service struct {
	store      Store
	roots      Roots
	categories *CategoryIndex
	metrics    *Metrics
	logger     *zap.Logger

	// observer is notified after a completed run so a UI can refresh.
	// Nil in headless and bulk contexts.
	observer func(noteID string)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the reconciliation service.
func NewService(store Store, roots Roots, categories *CategoryIndex, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		roots:      roots,
		categories: categories,
		metrics:    metrics,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetObserver registers a completion callback invoked after every
// successful run. Passing nil disables notification.
func (s *Service) SetObserver(fn func(noteID string)) {
	s.observer = fn
}

// Sync brings one task's filing fully up to date. Notes carrying the
// reminder marker are skipped without any graph mutation. Runs for the same
// note are serialized; runs for different notes may proceed concurrently.
func (s *Service) Sync(ctx context.Context, noteID string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	attrs, err := s.store.Attributes(ctx, noteID)
	if err != nil {
		s.metrics.RecordRun(ctx, "error", time.Since(start))
		return fmt.Errorf("task: read attributes: %w", err)
	}
	if IsReminder(attrs) {
		s.logger.Debug("skipping reminder note", zap.String("note_id", noteID))
		s.metrics.RecordRun(ctx, "skipped", time.Since(start))
		return nil
	}

	if err := s.Reconcile(ctx, noteID, attrs); err != nil {
		s.metrics.RecordRun(ctx, "error", time.Since(start))
		return err
	}
	s.metrics.RecordRun(ctx, "ok", time.Since(start))

	if s.observer != nil {
		s.observer(noteID)
	}
	return nil
}

// Reconcile applies the full filing algorithm to one task given its current
// attribute set. Callers are expected to have excluded reminder notes. Each
// step is independently idempotent and independently applied: a failure
// aborts the run but leaves the steps already committed in place.
func (s *Service) Reconcile(ctx context.Context, noteID string, attrs []notes.Attribute) error {
	c := Classify(attrs)

	s.logger.Debug("reconciling task",
		zap.String("note_id", noteID),
		zap.Bool("done", c.Done),
		zap.Bool("canceled", c.Canceled),
		zap.Bool("todo", c.Todo))

	// Lifecycle filing: canceled > done > todo.
	if err := s.store.ToggleNoteInParent(ctx, c.Canceled, noteID, s.roots.Canceled); err != nil {
		return fmt.Errorf("task: canceled filing: %w", err)
	}
	if err := s.store.ToggleNoteInParent(ctx, c.Done && !c.Canceled, noteID, s.roots.Done); err != nil {
		return fmt.Errorf("task: done filing: %w", err)
	}
	if err := s.store.ToggleNoteInParent(ctx, c.Todo, noteID, s.roots.Todo); err != nil {
		return fmt.Errorf("task: todo filing: %w", err)
	}

	// Category filing. Completed tasks are removed from every category note.
	var assignedLocations []string
	if loc := Location(attrs); loc != "" {
		assignedLocations = []string{loc}
	}
	if err := s.reconcileAssignments(ctx, noteID, s.roots.Location, assignedLocations, LabelLocationNote, c.Done); err != nil {
		return fmt.Errorf("task: location filing: %w", err)
	}
	if err := s.reconcileAssignments(ctx, noteID, s.roots.Tag, Tags(attrs), LabelTagNote, c.Done); err != nil {
		return fmt.Errorf("task: tag filing: %w", err)
	}

	// Presentation state; the two values are mutually exclusive by construction.
	if err := s.store.ToggleLabel(ctx, c.Done || c.Canceled, noteID, LabelCSSClass, "done"); err != nil {
		return fmt.Errorf("task: css class: %w", err)
	}
	if err := s.store.ToggleLabel(ctx, c.Todo, noteID, LabelCSSClass, "todo"); err != nil {
		return fmt.Errorf("task: css class: %w", err)
	}

	// Single-slot day placement. Cancellation suppresses done-placement and
	// clears the todo slot. A done label without a date value still completes
	// the task but has no day to place it under.
	doneTarget := ""
	if c.Done && !c.Canceled && c.DoneDate != "" {
		day, err := s.store.DayNote(ctx, c.DoneDate)
		if err != nil {
			return fmt.Errorf("task: resolve done day: %w", err)
		}
		doneTarget = day.NoteID
	}
	if err := s.store.SetNoteToParent(ctx, noteID, RoleDone, doneTarget); err != nil {
		return fmt.Errorf("task: done placement: %w", err)
	}

	todoTarget := ""
	if c.Todo && c.TodoDate != "" {
		day, err := s.store.DayNote(ctx, c.TodoDate)
		if err != nil {
			return fmt.Errorf("task: resolve todo day: %w", err)
		}
		todoTarget = day.NoteID
	}
	if err := s.store.SetNoteToParent(ctx, noteID, RoleTodo, todoTarget); err != nil {
		return fmt.Errorf("task: todo placement: %w", err)
	}

	return nil
}

// reconcileAssignments synchronizes the task's membership across every
// category note under rootID so that it is a member of exactly the notes
// whose value is in assigned, or of none at all when done. Desired
// membership is recomputed from scratch on every call; that is what makes
// the operation idempotent and resilient to missed prior updates.
func (s *Service) reconcileAssignments(ctx context.Context, noteID, rootID string, assigned []string, labelName string, done bool) error {
	assignedSet := make(map[string]bool, len(assigned))
	for _, v := range assigned {
		assignedSet[v] = true
	}

	children, err := s.store.ChildNotes(ctx, rootID)
	if err != nil {
		return fmt.Errorf("scan categories: %w", err)
	}

	found := make(map[string]bool)
	for _, child := range children {
		value, err := s.store.LabelValue(ctx, child.NoteID, labelName)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}

		member := !done && assignedSet[value]
		if err := s.store.ToggleNoteInParent(ctx, member, noteID, child.NoteID); err != nil {
			return fmt.Errorf("toggle category %q: %w", value, err)
		}
		if member {
			found[value] = true
		}
	}

	if done {
		return nil
	}

	for _, value := range assigned {
		if found[value] {
			continue
		}
		categoryID, err := s.categories.ResolveOrCreate(ctx, rootID, labelName, value)
		if err != nil {
			return err
		}
		if err := s.store.ToggleNoteInParent(ctx, true, noteID, categoryID); err != nil {
			return fmt.Errorf("add to category %q: %w", value, err)
		}
		found[value] = true
	}
	return nil
}

func (s *Service) noteLock(noteID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[noteID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[noteID] = lock
	}
	return lock
}
