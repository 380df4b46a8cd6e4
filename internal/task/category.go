package task

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
)

// CategoryIndex maintains the value-to-category-note mapping under one
// category root for one value label. Category notes are created lazily the
// first time a value is seen and are never deleted, even when membership
// later becomes empty.
type CategoryIndex struct {
	store   Store
	metrics *Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCategoryIndex creates a category index over the given store.
func NewCategoryIndex(store Store, metrics *Metrics, logger *zap.Logger) *CategoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryIndex{
		store:   store,
		metrics: metrics,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ResolveOrCreate returns the category note under rootID whose labelName
// value equals value, creating it when no existing child matches. For a
// fixed (root, labelName) pair the same value is never given two notes:
// first-use creation is serialized per (root, labelName, value), closing the
// scan-then-create race between concurrent reconciliations.
func (ix *CategoryIndex) ResolveOrCreate(ctx context.Context, rootID, labelName, value string) (string, error) {
	lock := ix.keyLock(rootID + "\x00" + labelName + "\x00" + value)
	lock.Lock()
	defer lock.Unlock()

	children, err := ix.store.ChildNotes(ctx, rootID)
	if err != nil {
		return "", fmt.Errorf("task: scan category root: %w", err)
	}
	for _, child := range children {
		v, err := ix.store.LabelValue(ctx, child.NoteID, labelName)
		if err != nil {
			return "", err
		}
		if v != "" && v == value {
			return child.NoteID, nil
		}
	}

	note, err := ix.store.CreateNote(ctx, notes.CreateNoteParams{
		ParentID: rootID,
		Title:    value,
		Attributes: []notes.Attribute{
			{Kind: notes.KindLabel, Name: labelName, Value: value},
		},
	})
	if err != nil {
		return "", fmt.Errorf("task: create category note %q: %w", value, err)
	}

	ix.metrics.RecordCategoryCreated(ctx, labelName)
	ix.logger.Debug("category note created",
		zap.String("label", labelName),
		zap.String("value", value),
		zap.String("note_id", note.NoteID))

	return note.NoteID, nil
}

func (ix *CategoryIndex) keyLock(key string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	lock, ok := ix.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		ix.locks[key] = lock
	}
	return lock
}
