package notes

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Marker labels identifying the well-known singleton notes. Exactly one note
// per marker is expected to exist; Bootstrap establishes that on first run.
const (
	LabelDoneRoot     = "taskDoneRoot"
	LabelTodoRoot     = "taskTodoRoot"
	LabelCanceledRoot = "taskCanceledRoot"
	LabelTagRoot      = "taskTagRoot"
	LabelLocationRoot = "taskLocationRoot"
	LabelCalendarRoot = "calendarRoot"

	LabelTaskTemplate          = "taskTemplate"
	LabelReminderTemplate      = "reminderTemplate"
	LabelDailyReminderTemplate = "dailyReminderTemplate"
	LabelEventTemplate         = "eventTemplate"

	// LabelDateNote marks a day container; its value is the YYYY-MM-DD date.
	LabelDateNote = "dateNote"

	// RelationTemplate points a note at the template note classifying it.
	RelationTemplate = "template"
)

// Bootstrap ensures every well-known singleton note exists, creating the
// missing ones. It is idempotent and safe to run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	wellknown := []struct {
		label string
		title string
	}{
		{LabelDoneRoot, "Done"},
		{LabelTodoRoot, "Todo"},
		{LabelCanceledRoot, "Canceled"},
		{LabelTagRoot, "Tags"},
		{LabelLocationRoot, "Locations"},
		{LabelCalendarRoot, "Calendar"},
		{LabelTaskTemplate, "task template"},
		{LabelReminderTemplate, "reminder template"},
		{LabelDailyReminderTemplate, "daily reminder template"},
		{LabelEventTemplate, "event template"},
	}

	for _, w := range wellknown {
		_, err := s.NoteWithLabel(ctx, w.label)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRootMissing) {
			return fmt.Errorf("notes: bootstrap %s: %w", w.label, err)
		}

		note, err := s.CreateNote(ctx, CreateNoteParams{
			Title: w.title,
			Attributes: []Attribute{
				{Kind: KindLabel, Name: w.label, Value: "true"},
			},
		})
		if err != nil {
			return fmt.Errorf("notes: bootstrap %s: %w", w.label, err)
		}
		s.logger.Info("created well-known note",
			zap.String("label", w.label),
			zap.String("note_id", note.NoteID))
	}
	return nil
}
