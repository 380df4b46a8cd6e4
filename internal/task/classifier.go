// Package task implements taskd's attribute-driven reconciliation engine.
//
// A task's lifecycle state (done / todo / canceled) and its due and
// completion dates are derived from its raw attributes, then the task's
// filing under the Done/Todo/Canceled roots, the per-tag and per-location
// category notes, and the day containers is converged to match. Every step
// is idempotent: reconciling twice with unchanged attributes performs no
// further graph mutations.
package task

import (
	"github.com/fyrsmithlabs/taskd/internal/notes"
)

// Task attribute names read and written by the engine.
const (
	LabelTodoDate = "todoDate"
	LabelDoneDate = "doneDate"
	LabelCanceled = "canceled"
	LabelLocation = "location"
	LabelTag      = "tag"

	// LabelReminder marks a note as a reminder; reminders are filed
	// manually and are excluded from reconciliation entirely.
	LabelReminder = "reminder"

	// LabelCSSClass carries the presentation state ("done" or "todo").
	LabelCSSClass = "cssClass"

	// Category-note value labels under the tag and location roots.
	LabelTagNote      = "taskTagNote"
	LabelLocationNote = "taskLocationNote"

	// Labels carried by reminder and event notes.
	LabelTodoTime  = "todoTime"
	LabelStartTime = "startTime"
	LabelEndTime   = "endTime"
	LabelUID       = "uid"
)

// Placement roles for single-slot day-container filing.
const (
	RoleDone = "DONE"
	RoleTodo = "TODO"
)

// Classification is a task's derived lifecycle state.
type Classification struct {
	Done     bool
	Canceled bool
	Todo     bool
	DoneDate string
	TodoDate string
}

// Classify derives the lifecycle state from a task's full attribute set.
// Only presence matters for the booleans: any canceled label cancels, any
// doneDate label completes, regardless of value. Cancellation takes priority
// over completion in every downstream placement decision. Missing attributes
// are absent, never errors.
func Classify(attrs []notes.Attribute) Classification {
	var c Classification
	for _, a := range attrs {
		if a.Kind != notes.KindLabel {
			continue
		}
		switch a.Name {
		case LabelCanceled:
			c.Canceled = true
		case LabelDoneDate:
			c.Done = true
			if c.DoneDate == "" {
				c.DoneDate = a.Value
			}
		case LabelTodoDate:
			if c.TodoDate == "" {
				c.TodoDate = a.Value
			}
		}
	}
	c.Todo = !c.Done && !c.Canceled
	return c
}

// Tags returns every tag label value on the task, in attribute order.
func Tags(attrs []notes.Attribute) []string {
	var tags []string
	for _, a := range attrs {
		if a.Kind == notes.KindLabel && a.Name == LabelTag {
			tags = append(tags, a.Value)
		}
	}
	return tags
}

// Location returns the task's location value, or "" when unset. At most one
// location is meaningful; extra location labels are ignored.
func Location(attrs []notes.Attribute) string {
	for _, a := range attrs {
		if a.Kind == notes.KindLabel && a.Name == LabelLocation {
			return a.Value
		}
	}
	return ""
}

// IsReminder reports whether the note carries the reminder marker.
func IsReminder(attrs []notes.Attribute) bool {
	for _, a := range attrs {
		if a.Kind == notes.KindLabel && a.Name == LabelReminder {
			return true
		}
	}
	return false
}
