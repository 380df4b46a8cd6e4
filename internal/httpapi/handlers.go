package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05"
)

// parseTime accepts RFC3339 timestamps with or without a zone offset.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(timeLayout, s)
}

// TaskRecord is one entry in the task-alerts listing.
type TaskRecord struct {
	NoteID     string            `json:"noteId"`
	Title      string            `json:"title"`
	Attributes []notes.Attribute `json:"attributes"`
}

// EventRecord is one entry in the event-alerts listing.
type EventRecord struct {
	Name      string `json:"name"`
	StartTime string `json:"startTime"`
}

// NoteResponse carries the ID of a freshly created note.
type NoteResponse struct {
	NoteID string `json:"noteId"`
}

// StatusResponse is a generic success body.
type StatusResponse struct {
	Status string `json:"status"`
}

// handleTaskAlerts lists every task-template and reminder-template note with
// its full attribute set. With ?due=upcoming only notes due today or later
// are returned, and daily-reminder notes are added with a synthesized
// same-day todoDate so daily-recurring reminders always appear due today.
func (s *Server) handleTaskAlerts(c echo.Context) error {
	ctx := c.Request().Context()
	upcoming := c.QueryParam("due") == "upcoming"
	today := time.Now().Format(dateLayout)

	records := []TaskRecord{}
	for _, templateID := range []string{s.templates.Task, s.templates.Reminder} {
		items, err := s.store.NotesWithRelation(ctx, notes.RelationTemplate, templateID)
		if err != nil {
			return err
		}
		for _, item := range items {
			attrs, err := s.store.Attributes(ctx, item.NoteID)
			if err != nil {
				return err
			}
			if upcoming {
				due := labelValue(attrs, task.LabelTodoDate)
				if due == "" || due < today {
					continue
				}
			}
			records = append(records, TaskRecord{NoteID: item.NoteID, Title: item.Title, Attributes: attrs})
		}
	}

	if upcoming {
		daily, err := s.store.NotesWithRelation(ctx, notes.RelationTemplate, s.templates.DailyReminder)
		if err != nil {
			return err
		}
		for _, item := range daily {
			attrs, err := s.store.Attributes(ctx, item.NoteID)
			if err != nil {
				return err
			}
			attrs = append(attrs, notes.Attribute{
				Kind:  notes.KindLabel,
				Name:  task.LabelTodoDate,
				Value: today,
			})
			records = append(records, TaskRecord{NoteID: item.NoteID, Title: item.Title, Attributes: attrs})
		}
	}

	return c.JSON(http.StatusOK, records)
}

// handleEventAlerts lists every event-template note with its start time.
func (s *Server) handleEventAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	events, err := s.store.NotesWithRelation(ctx, notes.RelationTemplate, s.templates.Event)
	if err != nil {
		return err
	}

	records := []EventRecord{}
	for _, event := range events {
		startTime, err := s.store.LabelValue(ctx, event.NoteID, task.LabelStartTime)
		if err != nil {
			return err
		}
		records = append(records, EventRecord{Name: event.Title, StartTime: startTime})
	}
	return c.JSON(http.StatusOK, records)
}

// NewEventRequest is the body for POST /api/v1/events.
type NewEventRequest struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Summary     string `json:"summary"`
	SummaryHTML string `json:"summaryHtml"`
	Location    string `json:"location"`
	FileName    string `json:"fileName"`
	FileData    string `json:"fileData"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
}

// handleNewEvent ingests one calendar event: a day-filed note carrying the
// event template relation and uid/location/startTime/endTime labels, with
// the raw calendar file attached as a child note.
func (s *Server) handleNewEvent(c echo.Context) error {
	ctx := c.Request().Context()

	var req NewEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	startTime, err := parseTime(req.StartTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid startTime")
	}
	endTime, err := parseTime(req.EndTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endTime")
	}

	day, err := s.store.DayNote(ctx, startTime.Format(dateLayout))
	if err != nil {
		return err
	}

	content, mime := req.Summary, "text/plain"
	if req.SummaryHTML != "" {
		content, mime = req.SummaryHTML, "text/html"
	}

	note, err := s.store.CreateNote(ctx, notes.CreateNoteParams{
		ParentID: day.NoteID,
		Title:    req.Name,
		Content:  content,
		Mime:     mime,
		Attributes: []notes.Attribute{
			{Kind: notes.KindRelation, Name: notes.RelationTemplate, Value: s.templates.Event},
			{Kind: notes.KindLabel, Name: task.LabelUID, Value: req.UID},
			{Kind: notes.KindLabel, Name: task.LabelLocation, Value: req.Location},
			{Kind: notes.KindLabel, Name: task.LabelStartTime, Value: startTime.Format(timeLayout)},
			{Kind: notes.KindLabel, Name: task.LabelEndTime, Value: endTime.Format(timeLayout)},
		},
	})
	if err != nil {
		return err
	}

	if req.FileName != "" || req.FileData != "" {
		if _, err := s.store.CreateNote(ctx, notes.CreateNoteParams{
			ParentID: note.NoteID,
			Title:    req.FileName,
			Content:  req.FileData,
			Kind:     "file",
			Mime:     "text/calendar",
		}); err != nil {
			return err
		}
	}

	return c.JSON(http.StatusOK, NoteResponse{NoteID: note.NoteID})
}

// handleDuplicateEvent clones an event one week forward: same title,
// template and location, startTime shifted by seven days, filed under the
// target day.
func (s *Server) handleDuplicateEvent(c echo.Context) error {
	ctx := c.Request().Context()
	noteID := c.Param("id")

	note, err := s.store.Note(ctx, noteID)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return err
	}

	templateID, err := s.store.RelationValue(ctx, noteID, notes.RelationTemplate)
	if err != nil {
		return err
	}
	startRaw, err := s.store.LabelValue(ctx, noteID, task.LabelStartTime)
	if err != nil {
		return err
	}
	location, err := s.store.LabelValue(ctx, noteID, task.LabelLocation)
	if err != nil {
		return err
	}

	startTime, err := parseTime(startRaw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event has no parseable startTime")
	}
	next := startTime.Add(7 * 24 * time.Hour)

	day, err := s.store.DayNote(ctx, next.Format(dateLayout))
	if err != nil {
		return err
	}

	attrs := []notes.Attribute{
		{Kind: notes.KindRelation, Name: notes.RelationTemplate, Value: templateID},
		{Kind: notes.KindLabel, Name: task.LabelStartTime, Value: next.Format(timeLayout)},
	}
	if location != "" {
		attrs = append(attrs, notes.Attribute{Kind: notes.KindLabel, Name: task.LabelLocation, Value: location})
	}

	clone, err := s.store.CreateNote(ctx, notes.CreateNoteParams{
		ParentID:   day.NoteID,
		Title:      note.Title,
		Attributes: attrs,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NoteResponse{NoteID: clone.NoteID})
}

// NewReminderRequest is the body for POST /api/v1/reminders.
type NewReminderRequest struct {
	Time string `json:"time"`
	Task string `json:"task"`
}

// handleNewReminder creates a day-filed reminder note with todoDate/todoTime
// labels derived from the requested time. The reminder marker keeps the note
// out of reconciliation; its filing here is final.
func (s *Server) handleNewReminder(c echo.Context) error {
	ctx := c.Request().Context()

	var req NewReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Task == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task is required")
	}

	at, err := parseTime(req.Time)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid time")
	}
	dateStr := at.Format(dateLayout)

	day, err := s.store.DayNote(ctx, dateStr)
	if err != nil {
		return err
	}

	note, err := s.store.CreateNote(ctx, notes.CreateNoteParams{
		ParentID: day.NoteID,
		Title:    req.Task,
		Attributes: []notes.Attribute{
			{Kind: notes.KindRelation, Name: notes.RelationTemplate, Value: s.templates.Reminder},
			{Kind: notes.KindLabel, Name: task.LabelReminder, Value: "true"},
			{Kind: notes.KindLabel, Name: task.LabelTodoDate, Value: dateStr},
			{Kind: notes.KindLabel, Name: task.LabelTodoTime, Value: at.Format("15:04:05")},
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NoteResponse{NoteID: note.NoteID})
}

// NewTaskRequest is the body for POST /api/v1/tasks.
type NewTaskRequest struct {
	Title string `json:"title"`
}

// handleNewTask creates an empty task under the Todo root.
func (s *Server) handleNewTask(c echo.Context) error {
	ctx := c.Request().Context()

	var req NewTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		req.Title = "new task"
	}

	todoRoot, err := s.store.NoteWithLabel(ctx, notes.LabelTodoRoot)
	if err != nil {
		return err
	}

	note, err := s.store.CreateNote(ctx, notes.CreateNoteParams{
		ParentID: todoRoot.NoteID,
		Title:    req.Title,
		Attributes: []notes.Attribute{
			{Kind: notes.KindRelation, Name: notes.RelationTemplate, Value: s.templates.Task},
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, NoteResponse{NoteID: note.NoteID})
}

// handleSyncTask re-runs reconciliation for one task on demand. Reminder
// notes are a no-op, matching the event-driven path.
func (s *Server) handleSyncTask(c echo.Context) error {
	ctx := c.Request().Context()
	noteID := c.Param("id")

	if _, err := s.store.Note(ctx, noteID); err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return err
	}

	if err := s.svc.Sync(ctx, noteID); err != nil {
		s.logger.Error("manual sync failed", zap.String("note_id", noteID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "synced"})
}

// UpdateTaskAttributesRequest is the body for PUT /api/v1/tasks/:id/attributes.
// Nil fields are left unchanged; empty strings clear the attribute.
type UpdateTaskAttributesRequest struct {
	TodoDate *string   `json:"todoDate"`
	DoneDate *string   `json:"doneDate"`
	Canceled *bool     `json:"canceled"`
	Location *string   `json:"location"`
	Tags     *[]string `json:"tags"`
}

// handleUpdateTaskAttributes mutates a task's lifecycle attributes. The
// store publishes one change event per mutation, which is what drives the
// reconciliation watcher.
func (s *Server) handleUpdateTaskAttributes(c echo.Context) error {
	ctx := c.Request().Context()
	noteID := c.Param("id")

	if _, err := s.store.Note(ctx, noteID); err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return err
	}

	var req UpdateTaskAttributesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	for _, d := range []struct {
		name  string
		value *string
	}{
		{task.LabelTodoDate, req.TodoDate},
		{task.LabelDoneDate, req.DoneDate},
	} {
		if d.value == nil || *d.value == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, *d.value); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+d.name)
		}
	}

	if req.TodoDate != nil {
		if err := s.setOrClearLabel(ctx, noteID, task.LabelTodoDate, *req.TodoDate); err != nil {
			return err
		}
	}
	if req.DoneDate != nil {
		if err := s.setOrClearLabel(ctx, noteID, task.LabelDoneDate, *req.DoneDate); err != nil {
			return err
		}
	}
	if req.Canceled != nil {
		if *req.Canceled {
			if err := s.store.SetLabel(ctx, noteID, task.LabelCanceled, "true"); err != nil {
				return err
			}
		} else {
			if err := s.store.RemoveLabel(ctx, noteID, task.LabelCanceled); err != nil {
				return err
			}
		}
	}
	if req.Location != nil {
		if err := s.setOrClearLabel(ctx, noteID, task.LabelLocation, *req.Location); err != nil {
			return err
		}
	}
	if req.Tags != nil {
		if err := s.store.RemoveLabel(ctx, noteID, task.LabelTag); err != nil {
			return err
		}
		for _, tag := range *req.Tags {
			if err := s.store.AddLabel(ctx, noteID, task.LabelTag, tag); err != nil {
				return err
			}
		}
	}

	return c.JSON(http.StatusOK, StatusResponse{Status: "updated"})
}

func (s *Server) setOrClearLabel(ctx context.Context, noteID, name, value string) error {
	if value == "" {
		return s.store.RemoveLabel(ctx, noteID, name)
	}
	return s.store.SetLabel(ctx, noteID, name, value)
}

func labelValue(attrs []notes.Attribute, name string) string {
	for _, a := range attrs {
		if a.Kind == notes.KindLabel && a.Name == name {
			return a.Value
		}
	}
	return ""
}
