// Package notes implements the note/attribute/branch store backing taskd.
//
// Notes form a multi-parent containment graph: a note may be filed under
// several parents at once via branches. Typed attributes (labels and
// relations) attach facts to notes; attribute names are not unique per note,
// so a task can carry any number of "tag" labels. The store publishes an
// event for every attribute mutation so the reconciliation watcher can react.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// memDBSeq names in-memory databases so separate stores do not collide.
var memDBSeq atomic.Int64

// Attribute kinds.
const (
	KindLabel    = "label"
	KindRelation = "relation"
)

var (
	// ErrNoteNotFound indicates the requested note does not exist.
	ErrNoteNotFound = errors.New("note not found")
	// ErrRootMissing indicates a required singleton root note is absent.
	ErrRootMissing = errors.New("root note missing")
	// ErrAmbiguousRoot indicates more than one note carries a singleton marker label.
	ErrAmbiguousRoot = errors.New("ambiguous root note")
)

// Note is a node in the containment graph.
type Note struct {
	NoteID    string `json:"note_id"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	Kind      string `json:"kind"`
	Mime      string `json:"mime,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Attribute is a typed fact (label) or reference (relation) attached to a note.
type Attribute struct {
	ID       int64  `json:"id,omitempty"`
	NoteID   string `json:"note_id,omitempty"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Position int    `json:"position,omitempty"`
}

// AttributeEvent describes a single attribute mutation on a note.
type AttributeEvent struct {
	NoteID string `json:"note_id"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
}

// EventFunc receives attribute-change events. Implementations must not block.
type EventFunc func(AttributeEvent)

// CreateNoteParams holds input for creating a new note.
type CreateNoteParams struct {
	ParentID   string
	Title      string
	Content    string
	Kind       string // defaults to "text"
	Mime       string
	Attributes []Attribute
}

// Config holds store configuration.
type Config struct {
	// Path is the database file path, or ":memory:" for an in-memory store.
	Path string
}

// Store is the SQLite-backed note store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	evMu   sync.Mutex // guards onAttr
	onAttr EventFunc

	dayMu sync.Mutex // serializes day-note first-use creation
}

// Open opens the store, creating the database and schema if needed.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := cfg.Path
	if dsn == ":memory:" {
		// Shared cache keeps the in-memory database alive across pool
		// connections; the unique name isolates stores opened in the same
		// process and the single-connection cap makes it deterministic.
		dsn = fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memDBSeq.Add(1))
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("notes: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("notes: open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("notes: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("notes: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnAttributeChange registers fn to be called after every attribute mutation.
// Passing nil disables event publishing.
func (s *Store) OnAttributeChange(fn EventFunc) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	s.onAttr = fn
}

func (s *Store) publish(noteID, kind, name string) {
	s.evMu.Lock()
	fn := s.onAttr
	s.evMu.Unlock()
	if fn != nil {
		fn(AttributeEvent{NoteID: noteID, Kind: kind, Name: name})
	}
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			note_id    TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL DEFAULT 'text',
			mime       TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS attributes (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			note_id  TEXT NOT NULL,
			kind     TEXT NOT NULL CHECK (kind IN ('label', 'relation')),
			name     TEXT NOT NULL,
			value    TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (note_id) REFERENCES notes(note_id)
		);

		CREATE TABLE IF NOT EXISTS branches (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id TEXT NOT NULL,
			note_id   TEXT NOT NULL,
			role      TEXT NOT NULL DEFAULT '',
			UNIQUE (parent_id, note_id, role),
			FOREIGN KEY (parent_id) REFERENCES notes(note_id),
			FOREIGN KEY (note_id)   REFERENCES notes(note_id)
		);

		CREATE INDEX IF NOT EXISTS idx_attr_note       ON attributes(note_id);
		CREATE INDEX IF NOT EXISTS idx_attr_name_value ON attributes(name, value);
		CREATE INDEX IF NOT EXISTS idx_branch_parent   ON branches(parent_id);
		CREATE INDEX IF NOT EXISTS idx_branch_note     ON branches(note_id, role);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateNote creates a note, files it under ParentID when set, and attaches
// the seed attributes. One attribute-change event is published per attribute.
func (s *Store) CreateNote(ctx context.Context, p CreateNoteParams) (*Note, error) {
	kind := p.Kind
	if kind == "" {
		kind = "text"
	}

	note := &Note{
		NoteID:  uuid.New().String(),
		Title:   p.Title,
		Content: p.Content,
		Kind:    kind,
		Mime:    p.Mime,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notes: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	err = tx.QueryRowContext(ctx, `
		INSERT INTO notes (note_id, title, content, kind, mime)
		VALUES (?, ?, ?, ?, ?)
		RETURNING created_at, updated_at`,
		note.NoteID, note.Title, note.Content, note.Kind, note.Mime,
	).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("notes: insert note: %w", err)
	}

	if p.ParentID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO branches (parent_id, note_id) VALUES (?, ?)`,
			p.ParentID, note.NoteID); err != nil {
			return nil, fmt.Errorf("notes: file under parent: %w", err)
		}
	}

	for i, attr := range p.Attributes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attributes (note_id, kind, name, value, position) VALUES (?, ?, ?, ?, ?)`,
			note.NoteID, attr.Kind, attr.Name, attr.Value, i); err != nil {
			return nil, fmt.Errorf("notes: seed attribute %q: %w", attr.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("notes: commit: %w", err)
	}

	for _, attr := range p.Attributes {
		s.publish(note.NoteID, attr.Kind, attr.Name)
	}

	s.logger.Debug("note created",
		zap.String("note_id", note.NoteID),
		zap.String("title", note.Title),
		zap.String("parent_id", p.ParentID))

	return note, nil
}

// Note returns the note with the given ID.
func (s *Store) Note(ctx context.Context, noteID string) (*Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		SELECT note_id, title, content, kind, mime, created_at, updated_at
		FROM notes WHERE note_id = ?`, noteID,
	).Scan(&n.NoteID, &n.Title, &n.Content, &n.Kind, &n.Mime, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notes: %w: %s", ErrNoteNotFound, noteID)
	}
	if err != nil {
		return nil, fmt.Errorf("notes: load note: %w", err)
	}
	return &n, nil
}

// Attributes returns all attributes of a note in position order.
func (s *Store) Attributes(ctx context.Context, noteID string) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, kind, name, value, position
		FROM attributes WHERE note_id = ? ORDER BY position, id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("notes: load attributes: %w", err)
	}
	defer rows.Close()

	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.ID, &a.NoteID, &a.Kind, &a.Name, &a.Value, &a.Position); err != nil {
			return nil, fmt.Errorf("notes: scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// LabelValue returns the first label value for name, or "" when absent.
// A missing label is never an error.
func (s *Store) LabelValue(ctx context.Context, noteID, name string) (string, error) {
	return s.attrValue(ctx, noteID, KindLabel, name)
}

// RelationValue returns the first relation target for name, or "" when absent.
func (s *Store) RelationValue(ctx context.Context, noteID, name string) (string, error) {
	return s.attrValue(ctx, noteID, KindRelation, name)
}

func (s *Store) attrValue(ctx context.Context, noteID, kind, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM attributes
		WHERE note_id = ? AND kind = ? AND name = ?
		ORDER BY position, id LIMIT 1`, noteID, kind, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("notes: read %s %q: %w", kind, name, err)
	}
	return value, nil
}

// NotesWithLabel returns every note carrying a label name=value.
func (s *Store) NotesWithLabel(ctx context.Context, name, value string) ([]Note, error) {
	return s.notesWithAttr(ctx, KindLabel, name, value)
}

// NotesWithRelation returns every note whose relation name points at value.
func (s *Store) NotesWithRelation(ctx context.Context, name, value string) ([]Note, error) {
	return s.notesWithAttr(ctx, KindRelation, name, value)
}

func (s *Store) notesWithAttr(ctx context.Context, kind, name, value string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.note_id, n.title, n.content, n.kind, n.mime, n.created_at, n.updated_at
		FROM notes n
		JOIN attributes a ON a.note_id = n.note_id
		WHERE a.kind = ? AND a.name = ? AND a.value = ?
		ORDER BY n.created_at, n.note_id`, kind, name, value)
	if err != nil {
		return nil, fmt.Errorf("notes: query by %s %q: %w", kind, name, err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// NoteWithLabel returns the single note carrying the marker label name.
// It returns ErrRootMissing when no note matches and ErrAmbiguousRoot when
// more than one does; both are configuration errors for the caller.
func (s *Store) NoteWithLabel(ctx context.Context, name string) (*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.note_id, n.title, n.content, n.kind, n.mime, n.created_at, n.updated_at
		FROM notes n
		JOIN attributes a ON a.note_id = n.note_id
		WHERE a.kind = 'label' AND a.name = ?
		LIMIT 2`, name)
	if err != nil {
		return nil, fmt.Errorf("notes: lookup root %q: %w", name, err)
	}
	defer rows.Close()

	found, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("notes: %w: %s", ErrRootMissing, name)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("notes: %w: %s", ErrAmbiguousRoot, name)
	}
}

// ChildNotes returns the direct children of a container, across all roles.
func (s *Store) ChildNotes(ctx context.Context, parentID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.note_id, n.title, n.content, n.kind, n.mime, n.created_at, n.updated_at
		FROM notes n
		JOIN branches b ON b.note_id = n.note_id
		WHERE b.parent_id = ?
		ORDER BY b.id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("notes: load children: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// IsChildOf reports whether note is filed under parent (any role).
func (s *Store) IsChildOf(ctx context.Context, noteID, parentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM branches WHERE parent_id = ? AND note_id = ? LIMIT 1`,
		parentID, noteID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notes: check membership: %w", err)
	}
	return true, nil
}

// ToggleNoteInParent makes membership of note under parent match present.
// The operation is idempotent in both directions.
func (s *Store) ToggleNoteInParent(ctx context.Context, present bool, noteID, parentID string) error {
	if present {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO branches (parent_id, note_id) VALUES (?, ?)`,
			parentID, noteID)
		if err != nil {
			return fmt.Errorf("notes: add to parent: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM branches WHERE parent_id = ? AND note_id = ? AND role = ''`,
		parentID, noteID)
	if err != nil {
		return fmt.Errorf("notes: remove from parent: %w", err)
	}
	return nil
}

// SetNoteToParent performs single-slot placement keyed by role: the note's
// previous placement for that role is removed first, then the new one added.
// An empty parentID clears the slot.
func (s *Store) SetNoteToParent(ctx context.Context, noteID, role, parentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("notes: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM branches WHERE note_id = ? AND role = ?`, noteID, role); err != nil {
		return fmt.Errorf("notes: clear %s placement: %w", role, err)
	}
	if parentID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO branches (parent_id, note_id, role) VALUES (?, ?, ?)`,
			parentID, noteID, role); err != nil {
			return fmt.Errorf("notes: set %s placement: %w", role, err)
		}
	}
	return tx.Commit()
}

// ParentWithRole returns the container holding the note's placement for role,
// or "" when the slot is empty.
func (s *Store) ParentWithRole(ctx context.Context, noteID, role string) (string, error) {
	var parentID string
	err := s.db.QueryRowContext(ctx,
		`SELECT parent_id FROM branches WHERE note_id = ? AND role = ?`,
		noteID, role).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("notes: read %s placement: %w", role, err)
	}
	return parentID, nil
}

// ToggleLabel makes the presence of the exact label name=value match present.
// Removal is value-scoped so two labels sharing a name cannot clobber each other.
func (s *Store) ToggleLabel(ctx context.Context, present bool, noteID, name, value string) error {
	if present {
		var one int
		err := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM attributes
			WHERE note_id = ? AND kind = 'label' AND name = ? AND value = ? LIMIT 1`,
			noteID, name, value).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notes: check label %q: %w", name, err)
		}
		return s.AddLabel(ctx, noteID, name, value)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attributes WHERE note_id = ? AND kind = 'label' AND name = ? AND value = ?`,
		noteID, name, value)
	if err != nil {
		return fmt.Errorf("notes: remove label %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(noteID, KindLabel, name)
	}
	return nil
}

// AddLabel attaches one more label name=value to the note. Labels are not
// unique per name; repeated calls add repeated labels.
func (s *Store) AddLabel(ctx context.Context, noteID, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attributes (note_id, kind, name, value, position)
		VALUES (?, 'label', ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM attributes WHERE note_id = ?))`,
		noteID, name, value, noteID)
	if err != nil {
		return fmt.Errorf("notes: add label %q: %w", name, err)
	}
	s.publish(noteID, KindLabel, name)
	return nil
}

// SetLabel replaces every label named name with a single name=value label.
func (s *Store) SetLabel(ctx context.Context, noteID, name, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("notes: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attributes WHERE note_id = ? AND kind = 'label' AND name = ?`,
		noteID, name); err != nil {
		return fmt.Errorf("notes: clear label %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attributes (note_id, kind, name, value, position)
		VALUES (?, 'label', ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM attributes WHERE note_id = ?))`,
		noteID, name, value, noteID); err != nil {
		return fmt.Errorf("notes: set label %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.publish(noteID, KindLabel, name)
	return nil
}

// RemoveLabel deletes every label named name from the note.
func (s *Store) RemoveLabel(ctx context.Context, noteID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attributes WHERE note_id = ? AND kind = 'label' AND name = ?`,
		noteID, name)
	if err != nil {
		return fmt.Errorf("notes: remove label %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(noteID, KindLabel, name)
	}
	return nil
}

// SetRelation replaces every relation named name with a single reference to target.
func (s *Store) SetRelation(ctx context.Context, noteID, name, target string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("notes: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attributes WHERE note_id = ? AND kind = 'relation' AND name = ?`,
		noteID, name); err != nil {
		return fmt.Errorf("notes: clear relation %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attributes (note_id, kind, name, value, position)
		VALUES (?, 'relation', ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM attributes WHERE note_id = ?))`,
		noteID, name, target, noteID); err != nil {
		return fmt.Errorf("notes: set relation %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.publish(noteID, KindRelation, name)
	return nil
}

// DayNote returns the container note for the calendar day date (YYYY-MM-DD),
// creating it under the calendar root if absent.
func (s *Store) DayNote(ctx context.Context, date string) (*Note, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("notes: invalid calendar date %q: %w", date, err)
	}

	// First-use creation is serialized; DayNote is the single-slot target of
	// date placement and must never split across duplicates.
	s.dayMu.Lock()
	defer s.dayMu.Unlock()

	found, err := s.NotesWithLabel(ctx, LabelDateNote, date)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return &found[0], nil
	}

	root, err := s.NoteWithLabel(ctx, LabelCalendarRoot)
	if err != nil {
		return nil, err
	}
	return s.CreateNote(ctx, CreateNoteParams{
		ParentID: root.NoteID,
		Title:    date,
		Attributes: []Attribute{
			{Kind: KindLabel, Name: LabelDateNote, Value: date},
		},
	})
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.NoteID, &n.Title, &n.Content, &n.Kind, &n.Mime, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("notes: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
