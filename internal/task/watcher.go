package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/notes"
)

// SubjectAttributeChanged is the NATS subject carrying attribute-change events.
const SubjectAttributeChanged = "notes.attribute.changed"

// reconcileTimeout bounds a single event-triggered run.
const reconcileTimeout = 30 * time.Second

// relevantAttributes are the attribute names whose mutation triggers
// reconciliation. Everything else (including the engine's own cssClass
// writes) is ignored.
var relevantAttributes = map[string]bool{
	LabelTodoDate: true,
	LabelDoneDate: true,
	LabelCanceled: true,
	LabelLocation: true,
	LabelTag:      true,
}

// IsRelevantAttribute reports whether a mutation of the named attribute
// should trigger reconciliation.
func IsRelevantAttribute(name string) bool {
	return relevantAttributes[name]
}

// Publish returns a store event hook that forwards attribute-change events
// to NATS. Publish failures are logged and dropped; a missed event is
// recovered by the next change or a manual sync.
func Publish(nc *nats.Conn, logger *zap.Logger) notes.EventFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ev notes.AttributeEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("marshal attribute event", zap.Error(err))
			return
		}
		if err := nc.Publish(SubjectAttributeChanged, data); err != nil {
			logger.Warn("publish attribute event",
				zap.String("note_id", ev.NoteID),
				zap.String("name", ev.Name),
				zap.Error(err))
		}
	}
}

// Watcher subscribes to attribute-change events and triggers reconciliation
// for the affected task. There is no retry layer: a failed run is logged and
// left for the next attribute change or a manual sync.
type Watcher struct {
	nc     *nats.Conn
	svc    *Service
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewWatcher creates an event watcher over the given reconciliation service.
func NewWatcher(nc *nats.Conn, svc *Service, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{nc: nc, svc: svc, logger: logger}
}

// Start subscribes to the attribute-change subject.
func (w *Watcher) Start() error {
	sub, err := w.nc.Subscribe(SubjectAttributeChanged, w.handle)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

// Stop unsubscribes from the attribute-change subject.
func (w *Watcher) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Unsubscribe()
}

func (w *Watcher) handle(msg *nats.Msg) {
	var ev notes.AttributeEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		w.logger.Warn("malformed attribute event", zap.Error(err))
		return
	}
	if !relevantAttributes[ev.Name] {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if err := w.svc.Sync(ctx, ev.NoteID); err != nil {
		w.logger.Error("reconciliation failed",
			zap.String("note_id", ev.NoteID),
			zap.String("attribute", ev.Name),
			zap.Error(err))
	}
}
