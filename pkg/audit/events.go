package audit

import (
	"context"
	"log/slog"
)

// Actor identifies who performed a request. Filled by the HTTP
// middleware from request headers.
type Actor struct {
	User    string
	Session string
	IP      string
}

// Logger wraps a Store with convenience constructors for the common
// event shapes. A nil Logger drops everything, so call sites never need
// an enabled-check.
type Logger struct {
	store *Store
}

// NewLogger returns a Logger over store, or nil when store is nil.
func NewLogger(store *Store) *Logger {
	if store == nil {
		return nil
	}
	return &Logger{store: store}
}

// log writes the event, logging (never propagating) storage failures.
func (l *Logger) log(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if _, err := l.store.Log(ctx, event); err != nil {
		slog.Error("Audit write failed", "event_type", event.EventType, "error", err)
	}
}

// Upload records a data ingestion.
func (l *Logger) Upload(ctx context.Context, actor Actor, table string, rows int, success bool, errMsg string) {
	l.log(ctx, Event{
		EventType: EventDataUpload,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  table,
		Action:    "upload",
		Details:   map[string]any{"rows": rows},
		Success:   success,
		Error:     errMsg,
	})
}

// Query records an executed question or SQL statement.
func (l *Logger) Query(ctx context.Context, actor Actor, kind, text string, success bool, errMsg string) {
	l.log(ctx, Event{
		EventType: EventQuery,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Action:    kind,
		Details:   map[string]any{"query": text},
		Success:   success,
		Error:     errMsg,
	})
}

// DataAccess records a read of stored table data.
func (l *Logger) DataAccess(ctx context.Context, actor Actor, table, action string) {
	l.log(ctx, Event{
		EventType: EventDataAccess,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  table,
		Action:    action,
		Success:   true,
	})
}

// DataDeletion records a table drop.
func (l *Logger) DataDeletion(ctx context.Context, actor Actor, table string, success bool, errMsg string) {
	l.log(ctx, Event{
		EventType: EventDataDeletion,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  table,
		Action:    "delete",
		Success:   success,
		Error:     errMsg,
	})
}

// PIIDetected records a PII scan that found matches.
func (l *Logger) PIIDetected(ctx context.Context, actor Actor, table string, countsByType map[string]int) {
	details := make(map[string]any, len(countsByType))
	for piiType, count := range countsByType {
		details[piiType] = count
	}
	l.log(ctx, Event{
		EventType: EventPIIDetected,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  table,
		Action:    "scan",
		Details:   details,
		Success:   true,
	})
}

// Security records a rejected request (validator failures, unsafe SQL).
func (l *Logger) Security(ctx context.Context, actor Actor, reason string) {
	l.log(ctx, Event{
		EventType: EventSecurity,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Action:    "rejected",
		Details:   map[string]any{"reason": reason},
		Success:   false,
	})
}

// KnowledgeUpdate records a mutation of the knowledge overlay.
func (l *Logger) KnowledgeUpdate(ctx context.Context, actor Actor, target string, success bool, errMsg string) {
	l.log(ctx, Event{
		EventType: EventKnowledge,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  target,
		Action:    "update",
		Success:   success,
		Error:     errMsg,
	})
}

// Feedback records a feedback submission or outcome update.
func (l *Logger) Feedback(ctx context.Context, actor Actor, action, feedbackID string) {
	l.log(ctx, Event{
		EventType: EventFeedback,
		User:      actor.User,
		Session:   actor.Session,
		IP:        actor.IP,
		Resource:  feedbackID,
		Action:    action,
		Success:   true,
	})
}
