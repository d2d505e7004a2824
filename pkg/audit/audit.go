// Package audit provides the tamper-evident audit trail: an append-only
// SQLite event store with signed CSV export and HMAC verification.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

// Event types (closed enum).
const (
	EventDataUpload   = "data_upload"
	EventDataAccess   = "data_access"
	EventDataDeletion = "data_deletion"
	EventQuery        = "query_executed"
	EventPIIDetected  = "pii_detected"
	EventSecurity     = "security_event"
	EventFeedback     = "feedback"
	EventKnowledge    = "knowledge_update"
	EventExport       = "export"
)

// Event is one audit record. Events are never mutated after write.
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	User      string         `json:"user,omitempty"`
	Session   string         `json:"session,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
}

// Filter narrows a query over the trail. Zero values are ignored.
type Filter struct {
	EventType string
	User      string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

const createEventsSchemaSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
    id VARCHAR(64) PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    user_id VARCHAR(255),
    session_id VARCHAR(255),
    ip VARCHAR(64),
    resource VARCHAR(255),
    action VARCHAR(255),
    details_json TEXT,
    success BOOLEAN NOT NULL,
    error TEXT
)`

var createEventsIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_events(user_id)`,
}

// Store is the append-only audit log. The signing key is used for
// export signatures only; it never touches stored rows.
type Store struct {
	db        *sql.DB
	secretKey []byte
}

// NewStore opens (creating if needed) the audit store at path.
func NewStore(path string, secretKey []byte) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	if _, err := db.Exec(createEventsSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	for _, idx := range createEventsIndexSQL {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create audit index: %w", err)
		}
	}

	return &Store{db: db, secretKey: secretKey}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Log appends one event and returns its id. A zero timestamp is set to
// now; a missing id is generated.
func (s *Store) Log(ctx context.Context, event Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	detailsJSON := "{}"
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return "", fmt.Errorf("failed to marshal event details: %w", err)
		}
		detailsJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, timestamp, user_id, session_id, ip, resource, action, details_json, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EventType, event.Timestamp, event.User, event.Session,
		event.IP, event.Resource, event.Action, detailsJSON, event.Success, event.Error)
	if err != nil {
		return "", fmt.Errorf("failed to write audit event: %w", err)
	}
	return event.ID, nil
}

// Query returns events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT id, event_type, timestamp, user_id, session_id, ip, resource, action, details_json, success, error
		FROM audit_events WHERE 1=1`
	var args []any

	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.User != "" {
		query += " AND user_id = ?"
		args = append(args, filter.User)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Recent returns the newest events up to limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.Query(ctx, Filter{Limit: limit})
}

// CountsByType aggregates event counts per type over a time range.
func (s *Store) CountsByType(ctx context.Context, since, until time.Time) (map[string]int, error) {
	query := "SELECT event_type, COUNT(*) FROM audit_events WHERE 1=1"
	var args []any
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}
	if !until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, until)
	}
	query += " GROUP BY event_type"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

// Purge deletes events older than retentionDays and returns the count.
func (s *Store) Purge(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		event       Event
		user        sql.NullString
		session     sql.NullString
		ip          sql.NullString
		resource    sql.NullString
		action      sql.NullString
		detailsJSON string
		errMsg      sql.NullString
	)
	if err := rows.Scan(&event.ID, &event.EventType, &event.Timestamp, &user,
		&session, &ip, &resource, &action, &detailsJSON, &event.Success, &errMsg); err != nil {
		return Event{}, fmt.Errorf("failed to scan audit event: %w", err)
	}
	event.User = user.String
	event.Session = session.String
	event.IP = ip.String
	event.Resource = resource.String
	event.Action = action.String
	event.Error = errMsg.String
	if detailsJSON != "" && detailsJSON != "{}" {
		if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}
	return event, nil
}
