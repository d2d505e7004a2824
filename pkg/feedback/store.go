// Package feedback stores rated user feedback with optional outcome
// tracking and derives weight-refinement proposals from it.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"

	"github.com/datapilot-io/datapilot/pkg/security"
)

// Feedback types (closed enum).
const (
	TypeQueryResult    = "query_result"
	TypeRecommendation = "recommendation"
	TypeScoring        = "scoring"
	TypeInsight        = "insight"
)

// ErrNotFound indicates an unknown feedback id.
var ErrNotFound = errors.New("feedback entry not found")

// Entry is one rated feedback record. Ratings run -2..2.
type Entry struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Rating           int            `json:"rating"`
	Timestamp        time.Time      `json:"timestamp"`
	Query            string         `json:"query,omitempty"`
	Response         string         `json:"response,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	Comment          string         `json:"comment,omitempty"`
	User             string         `json:"user,omitempty"`
	Outcome          string         `json:"outcome,omitempty"`
	OutcomeTimestamp *time.Time     `json:"outcome_timestamp,omitempty"`
}

// Filter narrows History queries. Zero values are ignored;
// MinRating/MaxRating use sentinel bounds when unset.
type Filter struct {
	Type  string
	Since time.Time
	Limit int
}

// Summary aggregates the whole store.
type Summary struct {
	Total          int            `json:"total"`
	Positive       int            `json:"positive"`
	Negative       int            `json:"negative"`
	Neutral        int            `json:"neutral"`
	Average        float64        `json:"average"`
	ByType         map[string]int `json:"by_type"`
	RecentComments []string       `json:"recent_comments"`
}

// NegativePattern groups repeated negative feedback on one query.
type NegativePattern struct {
	Query     string  `json:"query"`
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
	Comments  string  `json:"comments"`
}

const createFeedbackSchemaSQL = `
CREATE TABLE IF NOT EXISTS feedback (
    id VARCHAR(64) PRIMARY KEY,
    type VARCHAR(32) NOT NULL,
    rating INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    query TEXT,
    response TEXT,
    context_json TEXT,
    comment TEXT,
    user_id VARCHAR(255),
    outcome TEXT,
    outcome_timestamp TIMESTAMP
)`

var createFeedbackIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_feedback_timestamp ON feedback(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_type ON feedback(type)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_rating ON feedback(rating)`,
}

// Store is the append-mostly feedback database: inserts plus outcome
// updates on existing rows.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the feedback store at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create feedback directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback store: %w", err)
	}
	if _, err := db.Exec(createFeedbackSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create feedback schema: %w", err)
	}
	for _, idx := range createFeedbackIndexSQL {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create feedback index: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Submit validates and inserts one entry, returning its id.
func (s *Store) Submit(ctx context.Context, entry Entry) (string, error) {
	switch entry.Type {
	case TypeQueryResult, TypeRecommendation, TypeScoring, TypeInsight:
	default:
		return "", security.NewValidationError("unknown feedback type %q", entry.Type)
	}
	if entry.Rating < -2 || entry.Rating > 2 {
		return "", security.NewValidationError("rating must be in [-2, 2], got %d", entry.Rating)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	contextJSON := "{}"
	if len(entry.Context) > 0 {
		data, err := json.Marshal(entry.Context)
		if err != nil {
			return "", fmt.Errorf("failed to marshal feedback context: %w", err)
		}
		contextJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, type, rating, timestamp, query, response, context_json, comment, user_id, outcome, outcome_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		entry.ID, entry.Type, entry.Rating, entry.Timestamp, entry.Query,
		entry.Response, contextJSON, entry.Comment, entry.User)
	if err != nil {
		return "", fmt.Errorf("failed to insert feedback: %w", err)
	}
	return entry.ID, nil
}

// RecordOutcome attaches an outcome to an existing entry. Outcomes
// update feedback rows only; the audit trail is untouched.
func (s *Store) RecordOutcome(ctx context.Context, id, outcome string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE feedback SET outcome = ?, outcome_timestamp = ? WHERE id = ?",
		outcome, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// History returns entries matching the filter, newest first.
func (s *Store) History(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `SELECT id, type, rating, timestamp, query, response, context_json, comment, user_id, outcome, outcome_timestamp
		FROM feedback WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Summarize aggregates the store.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	summary := &Summary{ByType: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN rating > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN rating < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN rating = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(rating), 0)
		FROM feedback`)
	if err := row.Scan(&summary.Total, &summary.Positive, &summary.Negative,
		&summary.Neutral, &summary.Average); err != nil {
		return nil, fmt.Errorf("failed to summarize feedback: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM feedback GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var feedbackType string
		var count int
		if err := rows.Scan(&feedbackType, &count); err != nil {
			return nil, err
		}
		summary.ByType[feedbackType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	commentRows, err := s.db.QueryContext(ctx,
		"SELECT comment FROM feedback WHERE comment != '' ORDER BY timestamp DESC LIMIT 5")
	if err != nil {
		return nil, fmt.Errorf("failed to read recent comments: %w", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		var comment string
		if err := commentRows.Scan(&comment); err != nil {
			return nil, err
		}
		summary.RecentComments = append(summary.RecentComments, comment)
	}
	return summary, commentRows.Err()
}

// NegativePatterns groups negative feedback by query text.
func (s *Store) NegativePatterns(ctx context.Context) ([]NegativePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, COUNT(*), AVG(rating), GROUP_CONCAT(comment, '; ')
		FROM feedback
		WHERE rating < 0 AND query != ''
		GROUP BY query
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to mine negative patterns: %w", err)
	}
	defer rows.Close()

	var patterns []NegativePattern
	for rows.Next() {
		var p NegativePattern
		var comments sql.NullString
		if err := rows.Scan(&p.Query, &p.Count, &p.AvgRating, &comments); err != nil {
			return nil, err
		}
		p.Comments = comments.String
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// RefinementData is the aid query for the refinement analyzer.
type RefinementData struct {
	Total              int                `json:"total"`
	SatisfactionRate   float64            `json:"satisfaction_rate"`
	ScoringByCategory  map[string]int     `json:"scoring_feedback_by_category"`
	OutcomeSuccessRate float64            `json:"outcome_success_rate"`
	AvgRatingByType    map[string]float64 `json:"avg_rating_by_type"`
}

// Refinement computes the aggregate view consumed by the analyzer and
// the /feedback/refinement endpoint.
func (s *Store) Refinement(ctx context.Context) (*RefinementData, error) {
	data := &RefinementData{
		ScoringByCategory: make(map[string]int),
		AvgRatingByType:   make(map[string]float64),
	}

	var positive int
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN rating > 0 THEN 1 ELSE 0 END), 0)
		FROM feedback`)
	if err := row.Scan(&data.Total, &positive); err != nil {
		return nil, fmt.Errorf("failed to compute refinement data: %w", err)
	}
	if data.Total > 0 {
		data.SatisfactionRate = float64(positive) / float64(data.Total)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT type, AVG(rating) FROM feedback GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var feedbackType string
		var avg float64
		if err := rows.Scan(&feedbackType, &avg); err != nil {
			return nil, err
		}
		data.AvgRatingByType[feedbackType] = avg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scoringEntries, err := s.History(ctx, Filter{Type: TypeScoring})
	if err != nil {
		return nil, err
	}
	for _, entry := range scoringEntries {
		if category, ok := entry.Context["category"].(string); ok {
			data.ScoringByCategory[category]++
		}
	}

	var withOutcome, successful int
	outcomeRow := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN lower(outcome) LIKE '%success%'
		                        OR lower(outcome) LIKE '%worked%'
		                        OR lower(outcome) LIKE '%improved%' THEN 1 ELSE 0 END), 0)
		FROM feedback WHERE outcome IS NOT NULL`)
	if err := outcomeRow.Scan(&withOutcome, &successful); err != nil {
		return nil, err
	}
	if withOutcome > 0 {
		data.OutcomeSuccessRate = float64(successful) / float64(withOutcome)
	}

	return data, nil
}

// ExportJSON renders every entry as a JSON array.
func (s *Store) ExportJSON(ctx context.Context) ([]byte, error) {
	entries, err := s.History(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry       Entry
		query       sql.NullString
		response    sql.NullString
		contextJSON sql.NullString
		comment     sql.NullString
		user        sql.NullString
		outcome     sql.NullString
		outcomeTime sql.NullTime
	)
	if err := rows.Scan(&entry.ID, &entry.Type, &entry.Rating, &entry.Timestamp,
		&query, &response, &contextJSON, &comment, &user, &outcome, &outcomeTime); err != nil {
		return Entry{}, fmt.Errorf("failed to scan feedback entry: %w", err)
	}
	entry.Query = query.String
	entry.Response = response.String
	entry.Comment = comment.String
	entry.User = user.String
	entry.Outcome = outcome.String
	if outcomeTime.Valid {
		t := outcomeTime.Time
		entry.OutcomeTimestamp = &t
	}
	if contextJSON.String != "" && contextJSON.String != "{}" {
		if err := json.Unmarshal([]byte(contextJSON.String), &entry.Context); err != nil {
			return Entry{}, fmt.Errorf("failed to unmarshal feedback context: %w", err)
		}
	}
	return entry, nil
}
