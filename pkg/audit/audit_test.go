package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), []byte("test-secret"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Log(ctx, Event{
		EventType: EventDataUpload,
		User:      "alice",
		Resource:  "cars",
		Details:   map[string]any{"rows": 2},
		Success:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events, err := s.Query(ctx, Filter{EventType: EventDataUpload})
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, id, event.ID)
	assert.Equal(t, "alice", event.User)
	assert.Equal(t, "cars", event.Resource)
	assert.EqualValues(t, 2, event.Details["rows"])
	assert.True(t, event.Success)
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice"} {
		eventType := EventQuery
		if i == 1 {
			eventType = EventDataAccess
		}
		_, err := s.Log(ctx, Event{EventType: eventType, User: user, Success: true})
		require.NoError(t, err)
	}

	events, err := s.Query(ctx, Filter{User: "alice"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.Query(ctx, Filter{EventType: EventDataAccess})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].User)

	events, err = s.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLoggedEventVisibleWithTimestampBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	_, err := s.Log(ctx, Event{EventType: EventQuery, Success: true})
	require.NoError(t, err)

	events, err := s.Query(ctx, Filter{Since: before})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCountsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Log(ctx, Event{EventType: EventQuery, Success: true})
		require.NoError(t, err)
	}
	_, err := s.Log(ctx, Event{EventType: EventSecurity, Success: false})
	require.NoError(t, err)

	counts, err := s.CountsByType(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[EventQuery])
	assert.Equal(t, 1, counts[EventSecurity])
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Log(ctx, Event{
		EventType: EventQuery,
		Timestamp: time.Now().UTC().AddDate(0, 0, -10),
		Success:   true,
	})
	require.NoError(t, err)
	_, err = s.Log(ctx, Event{EventType: EventQuery, Success: true})
	require.NoError(t, err)

	deleted, err := s.Purge(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	// must not panic
	l.Upload(context.Background(), Actor{}, "cars", 1, true, "")
	l.Security(context.Background(), Actor{}, "nope")

	assert.Nil(t, NewLogger(nil))
}

func TestLoggerWritesEvents(t *testing.T) {
	s := newTestStore(t)
	l := NewLogger(s)
	ctx := context.Background()
	actor := Actor{User: "alice", IP: "10.0.0.1"}

	l.Upload(ctx, actor, "cars", 2, true, "")
	l.PIIDetected(ctx, actor, "cars", map[string]int{"ssn": 1})
	l.Security(ctx, actor, "forbidden keyword")

	counts, err := s.CountsByType(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[EventDataUpload])
	assert.Equal(t, 1, counts[EventPIIDetected])
	assert.Equal(t, 1, counts[EventSecurity])
}
