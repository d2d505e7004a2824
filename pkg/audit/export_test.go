package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportTenEvents(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := s.Log(ctx, Event{EventType: EventQuery, User: "alice", Success: true})
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "audit.csv")
	count, err := s.Export(ctx, time.Time{}, time.Time{}, path)
	require.NoError(t, err)
	require.Equal(t, 10, count)
	return path
}

func TestExportWritesArtifacts(t *testing.T) {
	s := newTestStore(t)
	path := exportTenEvents(t, s)

	for _, suffix := range []string{"", ".sig", ".meta.json"} {
		_, err := os.Stat(path + suffix)
		assert.NoError(t, err, suffix)
	}

	meta, err := ReadExportMeta(path)
	require.NoError(t, err)
	assert.Equal(t, 10, meta.RecordCount)
	assert.Equal(t, "HMAC-SHA256", meta.SignatureAlgorithm)
	assert.Len(t, meta.CSVSHA256, 64)
}

func TestVerifyCleanExport(t *testing.T) {
	s := newTestStore(t)
	path := exportTenEvents(t, s)

	result, err := s.Verify(path)
	require.NoError(t, err)
	assert.True(t, result.HashValid)
	assert.True(t, result.SignatureValid)
	assert.False(t, result.Tampered)
}

func TestVerifyTamperedExport(t *testing.T) {
	s := newTestStore(t)
	path := exportTenEvents(t, s)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("evil,row,appended,,,,,,,true,,\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	result, err := s.Verify(path)
	require.NoError(t, err)
	assert.False(t, result.HashValid)
	assert.False(t, result.SignatureValid)
	assert.True(t, result.Tampered)
}

func TestVerifyWrongKey(t *testing.T) {
	s := newTestStore(t)
	path := exportTenEvents(t, s)

	result, err := VerifyExport(path, []byte("different-secret"))
	require.NoError(t, err)
	assert.True(t, result.HashValid)
	assert.False(t, result.SignatureValid)
	assert.True(t, result.Tampered)
}

func TestExportRangeFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30)
	_, err := s.Log(ctx, Event{EventType: EventQuery, Timestamp: old, Success: true})
	require.NoError(t, err)
	_, err = s.Log(ctx, Event{EventType: EventQuery, Success: true})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "recent.csv")
	count, err := s.Export(ctx, time.Now().UTC().AddDate(0, 0, -7), time.Time{}, path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
