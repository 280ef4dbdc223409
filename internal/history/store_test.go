package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &QueryRecord{
		Talker:        "abc",
		Question:      "what happened in march",
		Status:        StatusSucceeded,
		ProgressCount: 5,
		StartedAt:     "2026-08-01T10:00:00Z",
		DurationMS:    4200,
	}
	require.NoError(t, s.RecordQuery(ctx, first))
	assert.NotEmpty(t, first.ID)

	require.NoError(t, s.RecordQuery(ctx, &QueryRecord{
		Talker:    "abc",
		Question:  "and then",
		Status:    StatusFailed,
		Error:     "boom",
		StartedAt: "2026-08-02T10:00:00Z",
	}))

	recent, err := s.RecentQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, StatusFailed, recent[0].Status)
	assert.Equal(t, "boom", recent[0].Error)
	assert.Equal(t, "what happened in march", recent[1].Question)
	assert.Equal(t, 5, recent[1].ProgressCount)
}

func TestRecentQueriesLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordQuery(ctx, &QueryRecord{
			Talker: "abc", Question: "q", Status: StatusSucceeded,
		}))
	}
	recent, err := s.RecentQueries(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestImportChecksumLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	found, err := s.FindImportByChecksum(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, s.RecordImport(ctx, &ImportRecord{
		File:         "/tmp/export.json",
		Checksum:     "deadbeef",
		TalkerID:     "abc",
		MessageCount: 12,
	}))

	found, err = s.FindImportByChecksum(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "abc", found.TalkerID)
	assert.Equal(t, 12, found.MessageCount)
}
