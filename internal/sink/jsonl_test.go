package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestkit/facultydir/internal/harvest"
)

func TestJSONL_AppendsOneRecordPerLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	q := harvest.Query{Keyword: "bio"}
	require.NoError(t, s.Append(ctx, harvest.NewComplete(
		harvest.RecordSummary{ID: "1", DisplayName: "A"},
		harvest.DetailRecord{Email: "a@x.edu"}, "a@x.edu", now, q)))
	require.NoError(t, s.Append(ctx, harvest.NewPartial(
		harvest.RecordSummary{ID: "2", DisplayName: "B"}, "detail timeout", now, q)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	var lines []harvest.EnrichedRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r harvest.EnrichedRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		lines = append(lines, r)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	require.Equal(t, "1", lines[0].ID)
	require.False(t, lines[0].IsPartial)
	require.Equal(t, "a@x.edu", lines[0].Contact)
	require.Equal(t, "2", lines[1].ID)
	require.True(t, lines[1].IsPartial)
	require.Equal(t, "detail timeout", lines[1].ErrorReason)
}

func TestJSONL_ReopenAppendsWithoutClobbering(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	now := time.Unix(1_700_000_000, 0).UTC()

	first, err := NewJSONL(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(context.Background(), harvest.NewPartial(
		harvest.RecordSummary{ID: "1"}, "x", now, harvest.Query{})))
	require.NoError(t, first.Close())

	second, err := NewJSONL(path)
	require.NoError(t, err)
	require.NoError(t, second.Append(context.Background(), harvest.NewPartial(
		harvest.RecordSummary{ID: "2"}, "y", now, harvest.Query{})))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"id":"1"`)
	require.Contains(t, string(data), `"id":"2"`)
}
