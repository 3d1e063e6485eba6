package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(t *testing.T, kv harvest.Store, interval int) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	return NewTracker(kv, clock, interval, zap.NewNop()), clock
}

var testQuery = harvest.Query{Keyword: "x", Department: "", Institution: ""}

func TestMarkProcessed_CountMatchesSetSize(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t, store.NewMemory(), 0)
	_, err := tr.Initialize(context.Background(), testQuery, 100)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		tr.MarkProcessed(fmt.Sprintf("id-%d", i))
		require.Equal(t, i+1, tr.Stats().TotalProcessed)
	}
	// Re-marking an id never inflates the counter past the set size.
	tr.MarkProcessed("id-0")
	require.Equal(t, 50, tr.Stats().TotalProcessed)
}

func TestMarkProcessed_ConcurrentMarksPreserveInvariant(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t, store.NewMemory(), 0)
	_, err := tr.Initialize(context.Background(), testQuery, 500)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.MarkProcessed(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 400, tr.Stats().TotalProcessed)
}

func TestInitialize_ResumesOnExactQueryMatch(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	ctx := context.Background()

	first, _ := newTestTracker(t, kv, 0)
	_, err := first.Initialize(ctx, testQuery, 25)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		first.MarkProcessed(fmt.Sprintf("id-%d", i))
	}
	require.NoError(t, first.SaveCheckpoint(ctx))

	second, _ := newTestTracker(t, kv, 0)
	resumed, err := second.Initialize(ctx, testQuery, 30)
	require.NoError(t, err)
	require.True(t, resumed)

	stats := second.Stats()
	require.True(t, stats.IsResumed)
	require.Equal(t, 12, stats.TotalProcessed)
	require.Equal(t, 30, stats.TotalRequested)
	require.True(t, second.IsProcessed("id-3"))
	require.False(t, second.IsProcessed("id-99"))
}

func TestInitialize_DiscardsSnapshotOnAnyFieldMismatch(t *testing.T) {
	t.Parallel()

	cases := []harvest.Query{
		{Keyword: "y"},
		{Keyword: "x", Department: "bio"},
		{Keyword: "x", Institution: "state u"},
	}
	for _, changed := range cases {
		kv := store.NewMemory()
		ctx := context.Background()

		first, _ := newTestTracker(t, kv, 0)
		_, err := first.Initialize(ctx, testQuery, 10)
		require.NoError(t, err)
		first.MarkProcessed("id-1")
		require.NoError(t, first.SaveCheckpoint(ctx))

		second, _ := newTestTracker(t, kv, 0)
		resumed, err := second.Initialize(ctx, changed, 10)
		require.NoError(t, err)
		require.False(t, resumed)
		require.Equal(t, 0, second.Stats().TotalProcessed)
		require.False(t, second.Stats().IsResumed)
	}
}

func TestShouldCheckpoint_ExactlyAtIntervalMultiples(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t, store.NewMemory(), 10)
	_, err := tr.Initialize(context.Background(), testQuery, 100)
	require.NoError(t, err)

	require.False(t, tr.ShouldCheckpoint()) // zero is not a multiple worth saving

	fired := make([]int, 0, 2)
	for i := 1; i <= 23; i++ {
		tr.MarkProcessed(fmt.Sprintf("id-%d", i))
		if tr.ShouldCheckpoint() {
			fired = append(fired, i)
		}
	}
	require.Equal(t, []int{10, 20}, fired)
}

func TestStats_ProgressPercentageScenario(t *testing.T) {
	t.Parallel()

	tr, clock := newTestTracker(t, store.NewMemory(), 10)
	_, err := tr.Initialize(context.Background(), testQuery, 25)
	require.NoError(t, err)

	for i := 1; i <= 23; i++ {
		tr.MarkProcessed(fmt.Sprintf("id-%d", i))
	}
	clock.Advance(10 * time.Minute)

	stats := tr.Stats()
	require.Equal(t, 92, stats.ProgressPercentage)
	require.Equal(t, 2, stats.Remaining)
	require.InDelta(t, 2.3, stats.RatePerMinute, 0.001)
}

func TestStats_ZeroRequestedIsZeroPercent(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t, store.NewMemory(), 0)
	_, err := tr.Initialize(context.Background(), testQuery, 0)
	require.NoError(t, err)
	require.Equal(t, 0, tr.Stats().ProgressPercentage)
}

func TestSaveCheckpoint_SnapshotRoundTrips(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	ctx := context.Background()

	tr, _ := newTestTracker(t, kv, 0)
	_, err := tr.Initialize(ctx, testQuery, 40)
	require.NoError(t, err)
	ids := []string{"z", "a", "m", "0042"}
	for _, id := range ids {
		tr.MarkProcessed(id)
	}
	require.NoError(t, tr.SaveCheckpoint(ctx))

	reloaded, _ := newTestTracker(t, kv, 0)
	resumed, err := reloaded.Initialize(ctx, testQuery, 40)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, 4, reloaded.Stats().TotalProcessed)
	for _, id := range ids {
		require.True(t, reloaded.IsProcessed(id), "missing %s", id)
	}
}

func TestFinalize_ClearsSnapshot(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	ctx := context.Background()

	tr, _ := newTestTracker(t, kv, 0)
	_, err := tr.Initialize(ctx, testQuery, 5)
	require.NoError(t, err)
	tr.MarkProcessed("only")
	require.NoError(t, tr.SaveCheckpoint(ctx))
	require.NoError(t, tr.Finalize(ctx))

	next, _ := newTestTracker(t, kv, 0)
	resumed, err := next.Initialize(ctx, testQuery, 5)
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, 0, next.Stats().TotalProcessed)
}

type failingPutStore struct {
	harvest.Store
}

func (f *failingPutStore) Put(context.Context, string, []byte) error {
	return errors.New("store down")
}

func TestSaveCheckpoint_FailureIsPersistenceClass(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(t, &failingPutStore{Store: store.NewMemory()}, 0)
	_, err := tr.Initialize(context.Background(), testQuery, 5)
	require.NoError(t, err)
	tr.MarkProcessed("id-1")

	err = tr.SaveCheckpoint(context.Background())
	require.Error(t, err)
	require.Equal(t, harvest.ClassPersistence, harvest.ClassOf(err))
}

func TestInitialize_DiscardsCorruptSnapshot(t *testing.T) {
	t.Parallel()

	kv := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, SnapshotKey, []byte("not json")))

	tr, _ := newTestTracker(t, kv, 0)
	resumed, err := tr.Initialize(ctx, testQuery, 5)
	require.NoError(t, err)
	require.False(t, resumed)
}
