package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/harvest"
)

type pageFunc func(offset, limit int) (items []map[string]any, total *int)

func newSearchServer(t *testing.T, fn pageFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, total := fn(offset, limit)
		payload := map[string]any{"items": items}
		if total != nil {
			payload["total"] = *total
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func intPtr(n int) *int { return &n }

func fakeItem(id int) map[string]any {
	return map[string]any{
		"id":           id,
		"display_name": fmt.Sprintf("Person %d", id),
		"institution":  "State U",
		"department":   "Biology",
		"rank":         "Professor",
		"detail_uri":   fmt.Sprintf("https://state.edu/people/%d", id),
	}
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		BackoffBase: time.Millisecond,
	}
}

func TestCollect_PaginatesAndTruncates(t *testing.T) {
	t.Parallel()

	srv, _ := newSearchServer(t, func(offset, limit int) ([]map[string]any, *int) {
		items := make([]map[string]any, 0, limit)
		for i := 0; i < limit; i++ {
			items = append(items, fakeItem(offset+i))
		}
		return items, intPtr(100)
	})

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{Keyword: "bio"}, 25)
	require.NoError(t, err)
	require.Len(t, got, 25)
	// Insertion order from the API, not re-sorted.
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "25", got[24].ID)
}

func TestCollect_NumericIDsDecodeAsStrings(t *testing.T) {
	t.Parallel()

	srv, _ := newSearchServer(t, func(offset, limit int) ([]map[string]any, *int) {
		if offset > 1 {
			return nil, intPtr(2)
		}
		return []map[string]any{
			fakeItem(7),
			{"id": "abc-123", "display_name": "String ID", "detail_uri": "https://x/p"},
		}, intPtr(2)
	})

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "7", got[0].ID)
	require.Equal(t, "abc-123", got[1].ID)
}

func TestCollect_StopsAfterConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()

	srv, requests := newSearchServer(t, func(offset, limit int) ([]map[string]any, *int) {
		return nil, nil // empty pages, total unknown
	})

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{Keyword: "ghost"}, 50)
	require.NoError(t, err)
	require.Empty(t, got)
	require.EqualValues(t, 5, requests.Load())
}

func TestCollect_ZeroTotalTerminatesImmediately(t *testing.T) {
	t.Parallel()

	srv, requests := newSearchServer(t, func(offset, limit int) ([]map[string]any, *int) {
		return nil, intPtr(0)
	})

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{}, 50)
	require.NoError(t, err)
	require.Empty(t, got)
	require.EqualValues(t, 1, requests.Load())
}

func TestCollect_MaxItemsBelowPageSizeIssuesOneRequest(t *testing.T) {
	t.Parallel()

	srv, requests := newSearchServer(t, func(offset, limit int) ([]map[string]any, *int) {
		items := make([]map[string]any, 0, limit)
		for i := 0; i < limit; i++ {
			items = append(items, fakeItem(offset+i))
		}
		return items, intPtr(100)
	})

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.EqualValues(t, 1, requests.Load())
}

func TestCollect_RetriesTransportFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{fakeItem(1)},
			"total": 1,
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 2, calls.Load())
}

func TestCollect_RetryExhaustionReturnsPartialResult(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		offset := r.URL.Query().Get("offset")
		if offset != "1" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		items := make([]map[string]any, 10)
		for i := range items {
			items[i] = fakeItem(i + 1)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": 40})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	got, err := c.Collect(context.Background(), harvest.Query{}, 40)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Len(t, got, 10)
	// First page plus three failed attempts at the second.
	require.EqualValues(t, 4, calls.Load())
}

func TestCollect_RejectsNonPositiveMaxItems(t *testing.T) {
	t.Parallel()

	c := New(testConfig("http://127.0.0.1:0"), nil, zap.NewNop())
	_, err := c.Collect(context.Background(), harvest.Query{}, 0)
	require.Error(t, err)
	require.Equal(t, harvest.ClassValidation, harvest.ClassOf(err))
}

func TestFetchPage_SanitizesQueryBeforeWire(t *testing.T) {
	t.Parallel()

	var seenKeyword string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKeyword = r.URL.Query().Get("keyword")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}, "total": 0})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, zap.NewNop())
	_, err := c.FetchPage(context.Background(), harvest.Query{Keyword: `x'; DROP--<>`}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, "x DROP--", seenKeyword)
}

func TestCollect_ContextCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(srv.URL)
	cfg.BackoffBase = time.Minute
	c := New(cfg, nil, zap.NewNop())
	_, err := c.Collect(ctx, harvest.Query{}, 5)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRetriesExhausted))
}
