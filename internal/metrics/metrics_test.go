package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesHarvesterCollectors(t *testing.T) {
	ObserveSearchPage(10)
	ObserveSearchRetry()
	ObserveRecord("complete")
	ObserveRecord("partial")
	ObserveCheckpoint()
	SetProgress(23, 2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"harvester_search_pages_total",
		"harvester_search_items_total",
		"harvester_records_total",
		"harvester_checkpoints_total",
		"harvester_processed",
		"harvester_remaining",
	} {
		require.True(t, strings.Contains(body, name), "missing %s", name)
	}
}

func TestInit_Idempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}
