package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordCapture(t *testing.T) {
	RecordCapture("success", "rod", 1500*time.Millisecond)
	RecordCapture("invalid", "", 0)

	body := scrape(t)
	assert.Contains(t, body, `pagesnap_capture_total{driver="rod",outcome="success"} 1`)
	assert.Contains(t, body, `pagesnap_capture_total{driver="",outcome="invalid"} 1`)
	assert.Contains(t, body, `pagesnap_capture_duration_seconds_count{driver="rod"} 1`)
	assert.NotContains(t, body, `pagesnap_capture_duration_seconds_count{driver=""}`)
}

func TestInflightGauge(t *testing.T) {
	CapturesInflight.Inc()
	assert.Contains(t, scrape(t), "pagesnap_capture_inflight 1")
	CapturesInflight.Dec()
	assert.Contains(t, scrape(t), "pagesnap_capture_inflight 0")
}
