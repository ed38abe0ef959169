package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Data.go.th/api/3/action/datastore_search", "data.go.th"},
		{"no scheme", "opend.data.go.th/get-ckan", "opend.data.go.th"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, runsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveCounters(t *testing.T) {
	Init()
	beforeNotify := testutil.ToFloat64(notificationsTotal.WithLabelValues("line", "failure"))
	beforeTier := testutil.ToFloat64(sourceTierTotal.WithLabelValues("sql", "success"))
	beforeNew := testutil.ToFloat64(newRecordsTotal)

	ObserveNotification("line", errors.New("boom"))
	ObserveSourceTier("sql", "success")
	ObserveRecords(5, 2)
	ObserveFetchAttempt("colly", "success", 10*time.Millisecond)

	assert.InDelta(t, beforeNotify+1, testutil.ToFloat64(notificationsTotal.WithLabelValues("line", "failure")), 0.001)
	assert.InDelta(t, beforeTier+1, testutil.ToFloat64(sourceTierTotal.WithLabelValues("sql", "success")), 0.001)
	assert.InDelta(t, beforeNew+2, testutil.ToFloat64(newRecordsTotal), 0.001)
}

func TestObserveRunSetsLastSuccess(t *testing.T) {
	finished := time.Unix(1_700_000_000, 0)
	ObserveRun("success", finished, 3*time.Second)
	assert.InDelta(t, float64(finished.Unix()), testutil.ToFloat64(lastSuccessTimestamp), 0.001)

	ObserveRun("exhausted", finished.Add(time.Hour), time.Second)
	assert.InDelta(t, float64(finished.Unix()), testutil.ToFloat64(lastSuccessTimestamp), 0.001)
}

func TestObserveRunRecordsDuration(t *testing.T) {
	Init()
	ObserveRun("error", time.Now(), 7*time.Second)
	ObserveRun("error", time.Now(), 500*time.Millisecond)

	var m dto.Metric
	hist, ok := runDurationSeconds.WithLabelValues("error").(prometheus.Histogram)
	require.True(t, ok)
	require.NoError(t, hist.Write(&m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(2))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleSum(), 7.5)
}

func TestPushSkipsWithoutGateway(t *testing.T) {
	require.NoError(t, Push(context.Background(), "", "egpwatch"))
}

func TestPushSendsToGateway(t *testing.T) {
	var gotPath, gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ObserveRun("success", time.Now(), time.Second)
	require.NoError(t, Push(context.Background(), ts.URL, "egpwatch"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/egpwatch", gotPath)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"https://data.go.th", "opend.data.go.th", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
