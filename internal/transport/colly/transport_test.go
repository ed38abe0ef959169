package collytransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/egp-watch/internal/detector"
	"github.com/JakeFAU/egp-watch/internal/procurement"
)

func newTestTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	tr, err := New(cfg)
	require.NoError(t, err)
	return tr
}

func TestFetchGETWithHeadersAndQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Equal(t, "https://data.go.th/", r.Header.Get("Referer"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "อินทร์บุรี", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success": true, "result": {"records": [{"project_id": "1"}]}}`)
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{
		UserAgent: "test-agent",
		Headers:   http.Header{"Referer": {"https://data.go.th/"}, "Api-Key": {"overridden"}},
	})
	raw, err := tr.Fetch(context.Background(), procurement.Request{
		URL:     srv.URL + "/datastore_search",
		Query:   url.Values{"q": {"อินทร์บุรี"}},
		Headers: http.Header{"Api-Key": {"secret"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true, "result": {"records": [{"project_id": "1"}]}}`, string(raw))
}

func TestFetchPOSTSendsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"sql": "SELECT 1"}`, string(body))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{})
	_, err := tr.Fetch(context.Background(), procurement.Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(`{"sql": "SELECT 1"}`),
	})
	require.NoError(t, err)
}

func TestFetchAllowsRevisits(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{})
	for i := 0; i < 3; i++ {
		_, err := tr.Fetch(context.Background(), procurement.Request{URL: srv.URL})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchHTTPErrorCarriesStatusAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "overloaded")
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{Detector: detector.NewHeuristic()})
	_, err := tr.Fetch(context.Background(), procurement.Request{URL: srv.URL})
	var te *procurement.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Name, te.Transport)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.Equal(t, "overloaded", te.Body)
}

func TestFetchBlockedPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<html><body>The requested URL was rejected.</body></html>")
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{Detector: detector.NewHeuristic()})
	_, err := tr.Fetch(context.Background(), procurement.Request{URL: srv.URL})
	var te *procurement.TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Blocked)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	tr := newTestTransport(t, Config{Timeout: time.Second})
	_, err := tr.Fetch(context.Background(), procurement.Request{URL: addr})
	var te *procurement.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.Status)
}

func TestFetchCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	tr := newTestTransport(t, Config{Timeout: 30 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := tr.Fetch(ctx, procurement.Request{URL: srv.URL})
	require.Error(t, err)
	var te *procurement.TransportError
	require.ErrorAs(t, err, &te)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request kept running after cancellation")
	}
}

func TestMergeHeadersRequestWins(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, Config{Headers: http.Header{"Accept": {"text/html"}, "Referer": {"a"}}})
	merged := tr.mergeHeaders(http.Header{"Accept": {"application/json"}})
	assert.Equal(t, []string{"application/json"}, merged.Values("Accept"))
	assert.Equal(t, "a", merged.Get("Referer"))
	assert.Equal(t, "text/html", tr.cfg.Headers.Get("Accept"), "base headers must not be mutated")
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(t, Config{})
	var result exchange
	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, &result)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusCreated, Body: []byte("body")})
	assert.Equal(t, http.StatusCreated, result.status)
	assert.Equal(t, "body", string(result.body))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, result.err, "boom")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
