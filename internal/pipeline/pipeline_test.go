package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/fetch"
	"github.com/JakeFAU/egp-watch/internal/hash/sha256"
	"github.com/JakeFAU/egp-watch/internal/notify"
	"github.com/JakeFAU/egp-watch/internal/notify/line"
	"github.com/JakeFAU/egp-watch/internal/pipeline"
	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/source"
	"github.com/JakeFAU/egp-watch/internal/storage/memory"
	"github.com/JakeFAU/egp-watch/internal/store"
	collytransport "github.com/JakeFAU/egp-watch/internal/transport/colly"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

// portal mimics the CKAN datastore endpoints.
type portal struct {
	mu        sync.Mutex
	sqlStatus int
	records   string
	sqlCalls  int
	kwCalls   int
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/datastore_search_sql"):
		p.sqlCalls++
		if p.sqlStatus != 0 {
			w.WriteHeader(p.sqlStatus)
			_, _ = w.Write([]byte(`{"success":false}`))
			return
		}
	case strings.HasSuffix(r.URL.Path, "/datastore_search"):
		p.kwCalls++
	default:
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(`{"success":true,"result":{"records":` + p.records + `}}`))
}

// lineInbox collects broadcast texts.
type lineInbox struct {
	mu    sync.Mutex
	texts []string
}

func (l *lineInbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body struct {
		Messages []struct {
			Text string `json:"text"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(raw, &body)
	l.mu.Lock()
	for _, m := range body.Messages {
		l.texts = append(l.texts, m.Text)
	}
	l.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{}`))
}

func (l *lineInbox) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.texts...)
}

type harness struct {
	portal  *portal
	inbox   *lineInbox
	backend *memory.BlobStore
	clock   *fakeClock
	runner  *pipeline.Runner
}

func newHarness(t *testing.T, p *portal) *harness {
	t.Helper()
	portalSrv := httptest.NewServer(p)
	t.Cleanup(portalSrv.Close)
	inbox := &lineInbox{}
	lineSrv := httptest.NewServer(inbox)
	t.Cleanup(lineSrv.Close)

	tr, err := collytransport.New(collytransport.Config{UserAgent: "egpwatch-test", Timeout: 5 * time.Second})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	fetcher := fetch.New(tr, nil, fetch.Config{MaxAttempts: 3, BaseDelay: time.Second}, clock, zap.NewNop())
	cfg := source.Config{
		BaseURL:      portalSrv.URL,
		APIKey:       "key",
		ResourceID:   "rid-1",
		Method:       http.MethodGet,
		Keywords:     []string{"อินทร์บุรี", "สิงห์บุรี"},
		SQLLimit:     200,
		KeywordLimit: 100,
	}
	src := source.New(cfg, fetcher, nil, sha256.New(), zap.NewNop())
	backend := memory.NewBlobStore()
	st := store.New(backend, store.DefaultKey, zap.NewNop())
	sink := line.New(line.Config{Endpoint: lineSrv.URL, Token: "tok"}, tr)
	dispatcher := notify.NewDispatcher(zap.NewNop(), sink)

	return &harness{
		portal:  p,
		inbox:   inbox,
		backend: backend,
		clock:   clock,
		runner:  pipeline.New(src, st, dispatcher, clock, "run-1", zap.NewNop()),
	}
}

func (h *harness) snapshotIDs(t *testing.T) []string {
	t.Helper()
	snap, err := store.New(h.backend, store.DefaultKey, nil).Load(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(snap))
	for _, rec := range snap {
		ids = append(ids, rec.ProjectID())
	}
	return ids
}

func TestRun_FirstSightingNotifiesAndPersists(t *testing.T) {
	h := newHarness(t, &portal{
		records: `[{"project_id":"1","project_name":"X","sum_price_agree":"100","dept_name":"D"}]`,
	})

	report, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, source.TierSQL, report.Tier)
	assert.Equal(t, 1, report.New)
	assert.True(t, report.Persisted)
	texts := h.inbox.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "X")
	assert.Contains(t, texts[0], "100")
	assert.Contains(t, texts[0], "D")
	assert.Equal(t, []string{"1"}, h.snapshotIDs(t))
}

func TestRun_KnownRecordIsSilent(t *testing.T) {
	h := newHarness(t, &portal{
		records: `[{"project_id":"1","project_name":"X","sum_price_agree":"100","dept_name":"D"}]`,
	})
	seed := `[{"project_id":"1","project_name":"X","sum_price_agree":"100","dept_name":"D"}]`
	h.backend.Seed(store.DefaultKey, []byte(seed))

	report, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.New)
	assert.False(t, report.Persisted)
	assert.Empty(t, h.inbox.Texts())
	assert.Zero(t, h.backend.Writes())
	data, err := h.backend.ReadObject(context.Background(), store.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, seed, string(data))
}

func TestRun_RecordsWithoutProjectIDAreDropped(t *testing.T) {
	h := newHarness(t, &portal{
		records: `[{"project_id":"","project_name":"Ghost"},{"project_id":"2","project_name":"Real"}]`,
	})

	report, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.New)
	texts := h.inbox.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Real")
	assert.Equal(t, []string{"2"}, h.snapshotIDs(t))
}

func TestRun_KeywordFallbackReachesSameOutcome(t *testing.T) {
	h := newHarness(t, &portal{
		sqlStatus: http.StatusServiceUnavailable,
		records:   `[{"project_id":"9","project_name":"Y","prov_name":"สิงห์บุรี","sum_price_agree":"5","dept_name":"E"},{"project_id":"10","project_name":"elsewhere","prov_name":"เชียงใหม่"}]`,
	})

	report, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, source.TierKeyword, report.Tier)
	assert.Equal(t, 3, h.portal.sqlCalls)
	assert.Equal(t, 2, h.portal.kwCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.clock.sleeps)
	assert.Equal(t, 6*time.Second, report.Duration)
	texts := h.inbox.Texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Y")
	assert.Equal(t, []string{"9"}, h.snapshotIDs(t))
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t, &portal{
		records: `[{"project_id":"1","project_name":"X"},{"project_id":"2","project_name":"Z"}]`,
	})

	first, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.New)

	second, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.New)
	assert.Len(t, h.inbox.Texts(), 2)
	assert.Equal(t, 1, h.backend.Writes())
	assert.Equal(t, []string{"1", "2"}, h.snapshotIDs(t))
}

func TestRun_AllSourcesExhaustedLeavesSnapshotUntouched(t *testing.T) {
	// SQL answers 502 and keyword queries answer malformed JSON.
	h := newHarness(t, &portal{sqlStatus: http.StatusBadGateway, records: `not json`})

	_, err := h.runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, procurement.ErrAllSourcesExhausted)
	assert.Empty(t, h.inbox.Texts())
	assert.Zero(t, h.backend.Writes())
}

func TestRun_EmptyResultCreatesSnapshot(t *testing.T) {
	h := newHarness(t, &portal{records: `[]`})

	report, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.New)
	assert.True(t, report.Persisted)
	data, err := h.backend.ReadObject(context.Background(), store.DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}
