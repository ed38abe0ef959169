package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

type countingTransport struct {
	calls int
}

func (c *countingTransport) Name() string { return "counting" }

func (c *countingTransport) Fetch(context.Context, procurement.Request) (json.RawMessage, error) {
	c.calls++
	return json.RawMessage(`{}`), nil
}

func TestLimiterWaitSpacesRequests(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	target := "https://data.go.th/api/3/action/datastore_search"

	require.NoError(t, l.Wait(ctx, target))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, target))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterIsPerDomain(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://data.go.th/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://opend.data.go.th/b"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(ctx, "https://data.go.th"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWrapHonorsContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	inner := &countingTransport{}
	wrapped := l.Wrap(inner)
	assert.Equal(t, "counting", wrapped.Name())

	req := procurement.Request{URL: "https://data.go.th/x"}
	_, err := wrapped.Fetch(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = wrapped.Fetch(ctx, req)
	var te *procurement.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "counting", te.Transport)
	assert.Equal(t, 1, inner.calls)
}

func TestWaitSharesBucketPerHost(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://Data.go.th/a"))
	require.NoError(t, l.Wait(ctx, "https://other.example/b"))
	assert.Len(t, l.limiters, 2)
	assert.Contains(t, l.limiters, "data.go.th")
}
