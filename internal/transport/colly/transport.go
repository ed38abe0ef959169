// Package collytransport implements procurement.Transport using gocolly.
package collytransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"golang.org/x/net/http2"

	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/transport"
)

// Name identifies this transport in logs and errors.
const Name = "colly"

// Config controls collector behavior.
type Config struct {
	// UserAgent is sent unless the request or RandomUserAgent overrides it.
	UserAgent string
	// Headers are attached to every request; request headers win on conflict.
	Headers http.Header
	// RandomUserAgent rotates a real-browser User-Agent per request.
	RandomUserAgent bool
	// ForceHTTP2 negotiates HTTP/2 explicitly through x/net/http2.
	ForceHTTP2 bool
	Timeout    time.Duration
	Detector   transport.BlockDetector
}

// Transport issues requests through a shared Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type exchange struct {
	status int
	body   []byte
	err    error
}

// New builds a Transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := colly.NewCollector(colly.AllowURLRevisit(), colly.IgnoreRobotsTxt())
	// Error statuses are reported through OnResponse so the body survives for diagnostics.
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	base := newHTTPTransport()
	if cfg.ForceHTTP2 {
		if _, err := http2.ConfigureTransports(base); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}
	c.WithTransport(base)

	return &Transport{cfg: cfg, baseCollector: c}, nil
}

// Name implements procurement.Transport.
func (t *Transport) Name() string { return Name }

// Fetch executes a single HTTP exchange using Colly.
func (t *Transport) Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error) {
	collector := t.buildCollector(ctx)
	var result exchange
	t.configureCollectorHooks(collector, &result)

	if err := t.runCollector(ctx, collector, req, &result); err != nil {
		return nil, err
	}
	return transport.Decode(Name, result.status, result.body, t.cfg.Detector)
}

func (t *Transport) buildCollector(ctx context.Context) *colly.Collector {
	collector := t.baseCollector.Clone()
	// Cancelling ctx aborts the in-flight HTTP request.
	collector.Context = ctx
	// Callbacks are not cloned, so extensions are attached per request.
	if t.cfg.RandomUserAgent {
		extensions.RandomUserAgent(collector)
	}
	return collector
}

func (t *Transport) configureCollectorHooks(hooks collectorHooks, result *exchange) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		result.err = err
		if r != nil {
			result.status = r.StatusCode
			result.body = append([]byte(nil), r.Body...)
		}
	})
}

func (t *Transport) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	req procurement.Request,
	result *exchange,
) error {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	headers := t.mergeHeaders(req.Headers)

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(req.MethodOrGet(), req.FullURL(), body, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return transport.NetworkError(Name, fmt.Errorf("request canceled: %w", ctx.Err()))
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if err != nil && result.status == 0 {
			return transport.NetworkError(Name, err)
		}
		if result.status == 0 && result.body == nil {
			return transport.NetworkError(Name, errors.New("colly produced no response"))
		}
		return nil
	}
}

func (t *Transport) mergeHeaders(requestHeaders http.Header) http.Header {
	merged := transport.CloneHeader(t.cfg.Headers)
	for key, values := range requestHeaders {
		merged.Del(key)
		for _, v := range values {
			merged.Add(key, v)
		}
	}
	return merged
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
