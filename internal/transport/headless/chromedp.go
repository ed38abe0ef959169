// Package headless implements procurement.Transport by driving headless Chrome.
// It is the fallback of last resort when the portal serves JavaScript challenges.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/transport"
)

// Name identifies this transport in logs and errors.
const Name = "headless"

// Config controls the behavior of the headless transport.
type Config struct {
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	Detector          transport.BlockDetector
}

// Transport fetches JSON documents through a browser tab.
type Transport struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless transport backed by chromedp.
func New(cfg Config) *Transport {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Transport{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Name implements procurement.Transport.
func (t *Transport) Name() string { return Name }

// Close shuts the browser allocator down.
func (t *Transport) Close() {
	t.allocCancel()
}

// Fetch navigates to the request URL and reads the rendered document text.
func (t *Transport) Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error) {
	if req.MethodOrGet() != http.MethodGet {
		return nil, transport.NetworkError(Name, fmt.Errorf("%s: %w", req.MethodOrGet(), procurement.ErrMethodNotSupported))
	}

	taskCtx, taskCancel := chromedp.NewContext(t.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, t.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var text string
	actions := []chromedp.Action{
		t.networkSetupAction(t.mergeHeaders(req.Headers)),
		chromedp.Navigate(req.FullURL()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, transport.NetworkError(Name, fmt.Errorf("chromedp run: %w", err))
	}
	status := meta.statusOr(http.StatusOK)
	return transport.Decode(Name, status, []byte(text), t.cfg.Detector)
}

func (t *Transport) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(t.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (t *Transport) mergeHeaders(requestHeaders http.Header) http.Header {
	merged := transport.CloneHeader(t.cfg.Headers)
	for key, values := range requestHeaders {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	// Chrome manages this header itself and rejects overrides.
	merged.Del("User-Agent")
	return merged
}

type responseMeta struct {
	mu     sync.Mutex
	status int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) statusOr(fallback int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		return fallback
	}
	return m.status
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
