// Package line delivers announcements through the LINE Messaging API broadcast endpoint.
package line

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/egp-watch/internal/notify"
	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Name identifies this sink in logs and metrics.
const Name = "line"

// DefaultEndpoint is the broadcast API URL.
const DefaultEndpoint = "https://api.line.me/v2/bot/message/broadcast"

// Config configures the LINE sink.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	Template notify.Template
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type broadcastRequest struct {
	Messages []textMessage `json:"messages"`
}

// Notifier posts one text message per record. Deliveries are attempted once.
type Notifier struct {
	cfg       Config
	transport procurement.Transport
}

// New creates a LINE notifier that sends through transport.
func New(cfg Config, transport procurement.Transport) *Notifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Notifier{cfg: cfg, transport: transport}
}

// Name implements procurement.Notifier.
func (n *Notifier) Name() string { return Name }

// Notify implements procurement.Notifier.
func (n *Notifier) Notify(ctx context.Context, rec procurement.Record) error {
	body, err := json.Marshal(broadcastRequest{
		Messages: []textMessage{{Type: "text", Text: notify.FormatMessage(rec, n.cfg.Template)}},
	})
	if err != nil {
		return n.fail(rec, fmt.Errorf("encode broadcast: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Authorization", "Bearer "+n.cfg.Token)
	_, err = n.transport.Fetch(ctx, procurement.Request{
		Method:  http.MethodPost,
		URL:     n.cfg.Endpoint,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return n.fail(rec, err)
	}
	return nil
}

func (n *Notifier) fail(rec procurement.Record, err error) error {
	return &procurement.NotifyError{Sink: Name, ProjectID: rec.ProjectID(), Err: err}
}
