package notify

import (
	"context"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Event is the payload broadcast to message brokers for one new record.
type Event struct {
	RunID   string             `json:"run_id"`
	Message string             `json:"message"`
	Record  procurement.Record `json:"record"`
}

// PublisherSink adapts a procurement.Publisher into a Notifier.
type PublisherSink struct {
	name      string
	topic     string
	runID     string
	template  Template
	publisher procurement.Publisher
}

// NewPublisherSink publishes each new record to topic, tagged with runID.
func NewPublisherSink(name, topic, runID string, tmpl Template, publisher procurement.Publisher) *PublisherSink {
	return &PublisherSink{name: name, topic: topic, runID: runID, template: tmpl, publisher: publisher}
}

// Name implements procurement.Notifier.
func (s *PublisherSink) Name() string { return s.name }

// Notify implements procurement.Notifier.
func (s *PublisherSink) Notify(ctx context.Context, rec procurement.Record) error {
	event := Event{RunID: s.runID, Message: FormatMessage(rec, s.template), Record: rec}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		return &procurement.NotifyError{Sink: s.name, ProjectID: rec.ProjectID(), Err: err}
	}
	return nil
}
