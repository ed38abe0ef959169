package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/metrics"
	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Summary counts delivery outcomes for one dispatch.
type Summary struct {
	Delivered int
	Failed    int
}

// Dispatcher sends every new record to every sink, in order.
type Dispatcher struct {
	sinks  []procurement.Notifier
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher over sinks.
func NewDispatcher(logger *zap.Logger, sinks ...procurement.Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Dispatch delivers records one at a time. A failed delivery is logged as a
// *procurement.NotifyError and never stops the remaining deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, records []procurement.Record) Summary {
	var sum Summary
	for _, rec := range records {
		for _, sink := range d.sinks {
			err := sink.Notify(ctx, rec)
			metrics.ObserveNotification(sink.Name(), err)
			if err != nil {
				sum.Failed++
				var notifyErr *procurement.NotifyError
				if !errors.As(err, &notifyErr) {
					notifyErr = &procurement.NotifyError{Sink: sink.Name(), ProjectID: rec.ProjectID(), Err: err}
				}
				d.logger.Warn("notification failed",
					zap.String("sink", notifyErr.Sink),
					zap.String("project_id", notifyErr.ProjectID),
					zap.Error(notifyErr),
				)
				continue
			}
			sum.Delivered++
			d.logger.Info("notification sent",
				zap.String("sink", sink.Name()),
				zap.String("project_id", rec.ProjectID()),
				zap.String("project_name", rec.Field(procurement.FieldProjectName)),
			)
		}
	}
	return sum
}
