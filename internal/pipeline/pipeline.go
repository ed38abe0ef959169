// Package pipeline executes one watcher run: load the snapshot, fetch
// candidate records, diff, notify, persist.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/metrics"
	"github.com/JakeFAU/egp-watch/internal/notify"
	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/source"
	"github.com/JakeFAU/egp-watch/internal/store"
	"github.com/JakeFAU/egp-watch/internal/telemetry"
)

// Run outcomes reported to metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// RecordSource yields the candidate records for a run.
type RecordSource interface {
	Fetch(ctx context.Context) (source.Result, error)
}

// SnapshotStore loads and persists the notification history.
type SnapshotStore interface {
	Load(ctx context.Context) (procurement.Snapshot, error)
	Persist(ctx context.Context, newRecords []procurement.Record, snapshot procurement.Snapshot) (bool, error)
}

// Notifier broadcasts new records.
type Notifier interface {
	Dispatch(ctx context.Context, records []procurement.Record) notify.Summary
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Tier      string
	Fetched   int
	New       int
	Delivered int
	Failed    int
	Persisted bool
	Duration  time.Duration
}

// Runner wires the run stages together.
type Runner struct {
	source   RecordSource
	store    SnapshotStore
	notifier Notifier
	clock    procurement.Clock
	runID    string
	logger   *zap.Logger
}

// New constructs a Runner.
func New(
	src RecordSource,
	st SnapshotStore,
	notifier Notifier,
	clock procurement.Clock,
	runID string,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:   src,
		store:    st,
		notifier: notifier,
		clock:    clock,
		runID:    runID,
		logger:   logger.With(zap.String("run_id", runID)),
	}
}

// Run executes the pipeline once. A source failure aborts before anything is
// notified or written; the error wraps procurement.ErrAllSourcesExhausted.
// Notification failures never fail the run.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", r.runID))

	start := r.clock.Now()
	report := Report{RunID: r.runID}

	snapshot, err := r.store.Load(ctx)
	if err != nil {
		return r.fail(span, start, report, OutcomeError, err)
	}
	r.logger.Info("snapshot loaded", zap.Int("records", len(snapshot)))

	result, err := r.source.Fetch(ctx)
	if err != nil {
		r.logger.Error("all record sources failed, snapshot left untouched", zap.Error(err))
		return r.fail(span, start, report, OutcomeExhausted, err)
	}
	report.Tier = result.Tier
	report.Fetched = len(result.Records)

	fresh := store.Diff(result.Records, snapshot)
	report.New = len(fresh)
	metrics.ObserveRecords(report.Fetched, report.New)
	r.logger.Info("records diffed",
		zap.String("tier", result.Tier),
		zap.Int("fetched", report.Fetched),
		zap.Int("new", report.New),
	)

	summary := r.notifier.Dispatch(ctx, fresh)
	report.Delivered = summary.Delivered
	report.Failed = summary.Failed

	persisted, err := r.store.Persist(ctx, fresh, snapshot)
	if err != nil {
		return r.fail(span, start, report, OutcomeError, err)
	}
	report.Persisted = persisted

	finished := r.clock.Now()
	report.Duration = finished.Sub(start)
	metrics.ObserveRun(OutcomeSuccess, finished, report.Duration)
	span.SetAttributes(
		attribute.String("tier", report.Tier),
		attribute.Int("records.fetched", report.Fetched),
		attribute.Int("records.new", report.New),
	)
	r.logger.Info("run complete",
		zap.Int("new", report.New),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
		zap.Bool("persisted", report.Persisted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Runner) fail(span trace.Span, start time.Time, report Report, outcome string, err error) (Report, error) {
	finished := r.clock.Now()
	report.Duration = finished.Sub(start)
	metrics.ObserveRun(outcome, finished, report.Duration)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	return report, fmt.Errorf("run %s: %w", r.runID, err)
}
