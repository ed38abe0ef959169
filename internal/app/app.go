// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gpubsub "cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/api"
	"github.com/JakeFAU/egp-watch/internal/clock/system"
	"github.com/JakeFAU/egp-watch/internal/config"
	"github.com/JakeFAU/egp-watch/internal/detector"
	"github.com/JakeFAU/egp-watch/internal/fetch"
	"github.com/JakeFAU/egp-watch/internal/hash/sha256"
	"github.com/JakeFAU/egp-watch/internal/id/uuid"
	"github.com/JakeFAU/egp-watch/internal/notify"
	"github.com/JakeFAU/egp-watch/internal/notify/line"
	"github.com/JakeFAU/egp-watch/internal/pipeline"
	"github.com/JakeFAU/egp-watch/internal/policy/ratelimit"
	"github.com/JakeFAU/egp-watch/internal/procurement"
	amqppublisher "github.com/JakeFAU/egp-watch/internal/publisher/amqp"
	memorypublisher "github.com/JakeFAU/egp-watch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/egp-watch/internal/publisher/pubsub"
	"github.com/JakeFAU/egp-watch/internal/source"
	"github.com/JakeFAU/egp-watch/internal/storage/gcs"
	"github.com/JakeFAU/egp-watch/internal/storage/local"
	"github.com/JakeFAU/egp-watch/internal/storage/memory"
	"github.com/JakeFAU/egp-watch/internal/store"
	"github.com/JakeFAU/egp-watch/internal/telemetry"
	collytransport "github.com/JakeFAU/egp-watch/internal/transport/colly"
	curltransport "github.com/JakeFAU/egp-watch/internal/transport/curl"
	"github.com/JakeFAU/egp-watch/internal/transport/headless"
)

// ServiceName tags traces and metrics pushed by the watcher.
const ServiceName = "egpwatch"

// App holds all the shared, long-lived services for one process.
// Sinks and the snapshot backend are built lazily by Runner, so the proxy and
// resolve commands never open broker or bucket connections.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	clock    procurement.Clock
	primary  procurement.Transport
	fetcher  *fetch.Fetcher
	resolver *source.Resolver
	source   *source.Source
	preview  *memorypublisher.Publisher
	closers  []func() error
}

// GetLogger returns the run-scoped logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// RunID identifies this process in logs and broadcast events.
func (a *App) RunID() string {
	return a.runID
}

// NewApp builds the transport stack, the retrying fetcher and the record source.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var ids procurement.IDGenerator = uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
		clock:  system.New(),
	}

	tp, err := telemetry.InitTracerProvider(ctx, ServiceName, sdktrace.WithSampler(sdktrace.AlwaysSample()))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	detect := detector.NewHeuristic()
	primary, err := collytransport.New(collytransport.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Headers:         cfg.HTTP.Header(),
		RandomUserAgent: cfg.HTTP.RandomUserAgent,
		ForceHTTP2:      cfg.HTTP.ForceHTTP2,
		Timeout:         cfg.HTTP.Timeout(),
		Detector:        detect,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init primary transport: %w", err)
	}
	a.primary = primary

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RequestsPerSecond})
	fallbacks := make([]procurement.Transport, 0, len(cfg.Fallback.Transports))
	for _, name := range cfg.Fallback.Transports {
		switch strings.ToLower(name) {
		case curltransport.Name:
			fallbacks = append(fallbacks, limiter.Wrap(curltransport.New(curltransport.Config{
				Path:      cfg.Curl.Path,
				UserAgent: cfg.HTTP.UserAgent,
				Headers:   cfg.HTTP.Header(),
				Timeout:   cfg.HTTP.Timeout(),
				Detector:  detect,
			}, nil)))
		case headless.Name:
			browser := headless.New(headless.Config{
				UserAgent:         cfg.HTTP.UserAgent,
				Headers:           cfg.HTTP.Header(),
				NavigationTimeout: cfg.Headless.NavTimeout(),
				Detector:          detect,
			})
			a.closers = append(a.closers, func() error { browser.Close(); return nil })
			fallbacks = append(fallbacks, limiter.Wrap(browser))
		default:
			a.Close()
			return nil, fmt.Errorf("unknown fallback transport %q", name)
		}
	}

	a.fetcher = fetch.New(limiter.Wrap(primary), fallbacks, fetch.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		TransientStatuses: cfg.Retry.TransientStatuses,
	}, a.clock, a.logger.Named("fetch"))

	a.resolver = source.NewResolver(a.fetcher, cfg.Portal.BaseURL, cfg.Portal.APIKey, cfg.Portal.DiscoveryTerm, a.logger.Named("resolver"))
	a.source = source.New(source.Config{
		BaseURL:      cfg.Portal.BaseURL,
		APIKey:       cfg.Portal.APIKey,
		ResourceID:   cfg.Portal.ResourceID,
		Method:       cfg.Portal.Method,
		Keywords:     cfg.Portal.Keywords,
		MatchFields:  cfg.Portal.MatchFields,
		SQLLimit:     cfg.Portal.SQLLimit,
		KeywordLimit: cfg.Portal.KeywordLimit,
		DelegateURL:  cfg.Portal.DelegateURL,
	}, a.fetcher, a.resolver, sha256.New(), a.logger.Named("source"))

	a.logger.Info("application services initialized",
		zap.Int("fallbacks", len(fallbacks)),
		zap.String("resource_id", cfg.Portal.ResourceID),
	)
	return a, nil
}

// Resolver returns the resource discovery client.
func (a *App) Resolver() *source.Resolver {
	return a.resolver
}

// Server builds the delegating endpoint.
func (a *App) Server() *api.Server {
	return api.NewServer(a.source, a.fetcher, a.logger.Named("api"))
}

// Runner builds the snapshot store and broadcast sinks and returns a pipeline
// ready for one run. With dryRun nothing leaves the process: the snapshot
// starts empty and is kept in memory, and announcements are captured for
// Previewed instead of being sent.
func (a *App) Runner(ctx context.Context, dryRun bool) (*pipeline.Runner, error) {
	var (
		backend store.Backend
		key     string
		sinks   []procurement.Notifier
		err     error
	)
	if dryRun {
		a.preview = memorypublisher.New()
		backend, key = memory.NewBlobStore(), store.DefaultKey
		tmpl := notify.Template{Signature: a.cfg.Line.Signature}
		sinks = []procurement.Notifier{notify.NewPublisherSink("preview", "preview", a.runID, tmpl, a.preview)}
		a.logger.Info("dry run: snapshot and sinks are in-memory")
	} else {
		if backend, key, err = a.snapshotBackend(ctx); err != nil {
			return nil, err
		}
		if sinks, err = a.sinks(ctx); err != nil {
			return nil, err
		}
	}
	dispatcher := notify.NewDispatcher(a.logger.Named("notify"), sinks...)
	st := store.New(backend, key, a.logger.Named("store"))
	return pipeline.New(a.source, st, dispatcher, a.clock, a.runID, a.logger.Named("pipeline")), nil
}

// Previewed returns the announcements captured by a dry run, in send order.
func (a *App) Previewed() []notify.Event {
	if a.preview == nil {
		return nil
	}
	msgs := a.preview.Messages()
	events := make([]notify.Event, 0, len(msgs))
	for _, m := range msgs {
		if ev, ok := m.Payload.(notify.Event); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (a *App) snapshotBackend(ctx context.Context) (store.Backend, string, error) {
	snap := a.cfg.Snapshot
	switch strings.ToLower(snap.Backend) {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		backend, err := gcs.New(client, gcs.Config{Bucket: snap.GCSBucket})
		if err != nil {
			return nil, "", err
		}
		a.logger.Info("using gcs snapshot", zap.String("bucket", snap.GCSBucket), zap.String("object", snap.GCSObject))
		return backend, snap.GCSObject, nil
	case "memory":
		a.logger.Info("using in-memory snapshot; history is discarded at exit")
		return memory.NewBlobStore(), store.DefaultKey, nil
	default:
		path := snap.Path
		if path == "" {
			path = store.DefaultKey
		}
		backend, err := local.New(local.Config{BaseDir: filepath.Dir(path)})
		if err != nil {
			return nil, "", err
		}
		return backend, filepath.Base(path), nil
	}
}

func (a *App) sinks(ctx context.Context) ([]procurement.Notifier, error) {
	tmpl := notify.Template{Signature: a.cfg.Line.Signature}
	sinks := []procurement.Notifier{
		line.New(line.Config{
			Endpoint: a.cfg.Line.Endpoint,
			Token:    a.cfg.Line.Token,
			Timeout:  a.cfg.Line.Timeout(),
			Template: tmpl,
		}, a.primary),
	}

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.Topic != "" {
		client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client, a.cfg.PubSub.Topic)
		a.closers = append(a.closers, func() error {
			pub.Close()
			return client.Close()
		})
		sinks = append(sinks, notify.NewPublisherSink("pubsub", a.cfg.PubSub.Topic, a.runID, tmpl, pub))
		a.logger.Info("pubsub sink enabled", zap.String("topic", a.cfg.PubSub.Topic))
	}

	if a.cfg.AMQP.URL != "" {
		pub, err := amqppublisher.Dial(amqppublisher.Config{
			URL:        a.cfg.AMQP.URL,
			Exchange:   a.cfg.AMQP.Exchange,
			RoutingKey: a.cfg.AMQP.RoutingKey,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, notify.NewPublisherSink("amqp", "", a.runID, tmpl, pub))
		a.logger.Info("amqp sink enabled", zap.String("exchange", a.cfg.AMQP.Exchange))
	}
	return sinks, nil
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error shutting down application services", zap.Error(err))
	}
}
