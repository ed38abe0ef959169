// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"github.com/fluent/fluent-logger-golang/fluent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// FluentConfig points at a Fluent Bit / Fluentd forward input.
type FluentConfig struct {
	Host      string
	Port      int
	TagPrefix string
}

// Options selects the console encoder and an optional log shipping target.
type Options struct {
	Development bool
	Fluent      FluentConfig
}

// Build returns a logger that also ships entries to Fluent when opts.Fluent.Host
// is set. The returned closer flushes and closes the Fluent client.
func Build(opts Options) (*zap.Logger, func() error, error) {
	logger, err := New(opts.Development)
	if err != nil {
		return nil, nil, err
	}
	if opts.Fluent.Host == "" {
		return logger, func() error { return nil }, nil
	}

	client, err := fluent.New(fluent.Config{
		FluentHost: opts.Fluent.Host,
		FluentPort: opts.Fluent.Port,
		TagPrefix:  opts.Fluent.TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create fluent client: %w", err)
	}
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, NewFluentCore(client, level))
	}))
	return logger, client.Close, nil
}
