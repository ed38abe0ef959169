package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Poster is the subset of *fluent.Fluent used to ship records.
type Poster interface {
	Post(tag string, message any) error
}

// fluentCore is a zapcore.Core that posts each entry as a map tagged with its level.
type fluentCore struct {
	zapcore.LevelEnabler
	poster Poster
	fields []zapcore.Field
}

// NewFluentCore builds a core that ships entries at or above level.
func NewFluentCore(poster Poster, level zapcore.LevelEnabler) zapcore.Core {
	return &fluentCore{LevelEnabler: level, poster: poster}
}

func (c *fluentCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &fluentCore{LevelEnabler: c.LevelEnabler, poster: c.poster}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *fluentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *fluentCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	data := enc.Fields
	data["level"] = ent.Level.String()
	data["message"] = ent.Message
	data["timestamp"] = ent.Time.UTC().Format(time.RFC3339Nano)
	if ent.LoggerName != "" {
		data["logger"] = ent.LoggerName
	}
	// Shipping failures must not break the run; the console core still has the entry.
	_ = c.poster.Post(ent.Level.String(), data)
	return nil
}

func (c *fluentCore) Sync() error { return nil }
