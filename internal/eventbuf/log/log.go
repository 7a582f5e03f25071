// Package log defines the fields-branching leveled logger interface used
// throughout the eventbuf ambient stack, backed by zap rather than log/slog.
package log

import "go.uber.org/zap"

// Modular is a log printer that allows branching new modules by attaching
// fields.
type Modular interface {
	WithFields(fields map[string]string) Modular

	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Infof(format string, v ...any)
	Debugf(format string, v ...any)
}

// zapLogger adapts a *zap.SugaredLogger to Modular.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap wraps a *zap.Logger as a Modular.
func NewZap(l *zap.Logger) Modular {
	return &zapLogger{s: l.Sugar()}
}

func (l *zapLogger) WithFields(fields map[string]string) Modular {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{s: l.s.With(args...)}
}

func (l *zapLogger) Errorf(format string, v ...any) { l.s.Errorf(format, v...) }
func (l *zapLogger) Warnf(format string, v ...any)  { l.s.Warnf(format, v...) }
func (l *zapLogger) Infof(format string, v ...any)  { l.s.Infof(format, v...) }
func (l *zapLogger) Debugf(format string, v ...any) { l.s.Debugf(format, v...) }

// noop discards everything; used as the zero-value default so dispatchers
// never need a nil check before logging.
type noop struct{}

// Noop returns a Modular that discards all messages.
func Noop() Modular { return noop{} }

func (noop) WithFields(map[string]string) Modular { return noop{} }
func (noop) Errorf(string, ...any)                 {}
func (noop) Warnf(string, ...any)                  {}
func (noop) Infof(string, ...any)                  {}
func (noop) Debugf(string, ...any)                 {}
