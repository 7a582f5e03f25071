package dispatch

import (
	elog "github.com/hadyat/eventbuf/internal/eventbuf/log"
	emetrics "github.com/hadyat/eventbuf/internal/eventbuf/metrics"
)

type options struct {
	log     elog.Modular
	metrics emetrics.Recorder
}

// Option configures ambient concerns of a dispatcher. Dispatchers work
// correctly with no options at all: logging and metrics default to no-ops.
type Option func(*options)

// WithLogger attaches a structured logger. Defaults to log.Noop().
func WithLogger(l elog.Modular) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics attaches a metrics recorder. Defaults to metrics.Noop().
func WithMetrics(r emetrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

func resolveOptions(opts []Option) options {
	o := options{log: elog.Noop(), metrics: emetrics.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
