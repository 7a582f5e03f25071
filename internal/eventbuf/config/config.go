// Package config defines the typed configuration for constructing a
// dispatcher, with YAML/JSON defaults-then-overlay unmarshalling.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hadyat/eventbuf/internal/eventbuf/dispatch"
	elog "github.com/hadyat/eventbuf/internal/eventbuf/log"
	emetrics "github.com/hadyat/eventbuf/internal/eventbuf/metrics"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

// Config describes the settings needed to construct a dispatcher:
// capacity and overflow behavior for the underlying queue, the fairness
// policy, and the batching dispatcher's size/delay thresholds.
type Config struct {
	Capacity     int    `json:"capacity" yaml:"capacity"`
	DropStrategy string `json:"drop_strategy" yaml:"drop_strategy"`
	Policy       string `json:"policy" yaml:"policy"`
	BatchSize    int    `json:"batch_size" yaml:"batch_size"`
	MaxDelay     string `json:"max_delay" yaml:"max_delay"`
}

// Default returns a Config with sane defaults for a demo/test dispatcher.
func Default() Config {
	return Config{
		Capacity:     1000,
		DropStrategy: "drop_oldest",
		Policy:       "even",
		BatchSize:    50,
		MaxDelay:     "100ms",
	}
}

// UnmarshalJSON applies defaults before overlaying the caller's fields, so
// a partial JSON document still yields a fully populated Config.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aliased := alias(Default())
	if err := json.Unmarshal(data, &aliased); err != nil {
		return err
	}
	*c = Config(aliased)
	return nil
}

// UnmarshalYAML applies defaults before overlaying the caller's fields.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type alias Config
	aliased := alias(Default())
	if err := unmarshal(&aliased); err != nil {
		return err
	}
	*c = Config(aliased)
	return nil
}

func (c Config) dropStrategy() (queue.DropStrategy, error) {
	switch c.DropStrategy {
	case "drop_oldest", "":
		return queue.DropOldest, nil
	case "drop_newest":
		return queue.DropNewest, nil
	default:
		return 0, fmt.Errorf("config: unknown drop_strategy %q", c.DropStrategy)
	}
}

// BuildBatching constructs a batching dispatcher for opaque string-handle,
// string-event use (the shape exercised by the CLI demo and config-driven
// tests). recorder and logger may be nil, in which case no-op
// implementations are used.
func BuildBatching(
	c Config,
	id dispatch.DispatcherID,
	deliver dispatch.DeliveryFunc[string, string],
	recorder emetrics.Recorder,
	logger elog.Modular,
) (*dispatch.Batching[string, string], error) {
	if c.Capacity <= 0 {
		return nil, fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	drop, err := c.dropStrategy()
	if err != nil {
		return nil, err
	}
	pol, err := policy.ByName[string](policy.Name(c.Policy))
	if err != nil {
		return nil, err
	}
	delay, err := time.ParseDuration(c.MaxDelay)
	if err != nil {
		return nil, fmt.Errorf("config: invalid max_delay %q: %w", c.MaxDelay, err)
	}
	if delay <= 0 {
		return nil, fmt.Errorf("config: max_delay must be positive, got %s", delay)
	}
	if c.BatchSize < 1 {
		return nil, fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}

	var opts []dispatch.Option
	if recorder != nil {
		opts = append(opts, dispatch.WithMetrics(recorder))
	}
	if logger != nil {
		opts = append(opts, dispatch.WithLogger(logger))
	}

	return dispatch.NewBatching[string, string](id, pol, c.Capacity, drop, c.BatchSize, delay, deliver, opts...), nil
}
