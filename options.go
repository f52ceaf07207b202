package rist

import (
	"time"

	"go.uber.org/zap"
)

// DefaultStatsInterval is how often the engine refreshes snapshots.
const DefaultStatsInterval = time.Second

// Option configures how a Receiver or Sender is built.
type Option func(*options)

type options struct {
	engine        Engine
	log           *zap.Logger
	poll          time.Duration
	statsInterval time.Duration
}

// WithEngine selects the engine. The default is DefaultEngine().
func WithEngine(e Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithLogger sets the logger for the facade and its handle.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPollInterval bounds every blocking native call made by the bridge.
// Smaller values lower cancellation latency at the cost of more wakeups.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

// WithStatsInterval sets how often the engine refreshes statistics.
func WithStatsInterval(d time.Duration) Option {
	return func(o *options) { o.statsInterval = d }
}

func newOptions(opts []Option) (options, error) {
	o := options{
		poll:          DefaultPollInterval,
		statsInterval: DefaultStatsInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = Logger()
	}
	if o.poll <= 0 {
		return o, configErrorf("poll_interval", "must be > 0, got %v", o.poll)
	}
	if o.statsInterval < 0 {
		return o, configErrorf("stats_interval", "must be non-negative, got %v", o.statsInterval)
	}
	if o.engine == nil {
		e, err := DefaultEngine()
		if err != nil {
			return o, err
		}
		o.engine = e
	}
	return o, nil
}
