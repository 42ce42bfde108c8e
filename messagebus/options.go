package messagebus

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultMaxDeferred is the default number of events a busy QueueIfBusy
// listener may have waiting.
const DefaultMaxDeferred = 10

// busOptions holds configuration options for Bus creation.
type busOptions struct {
	logger         *logiface.Logger[logiface.Event]
	maxDeferred    int
	metricsEnabled bool
}

// Option configures a Bus.
type Option interface {
	applyBus(*busOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyBusFunc func(*busOptions) error
}

func (o *optionImpl) applyBus(opts *busOptions) error {
	return o.applyBusFunc(opts)
}

// WithLogger configures structured logging. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *busOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMaxDeferred bounds the events queued on each busy QueueIfBusy
// listener, beyond which further events for that listener are dropped.
// Zero means such listeners drop like DropIfBusy.
func WithMaxDeferred(n int) Option {
	return &optionImpl{func(opts *busOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidMaxDeferred, n)
		}
		opts.maxDeferred = n
		return nil
	}}
}

// WithMetrics enables metrics collection, accessible via Bus.Metrics.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *busOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to busOptions.
func resolveOptions(opts []Option) (*busOptions, error) {
	cfg := &busOptions{
		maxDeferred: DefaultMaxDeferred,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyBus(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
