package eventservice

import (
	"fmt"
	"io"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultBatchSize is the default maximum number of frames per
	// notification. Each forwarded event is sent at once, as a single frame.
	DefaultBatchSize = 1

	// DefaultFlushInterval is the default maximum time a forwarded event
	// waits for its batch to fill. Zero disables time based flushing.
	DefaultFlushInterval time.Duration = 0
)

// serviceOptions holds configuration options for Service creation.
type serviceOptions struct {
	logger        *logiface.Logger[logiface.Event]
	trace         io.Writer
	poll          PollConfig
	batchSize     int
	flushInterval time.Duration
}

// Option configures a Service.
type Option interface {
	applyService(*serviceOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyServiceFunc func(*serviceOptions) error
}

func (o *optionImpl) applyService(opts *serviceOptions) error {
	return o.applyServiceFunc(opts)
}

// WithLogger configures structured logging. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *serviceOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBatchSize sets the maximum number of frames per notification. Zero
// disables the limit, leaving batches to be flushed by time alone, see
// WithFlushInterval. Clients must accept payloads of n frames, where the
// default of one frame is what a single event characteristic carries.
func WithBatchSize(n int) Option {
	return &optionImpl{func(opts *serviceOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidBatchSize, n)
		}
		opts.batchSize = n
		return nil
	}}
}

// WithFlushInterval sets the maximum time a forwarded event may wait for its
// batch to fill, relevant only with WithBatchSize greater than one, or zero.
// A value <= 0 disables time based flushing, which requires a batch size.
func WithFlushInterval(d time.Duration) Option {
	return &optionImpl{func(opts *serviceOptions) error {
		opts.flushInterval = d
		return nil
	}}
}

// WithPollConfig configures how Serve receives client writes. Zero fields
// use the documented defaults of PollConfig.
func WithPollConfig(cfg PollConfig) Option {
	return &optionImpl{func(opts *serviceOptions) error {
		opts.poll = cfg
		return nil
	}}
}

// WithTrace writes a JSON line to w for every client write handled, and
// every notification sent. Writes to w are serialized.
func WithTrace(w io.Writer) Option {
	return &optionImpl{func(opts *serviceOptions) error {
		opts.trace = w
		return nil
	}}
}

// resolveOptions applies Option instances to serviceOptions.
func resolveOptions(opts []Option) (*serviceOptions, error) {
	cfg := &serviceOptions{
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyService(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.batchSize <= 0 && cfg.flushInterval <= 0 {
		return nil, fmt.Errorf("%w: batch size or flush interval required", ErrInvalidBatchSize)
	}
	return cfg, nil
}
