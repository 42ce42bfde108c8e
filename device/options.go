// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package device

import (
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-microdal/fiber"
	"github.com/joeycumines/go-microdal/messagebus"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// DefaultTickPeriod is the default interval between scheduler ticks.
const DefaultTickPeriod = 6 * time.Millisecond

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger       *logiface.Logger[logiface.Event]
	onPanic      func(err *PanicError)
	schedOptions []fiber.Option
	busOptions   []messagebus.Option
	tickPeriod   time.Duration
	loggerSet    bool
}

// Option configures a Runtime.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithLogger configures the logger, shared with the scheduler and bus. A nil
// logger disables logging. Defaults to JSON lines on stderr, at the
// informational level.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		opts.loggerSet = true
		return nil
	}}
}

// WithTickPeriod sets the interval of the scheduler tick.
func WithTickPeriod(period time.Duration) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if period <= 0 {
			return fmt.Errorf("device: invalid tick period: %v", period)
		}
		opts.tickPeriod = period
		return nil
	}}
}

// WithPanicHandler sets the handler called by Runtime.Panic. The default
// handler panics with the error.
func WithPanicHandler(handler func(err *PanicError)) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.onPanic = handler
		return nil
	}}
}

// WithSchedulerOptions passes options through to fiber.New. The logger,
// fatal handler and idle hook are set by the runtime.
func WithSchedulerOptions(options ...fiber.Option) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.schedOptions = append(opts.schedOptions, options...)
		return nil
	}}
}

// WithBusOptions passes options through to messagebus.New.
func WithBusOptions(options ...messagebus.Option) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.busOptions = append(opts.busOptions, options...)
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		tickPeriod: DefaultTickPeriod,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.loggerSet {
		cfg.logger = stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
			stumpy.L.WithLevel(logiface.LevelInformational),
		).Logger()
	}
	return cfg, nil
}
