// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiber

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultStackSize is the size, in bytes, of each fiber stack allocated by
// the default configuration.
const DefaultStackSize = 2048

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	platform  Platform
	allocator Allocator
	logger    *logiface.Logger[logiface.Event]
	onFatal   func(err error)
	idleWait  func()
	idleHook  func()
	registrar EventRegistrar
	stackSize int
	heapSize  int
}

// --- Scheduler Options ---

// Option configures a Scheduler instance.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *optionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithStackSize sets the size of every fiber stack. The size must exceed the
// guard band, see [GuardSize].
func WithStackSize(size int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if size <= GuardSize {
			return fmt.Errorf("%w: %d", ErrInvalidStackSize, size)
		}
		opts.stackSize = size
		return nil
	}}
}

// WithHeapSize bounds the total bytes of fiber stack that the default
// allocator will hand out. Zero or less means unbounded. Ignored if
// WithAllocator is also provided.
func WithHeapSize(size int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.heapSize = size
		return nil
	}}
}

// WithAllocator replaces the stack allocator.
func WithAllocator(allocator Allocator) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.allocator = allocator
		return nil
	}}
}

// WithPlatform replaces the context switch implementation. Defaults to a new
// [GoroutinePlatform].
func WithPlatform(platform Platform) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.platform = platform
		return nil
	}}
}

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFatalHandler sets the function called on unrecoverable conditions,
// e.g. a failed stack allocation. The error is always a [*FatalError]. If the
// handler returns, the operation that failed is abandoned (no fiber is
// created, and [Scheduler.Invoke] runs its function inline). The default
// handler panics.
func WithFatalHandler(fn func(err error)) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.onFatal = fn
		return nil
	}}
}

// WithIdleWait replaces the low power wait performed by the idle fiber when
// the run queue is empty. The default blocks in [IRQ.WaitForInterrupt].
//
// Simulations commonly advance a virtual clock here, e.g. by calling
// [Scheduler.Tick].
func WithIdleWait(fn func()) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.idleWait = fn
		return nil
	}}
}

// WithIdleHook sets a function the idle fiber calls on every pass, before
// deciding whether to wait, to service background work.
func WithIdleHook(fn func()) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.idleHook = fn
		return nil
	}}
}

// WithEventRegistrar binds the registrar consulted by
// [Scheduler.WaitForEvent]. See also [Scheduler.BindEvents].
func WithEventRegistrar(registrar EventRegistrar) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.registrar = registrar
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		stackSize: DefaultStackSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.platform == nil {
		cfg.platform = NewGoroutinePlatform()
	}
	if cfg.allocator == nil {
		cfg.allocator = NewHeap(cfg.heapSize)
	}
	return cfg, nil
}
