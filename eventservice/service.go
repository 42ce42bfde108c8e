package eventservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-microdal/messagebus"
	"github.com/joeycumines/logiface"
)

type (
	// Bus is the subset of [*messagebus.Bus] used by a Service.
	Bus interface {
		Fire(source, value uint16) messagebus.Event
		Listen(id, value uint16, cb messagebus.Callback, flags messagebus.Flags) bool
		Ignore(id, value uint16, cb messagebus.Callback) int
		ElementAt(n int) *messagebus.Listener
	}

	// Link is the connection to the client.
	Link interface {
		// Connected reports whether a client is connected.
		Connected() bool
		// Notify sends payload to the client, as a single notification.
		Notify(ctx context.Context, payload []byte) error
	}

	// WriteKind identifies the endpoint a client wrote to.
	WriteKind uint8

	// Write is a single write, by the client, for Serve.
	Write struct {
		Data []byte
		Kind WriteKind
	}

	// Service forwards events between a Bus and a client.
	Service struct {
		_ [0]func() // prevent comparison

		bus     Bus
		link    Link
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		trace   *tracer
		batcher *batcher
		poll    PollConfig

		mu     sync.Mutex
		offset int
		closed bool
	}
)

const (
	// ClientEvent writes are frames to fire as events.
	ClientEvent WriteKind = iota + 1
	// ClientRequirements writes are frames to subscribe to.
	ClientRequirements
)

func (k WriteKind) String() string {
	switch k {
	case ClientEvent:
		return `client_event`
	case ClientRequirements:
		return `client_requirements`
	default:
		return fmt.Sprintf("WriteKind(%d)", uint8(k))
	}
}

// New returns a Service bridging bus to link. It must be closed, using
// Shutdown or Close, to release its resources.
func New(bus Bus, link Link, opts ...Option) (*Service, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if link == nil {
		return nil, ErrNilLink
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Service{
		bus:     bus,
		link:    link,
		logger:  cfg.logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{time.Second: 1, time.Minute: 10}),
		trace:   newTracer(cfg.trace),
		poll:    cfg.poll,
	}
	s.batcher = newBatcher(cfg.batchSize, cfg.flushInterval, s.notify)
	return s, nil
}

// OnClientEvent fires an event on the bus for every frame in data. A trailing
// partial frame is ignored, and reported as ErrPartialFrame.
func (s *Service) OnClientEvent(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	frames, err := DecodeFrames(data)
	s.trace.record(ClientEvent.String(), frames, err)
	for _, f := range frames {
		s.bus.Fire(f.Type, f.Reason)
	}
	return err
}

// OnClientRequirements subscribes the client to bus events matching each
// frame in data, either field of which may be messagebus.IDAny or
// messagebus.EvtAny. A trailing partial frame is ignored, and reported as
// ErrPartialFrame.
func (s *Service) OnClientRequirements(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	frames, err := DecodeFrames(data)
	s.trace.record(ClientRequirements.String(), frames, err)
	for _, f := range frames {
		if s.bus.Listen(f.Type, f.Reason, s.forwarder(), messagebus.Immediate) {
			s.logger.Debug().
				Int(`id`, int(f.Type)).
				Int(`value`, int(f.Reason)).
				Log(`client subscribed`)
		}
	}
	return err
}

// ReadRequirements returns the next of the bus's listeners, as a frame, or
// an empty payload once every listener has been read. The position is reset
// by IdleTick, once the client disconnects.
func (s *Service) ReadRequirements() []byte {
	s.mu.Lock()
	n := s.offset
	s.offset++
	s.mu.Unlock()

	l := s.bus.ElementAt(n)
	if l == nil {
		s.trace.record(`read_requirements`, nil, nil)
		return []byte{}
	}
	f := Frame{Type: l.ID(), Reason: l.Value()}
	s.trace.record(`read_requirements`, []Frame{f}, nil)
	return EncodeFrame(f)
}

// Serve handles client writes received from writes, in batches configured
// by WithPollConfig, until ctx ends, writes is closed, or a write fails for
// any reason other than ErrPartialFrame. It returns nil if writes was closed.
func (s *Service) Serve(ctx context.Context, writes <-chan Write) error {
	for {
		n, err := s.serveBatch(ctx, writes)
		if n != 0 {
			s.logger.Trace().
				Int(`writes`, n).
				Log(`client writes handled`)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *Service) handle(w Write) error {
	var err error
	switch w.Kind {
	case ClientEvent:
		err = s.OnClientEvent(w.Data)
	case ClientRequirements:
		err = s.OnClientRequirements(w.Data)
	default:
		return fmt.Errorf("eventservice: unknown write kind: %s", w.Kind)
	}
	if errors.Is(err, ErrPartialFrame) {
		s.warn(`partial_frame`, err, `client write truncated`)
		return nil
	}
	return err
}

// IdleTick drops the client's subscriptions, and rewinds ReadRequirements,
// once the client has disconnected.
func (s *Service) IdleTick() {
	if s.link.Connected() {
		return
	}
	s.mu.Lock()
	if s.offset == 0 {
		s.mu.Unlock()
		return
	}
	s.offset = 0
	s.mu.Unlock()

	removed := s.bus.Ignore(messagebus.IDAny, messagebus.EvtAny, s.forwarder())
	s.logger.Debug().
		Int(`removed`, removed).
		Log(`client disconnected`)
}

// IsIdleCallbackNeeded reports whether IdleTick has cleanup to do.
func (s *Service) IsIdleCallbackNeeded() bool {
	s.mu.Lock()
	pending := s.offset != 0 && !s.closed
	s.mu.Unlock()
	return pending && !s.link.Connected()
}

// Shutdown unsubscribes the client, then waits for any pending
// notifications to be sent, or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.markClosed()
	return s.batcher.shutdown(ctx)
}

// Close unsubscribes the client, discarding pending notifications.
func (s *Service) Close() error {
	s.markClosed()
	s.batcher.close()
	return nil
}

func (s *Service) markClosed() {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed {
		s.bus.Ignore(messagebus.IDAny, messagebus.EvtAny, s.forwarder())
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// forwarder identifies the client's subscriptions on the bus.
func (s *Service) forwarder() messagebus.Callback {
	return messagebus.Method(s, (*Service).forward)
}

// forward is called from Send, possibly in interrupt context, so only
// enqueues.
func (s *Service) forward(evt messagebus.Event) {
	if !s.link.Connected() {
		return
	}
	if err := s.batcher.submit(Frame{Type: evt.Source, Reason: evt.Value}); err != nil {
		s.warn(`forward`, err, `event not forwarded`)
	}
}

func (s *Service) notify(ctx context.Context, frames []Frame) error {
	if !s.link.Connected() {
		s.logger.Debug().
			Int(`frames`, len(frames)).
			Log(`client disconnected, notification dropped`)
		return nil
	}
	payload := make([]byte, 0, len(frames)*FrameSize)
	for _, f := range frames {
		payload = AppendFrame(payload, f)
	}
	err := s.link.Notify(ctx, payload)
	s.trace.record(`notify`, frames, err)
	if err != nil {
		s.warn(`notify`, err, `notification failed`)
	}
	return err
}

func (s *Service) warn(category string, err error, msg string) {
	if _, ok := s.limiter.Allow(category); !ok {
		return
	}
	s.logger.Warning().
		Err(err).
		Log(msg)
}
