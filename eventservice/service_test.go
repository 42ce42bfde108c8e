package eventservice

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-microdal/device"
	"github.com/joeycumines/go-microdal/fiber"
	"github.com/joeycumines/go-microdal/messagebus"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ device.IdleComponent = (*Service)(nil)

type fakeLink struct {
	connected atomic.Bool
	err       atomic.Pointer[error]
	ch        chan []byte
}

func newFakeLink(connected bool) *fakeLink {
	l := &fakeLink{ch: make(chan []byte, 64)}
	l.connected.Store(connected)
	return l
}

func (x *fakeLink) Connected() bool { return x.connected.Load() }

func (x *fakeLink) Notify(_ context.Context, payload []byte) error {
	if err := x.err.Load(); err != nil {
		return *err
	}
	x.ch <- payload
	return nil
}

func (x *fakeLink) next(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-x.ch:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal(`timed out waiting for notification`)
		return nil
	}
}

func newTestBus(t *testing.T) *messagebus.Bus {
	t.Helper()
	s, err := fiber.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	b, err := messagebus.New(s)
	require.NoError(t, err)
	s.BindEvents(b)
	return b
}

func newTestService(t *testing.T, bus Bus, link Link, opts ...Option) *Service {
	t.Helper()
	s, err := New(bus, link, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func frames(f ...Frame) (b []byte) {
	for _, f := range f {
		b = AppendFrame(b, f)
	}
	return b
}

func TestNew_validation(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)

	_, err := New(nil, link)
	assert.ErrorIs(t, err, ErrNilBus)
	_, err = New(bus, nil)
	assert.ErrorIs(t, err, ErrNilLink)
	_, err = New(bus, link, WithBatchSize(-1))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	_, err = New(bus, link, WithBatchSize(0), WithFlushInterval(0))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	s, err := New(bus, link, nil, WithBatchSize(0), WithFlushInterval(time.Millisecond))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestService_clientEventFires(t *testing.T) {
	bus := newTestBus(t)
	s := newTestService(t, bus, newFakeLink(true))

	var got []uint16
	bus.ListenFunc(9, messagebus.EvtAny, func(evt messagebus.Event) {
		got = append(got, evt.Value)
	}, messagebus.Immediate)

	data := append(frames(Frame{9, 1}, Frame{8, 1}, Frame{9, 2}), 0xff)
	assert.ErrorIs(t, s.OnClientEvent(data), ErrPartialFrame)
	assert.Equal(t, []uint16{1, 2}, got)
}

func TestService_requirementsForwarded(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	s := newTestService(t, bus, link, WithBatchSize(2), WithFlushInterval(-1))

	require.NoError(t, s.OnClientRequirements(frames(Frame{9, messagebus.EvtAny}, Frame{9, messagebus.EvtAny})))
	assert.Equal(t, 1, bus.Len(), `duplicate subscriptions are ignored`)
	assert.Equal(t, messagebus.Immediate, bus.ElementAt(0).Flags())

	bus.Fire(9, 1)
	bus.Fire(8, 1)
	bus.Fire(9, 2)
	assert.Equal(t, frames(Frame{9, 1}, Frame{9, 2}), link.next(t))
}

func TestService_defaultsNotifyEachEvent(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	s := newTestService(t, bus, link)

	require.NoError(t, s.OnClientRequirements(frames(Frame{9, messagebus.EvtAny})))
	bus.Fire(9, 1)
	bus.Fire(9, 2)

	first := link.next(t)
	assert.Len(t, first, FrameSize)
	assert.Equal(t, EncodeFrame(Frame{9, 1}), first)
	assert.Equal(t, EncodeFrame(Frame{9, 2}), link.next(t))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Empty(t, link.ch)
}

func TestService_flushInterval(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	s := newTestService(t, bus, link, WithBatchSize(0), WithFlushInterval(time.Millisecond))

	require.NoError(t, s.OnClientRequirements(frames(Frame{messagebus.IDAny, messagebus.EvtAny})))
	bus.Fire(3, 4)
	assert.Equal(t, frames(Frame{3, 4}), link.next(t))
}

func TestService_disconnectedNotForwarded(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(false)
	s := newTestService(t, bus, link)

	require.NoError(t, s.OnClientRequirements(frames(Frame{9, 1})))
	bus.Fire(9, 1)
	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case payload := <-link.ch:
		t.Fatal(payload)
	default:
	}
}

func TestService_readRequirementsAndDisconnect(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	s := newTestService(t, bus, link)

	bus.ListenFunc(1, 2, func(messagebus.Event) {}, 0)
	bus.ListenFunc(3, 4, func(messagebus.Event) {}, 0)

	assert.Equal(t, frames(Frame{1, 2}), s.ReadRequirements())
	assert.Equal(t, frames(Frame{3, 4}), s.ReadRequirements())
	assert.Equal(t, []byte{}, s.ReadRequirements())
	assert.Equal(t, []byte{}, s.ReadRequirements())

	require.NoError(t, s.OnClientRequirements(frames(Frame{5, 6}, Frame{7, 8})))
	assert.Equal(t, 4, bus.Len())
	assert.False(t, s.IsIdleCallbackNeeded(), `connected`)
	s.IdleTick()
	assert.Equal(t, 4, bus.Len())

	link.connected.Store(false)
	assert.True(t, s.IsIdleCallbackNeeded())
	s.IdleTick()
	assert.False(t, s.IsIdleCallbackNeeded())
	assert.Equal(t, 2, bus.Len(), `only the client's listeners are removed`)
	assert.Equal(t, frames(Frame{1, 2}), s.ReadRequirements())
}

func TestService_serve(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	s := newTestService(t, bus, link, WithBatchSize(1))

	var got []uint16
	bus.ListenFunc(2, messagebus.EvtAny, func(evt messagebus.Event) {
		got = append(got, evt.Value)
	}, messagebus.Immediate)

	ch := make(chan Write, 8)
	ch <- Write{Kind: ClientRequirements, Data: frames(Frame{2, 7})}
	ch <- Write{Kind: ClientEvent, Data: frames(Frame{2, 6})}
	ch <- Write{Kind: ClientEvent, Data: append(frames(Frame{2, 7}), 1, 2)}
	close(ch)

	require.NoError(t, s.Serve(context.Background(), ch))
	assert.Equal(t, []uint16{6, 7}, got)
	assert.Equal(t, frames(Frame{2, 7}), link.next(t))
}

func TestService_serveErrors(t *testing.T) {
	bus := newTestBus(t)
	s := newTestService(t, bus, newFakeLink(true))

	ch := make(chan Write, 1)
	ch <- Write{Kind: 3}
	err := s.Serve(context.Background(), ch)
	assert.EqualError(t, err, `eventservice: unknown write kind: WriteKind(3)`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, make(chan Write)) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal(`serve did not return`)
	}

	require.NoError(t, s.Close())
	ch <- Write{Kind: ClientEvent}
	assert.ErrorIs(t, s.Serve(context.Background(), ch), ErrClosed)
}

func TestService_trace(t *testing.T) {
	bus := newTestBus(t)
	link := newFakeLink(true)
	var buf bytes.Buffer
	s := newTestService(t, bus, link, WithTrace(&buf))

	require.NoError(t, s.OnClientRequirements(frames(Frame{9, 0})))
	assert.ErrorIs(t, s.OnClientEvent(append(frames(Frame{9, 1}), 0)), ErrPartialFrame)
	require.NoError(t, s.Shutdown(context.Background()))
	s.ReadRequirements()

	assert.Equal(t, strings.Join([]string{
		`{"kind":"client_requirements","frames":[[9,0]]}`,
		`{"kind":"client_event","frames":[[9,1]],"err":"eventservice: partial frame: 1 trailing bytes"}`,
		`{"kind":"notify","frames":[[9,1]]}`,
		`{"kind":"read_requirements","frames":[]}`,
	}, "\n")+"\n", buf.String())
}

func TestService_closed(t *testing.T) {
	bus := newTestBus(t)
	s := newTestService(t, bus, newFakeLink(true))
	bus.ListenFunc(1, 1, func(messagebus.Event) {}, 0)
	require.NoError(t, s.OnClientRequirements(frames(Frame{9, 1}, Frame{9, 2})))
	assert.Equal(t, 3, bus.Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, bus.Len())
	assert.ErrorIs(t, s.OnClientEvent(frames(Frame{1, 1})), ErrClosed)
	assert.ErrorIs(t, s.OnClientRequirements(frames(Frame{1, 1})), ErrClosed)
	assert.False(t, s.IsIdleCallbackNeeded())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func TestService_notifyErrorLogged(t *testing.T) {
	var buf syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf), stumpy.WithTimeField(``)),
	).Logger()

	bus := newTestBus(t)
	link := newFakeLink(true)
	errLink := errors.New(`link down`)
	link.err.Store(&errLink)
	s := newTestService(t, bus, link, WithLogger(logger), WithBatchSize(1))

	require.NoError(t, s.OnClientRequirements(frames(Frame{9, 1})))
	bus.Fire(9, 1)
	bus.Fire(9, 1)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, 1, strings.Count(buf.String(), `"msg":"notification failed"`), `rate limited`)
	assert.Contains(t, buf.String(), `"err":"link down"`)
}

func TestService_deviceIdleComponent(t *testing.T) {
	r, err := device.New(device.WithLogger(nil), device.WithTickPeriod(time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = r.Shutdown(context.Background()) }()

	link := newFakeLink(true)
	s := newTestService(t, r.Bus(), link)
	r.AddIdleComponent(s)
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, s.OnClientRequirements(frames(Frame{4, 4})))
	assert.Equal(t, frames(Frame{4, 4}), s.ReadRequirements())

	link.connected.Store(false)
	for r.Bus().Len() != 0 {
		r.Sleep(time.Millisecond)
	}
	assert.False(t, s.IsIdleCallbackNeeded())
}
