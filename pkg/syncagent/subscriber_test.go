package syncagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

var errStreamClosed = errors.New("stream closed")

type fakeStream struct {
	events chan event.PermissionChange
	once   sync.Once
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan event.PermissionChange, 4),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next(ctx context.Context) (event.PermissionChange, error) {
	select {
	case e := <-s.events:
		return e, nil
	case <-s.closed:
		return event.PermissionChange{}, errStreamClosed
	case <-ctx.Done():
		return event.PermissionChange{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeDialer fails while fail is set and otherwise hands out the next stream
// from streams.
type fakeDialer struct {
	mu      sync.Mutex
	fail    bool
	dials   int
	streams chan *fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{streams: make(chan *fakeStream, 4)}
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Dial(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, shared.ErrTransport
	}
	select {
	case s := <-d.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSubscriber_DeliversEvents(t *testing.T) {
	d := newFakeDialer()
	stream := newFakeStream()
	d.streams <- stream

	var connects int
	var mu sync.Mutex
	s := NewSubscriber(d, WithBackoff(5*time.Millisecond), OnConnect(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	waitFor(t, s.IsConnected)
	user := shared.NewID()
	stream.events <- event.ForUser(event.TypeRoleAssigned, user, shared.NewID(), nil)

	select {
	case e := <-s.Events():
		assert.Equal(t, event.TypeRoleAssigned, e.Type)
		assert.Equal(t, user, *e.UserID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	mu.Lock()
	assert.Equal(t, 1, connects)
	mu.Unlock()
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	d := newFakeDialer()
	first, second := newFakeStream(), newFakeStream()
	d.streams <- first

	var mu sync.Mutex
	var states []State
	var disconnects int
	s := NewSubscriber(d,
		WithBackoff(5*time.Millisecond),
		OnDisconnect(func(err error) {
			mu.Lock()
			disconnects++
			mu.Unlock()
			assert.ErrorIs(t, err, errStreamClosed)
		}),
		OnStateChange(func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}),
	)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	waitFor(t, s.IsConnected)

	_ = first.Close()
	waitFor(t, func() bool { return s.State() == StateConnecting || s.State() == StateDisconnected })
	d.streams <- second
	waitFor(t, s.IsConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}, states)
}

func TestSubscriber_DegradesAfterMaxAttempts(t *testing.T) {
	d := newFakeDialer()
	d.setFail(true)

	s := NewSubscriber(d, WithBackoff(time.Millisecond), WithMaxAttempts(3))
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	waitFor(t, s.Degraded)
	assert.False(t, s.IsConnected())
	assert.Equal(t, StateDisconnected, s.State())

	// No further dials while degraded.
	dials := d.Dials()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, dials)
	assert.Equal(t, dials, d.Dials())

	d.setFail(false)
	d.streams <- newFakeStream()
	s.Reconnect()
	waitFor(t, s.IsConnected)
	assert.False(t, s.Degraded())
}

func TestSubscriber_CloseIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	d.streams <- newFakeStream()

	s := NewSubscriber(d)
	require.NoError(t, s.Start(context.Background()))
	waitFor(t, s.IsConnected)

	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestSubscriber_CloseBeforeStart(t *testing.T) {
	s := NewSubscriber(newFakeDialer())
	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSubscriber_ConcurrentStartAndClose(t *testing.T) {
	for range 100 {
		s := NewSubscriber(newFakeDialer())
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.Start(context.Background()); err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()

		assert.Equal(t, StateClosed, s.State())
		_, ok := <-s.Events()
		assert.False(t, ok)
		assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
