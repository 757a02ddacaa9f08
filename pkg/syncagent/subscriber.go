package syncagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Subscriber defaults.
const (
	DefaultBackoff     = time.Second
	DefaultMaxAttempts = 5
	DefaultBuffer      = 8
)

// State is the connection state of a Subscriber.
type State int32

const (
	// StateDisconnected is the state before Start and after a dropped stream.
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateClosed is terminal.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Stream yields change events from one live connection.
type Stream interface {
	// Next blocks until an event arrives or the stream fails.
	Next(ctx context.Context) (event.PermissionChange, error)
	Close() error
}

// Dialer opens a Stream.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// ErrClosed is returned by operations on a closed Subscriber.
var ErrClosed = errors.New("subscriber closed")

// Subscriber keeps one event stream open. Failed dials are retried after a
// fixed backoff; once MaxAttempts consecutive dials fail it stays
// disconnected and degraded until Reconnect is called.
type Subscriber struct {
	dialer      Dialer
	backoff     time.Duration
	maxAttempts int
	logger      *logger.Logger

	onConnect    func()
	onDisconnect func(error)
	onState      func(State)

	events    chan event.PermissionChange
	reconnect chan struct{}

	state    atomic.Int32
	degraded atomic.Bool

	// mu guards stream, cancel and closed.
	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithBackoff sets the fixed delay between connection attempts.
func WithBackoff(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithMaxAttempts bounds consecutive failed dials before the subscriber degrades.
func WithMaxAttempts(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithEventBuffer sets the size of the Events channel.
func WithEventBuffer(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n > 0 {
			s.events = make(chan event.PermissionChange, n)
		}
	}
}

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(log *logger.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = log
	}
}

// OnConnect registers a hook called after every successful dial.
func OnConnect(fn func()) SubscriberOption {
	return func(s *Subscriber) {
		s.onConnect = fn
	}
}

// OnDisconnect registers a hook called when an open stream fails.
func OnDisconnect(fn func(error)) SubscriberOption {
	return func(s *Subscriber) {
		s.onDisconnect = fn
	}
}

// OnStateChange registers a hook called on every state transition.
func OnStateChange(fn func(State)) SubscriberOption {
	return func(s *Subscriber) {
		s.onState = fn
	}
}

// NewSubscriber creates a Subscriber. Nothing is dialed until Start.
func NewSubscriber(dialer Dialer, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		dialer:      dialer,
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.NewNop(),
		events:      make(chan event.PermissionChange, DefaultBuffer),
		reconnect:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sync_subscriber")
	return s
}

// Events delivers received events. It is closed when the subscriber closes.
// When the buffer is full new events are dropped; a pending event already
// tells the reader to refetch.
func (s *Subscriber) Events() <-chan event.PermissionChange {
	return s.events
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether a stream is open.
func (s *Subscriber) IsConnected() bool {
	return s.State() == StateConnected
}

// Degraded reports whether retries were exhausted.
func (s *Subscriber) Degraded() bool {
	return s.degraded.Load()
}

// Start begins connecting in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	go s.run(ctx)
	return nil
}

// Reconnect resets the attempt budget of a degraded subscriber.
func (s *Subscriber) Reconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Close stops the subscriber and closes Events. Repeated calls are no-ops.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, stream := s.cancel, s.stream
		if cancel != nil {
			cancel()
		}
		s.mu.Unlock()

		if cancel == nil {
			// never started
			s.setState(StateClosed)
			close(s.events)
			close(s.done)
			return
		}
		if stream != nil {
			_ = stream.Close()
		}
		<-s.done
	})
}

func (s *Subscriber) run(ctx context.Context) {
	defer func() {
		s.setState(StateClosed)
		close(s.events)
		close(s.done)
	}()

	failures := 0
	for ctx.Err() == nil {
		s.setState(StateConnecting)
		stream, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			reconnectAttemptsTotal.Inc()
			s.logger.Warn("event stream dial failed", "attempt", failures, "max_attempts", s.maxAttempts, "error", err)
			s.setState(StateDisconnected)

			if failures >= s.maxAttempts {
				s.degraded.Store(true)
				s.logger.Warn("event stream degraded, waiting for reconnect")
				select {
				case <-ctx.Done():
					return
				case <-s.reconnect:
					failures = 0
					s.degraded.Store(false)
					continue
				}
			}
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		failures = 0
		s.degraded.Store(false)
		if !s.attach(ctx, stream) {
			_ = stream.Close()
			return
		}
		s.setState(StateConnected)
		if s.onConnect != nil {
			s.onConnect()
		}

		err = s.pump(ctx, stream)
		s.detach()
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		s.setState(StateDisconnected)
		s.logger.Info("event stream dropped", "error", err)
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Subscriber) pump(ctx context.Context, stream Stream) error {
	for {
		e, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		select {
		case s.events <- e:
		default:
			eventsDroppedTotal.Inc()
		}
	}
}

// attach records the open stream so Close can interrupt a blocked Next.
func (s *Subscriber) attach(ctx context.Context, stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.stream = stream
	return true
}

func (s *Subscriber) detach() {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

func (s *Subscriber) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	if s.onState != nil {
		s.onState(st)
	}
}
