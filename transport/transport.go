// Package transport implements the per-relay connection state machine
// described in spec §4.1: bounded automatic reconnection wrapped around
// an injected WebSocket-like Conn, with lazy streams of parsed incoming
// messages and connection-state transitions.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asmogo/nostrmux/transport/connstate"
	"github.com/asmogo/nostrmux/wire"
)

// Conn is the WebSocket wrapper required of callers (spec §6). A real
// implementation serializes Send's frame as a single text message and
// yields parsed arrays from Receive; this module never opens a socket
// itself.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Conn for a normalized relay URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a plain function to a Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// Config bounds reconnection behavior. Defaults mirror spec §6 (retry=10)
// and the teacher's own reconnect loop shape (protocol/pool.go's
// interval*17/10 backoff), generalized into a configurable base delay.
type Config struct {
	RetryBudget  int
	BaseBackoff  time.Duration
	BackoffNumer int
	BackoffDenom int
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		RetryBudget:  10,
		BaseBackoff:  3 * time.Second,
		BackoffNumer: 17,
		BackoffDenom: 10,
	}
}

// Transport owns one relay connection's lifetime: start/stop/dispose,
// send, and the message/state fan-out streams.
type Transport struct {
	URL    string
	dialer Dialer
	cfg    Config

	mu     sync.Mutex
	state  connstate.State
	conn   Conn
	cancel context.CancelFunc

	messages chan wire.MessagePacket
	states   chan connstate.State
	errs     chan error

	disposed bool
}

// New creates a Transport in the initialized state. It does not open a
// connection; call Start for that.
func New(url string, dialer Dialer, cfg Config) *Transport {
	return &Transport{
		URL:      url,
		dialer:   dialer,
		cfg:      cfg,
		state:    connstate.Initialized,
		messages: make(chan wire.MessagePacket, 64),
		states:   make(chan connstate.State, 16),
		errs:     make(chan error, 4),
	}
}

// State returns the current connection state.
func (t *Transport) State() connstate.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Messages is the lazy stream of parsed incoming messages from this
// relay. Malformed frames are suppressed here and surfaced on Errors.
func (t *Transport) Messages() <-chan wire.MessagePacket { return t.messages }

// ConnectionStates is the lazy stream of state transitions.
func (t *Transport) ConnectionStates() <-chan connstate.State { return t.states }

// Errors surfaces the terminal transport failure (spec §7), emitted once
// when the reconnect budget is exhausted, and also one error per
// suppressed malformed frame.
func (t *Transport) Errors() <-chan error { return t.errs }

// Start opens the socket and begins the reconnect-on-failure loop. It is
// safe to call once per Transport lifetime; calling it again after a
// Stop moves the transport from Terminated back to Starting. After
// Dispose it is a no-op.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.setState(connstate.Starting)
	go t.run(ctx)
}

func (t *Transport) run(ctx context.Context) {
	budget := t.cfg.RetryBudget
	backoff := t.cfg.BaseBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := t.dialer.Dial(ctx, t.URL)
		if err != nil {
			if !t.consumeBudget(&budget) {
				t.fail(fmt.Errorf("transport %s: reconnect budget exhausted: %w", t.URL, err))
				return
			}
			t.setState(connstate.Reconnecting)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = t.nextBackoff(backoff)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(connstate.Ongoing)
		backoff = t.cfg.BaseBackoff // reset once a connection succeeds

		t.readLoop(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}

		if !t.consumeBudget(&budget) {
			t.fail(fmt.Errorf("transport %s: reconnect budget exhausted after disconnect", t.URL))
			return
		}
		t.setState(connstate.Reconnecting)
		if !t.sleep(ctx, backoff) {
			return
		}
		backoff = t.nextBackoff(backoff)
	}
}

func (t *Transport) readLoop(ctx context.Context, conn Conn) {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		msg, err := wire.Parse(raw)
		if err != nil {
			slog.Warn("transport: suppressing malformed frame", slog.String("url", t.URL), slog.Any("error", err))
			select {
			case t.errs <- err:
			default:
			}
			continue
		}
		select {
		case t.messages <- wire.MessagePacket{From: t.URL, Message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) consumeBudget(budget *int) bool {
	if *budget <= 0 {
		return false
	}
	*budget--
	return true
}

func (t *Transport) nextBackoff(d time.Duration) time.Duration {
	return d * time.Duration(t.cfg.BackoffNumer) / time.Duration(t.cfg.BackoffDenom)
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) fail(err error) {
	t.setState(connstate.Error)
	select {
	case t.errs <- err:
	default:
	}
}

func (t *Transport) setState(s connstate.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	select {
	case t.states <- s:
	default:
		// states channel has a buffer; a full buffer means nobody is
		// draining it promptly, which must never block the run loop.
	}
}

// Send serializes frame and writes it to the socket. Per spec §4.1 a send
// on a non-ongoing transport is silently dropped.
func (t *Transport) Send(ctx context.Context, frame []any) {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()
	if state != connstate.Ongoing || conn == nil {
		return
	}
	b, err := wire.Marshal(frame)
	if err != nil {
		slog.Error("transport: could not marshal frame", slog.String("url", t.URL), slog.Any("error", err))
		return
	}
	if err := conn.Send(ctx, b); err != nil {
		slog.Warn("transport: send failed, relying on reconnect loop", slog.String("url", t.URL), slog.Any("error", err))
	}
}

// Stop closes the socket but preserves the record; it is idempotent.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	t.setState(connstate.Terminated)
}

// Dispose is the terminal operation: it stops the transport and marks it
// as disposed so a later Start is a no-op.
func (t *Transport) Dispose() {
	t.mu.Lock()
	t.disposed = true
	t.mu.Unlock()
	t.Stop()
}
