package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asmogo/nostrmux/transport/connstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn: Send appends to sent, Receive drains a
// caller-fed channel, Close marks closed.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	recv   chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{recv: make(chan []byte, 16)}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fakeConn: send on closed conn")
	}
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-c.recv:
		if !ok {
			return nil, errors.New("fakeConn: closed")
		}
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.recv)
	return nil
}

func TestTransport_StartOngoing(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	})
	tr := New("wss://relay.example", dialer, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := tr.ConnectionStates()
	tr.Start(ctx)

	assertEventualState(t, states, connstate.Ongoing)
	assert.Equal(t, connstate.Ongoing, tr.State())
}

func TestTransport_ReconnectBudgetExhausted(t *testing.T) {
	t.Parallel()
	var attempts int32
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("dial refused")
	})
	cfg := Config{RetryBudget: 2, BaseBackoff: time.Millisecond, BackoffNumer: 1, BackoffDenom: 1}
	tr := New("wss://relay.example", dialer, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := tr.Errors()
	tr.Start(ctx)

	select {
	case err, ok := <-errs:
		require.True(t, ok)
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal error")
	}
	assert.Equal(t, connstate.Error, tr.State())
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&attempts)), 2)
}

func TestTransport_SendDroppedWhenNotOngoing(t *testing.T) {
	t.Parallel()
	tr := New("wss://relay.example", DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		return newFakeConn(), nil
	}), DefaultConfig())
	// not started: state is Initialized, Send must be a silent no-op.
	tr.Send(context.Background(), []any{"REQ", "sub1"})
	assert.Equal(t, connstate.Initialized, tr.State())
}

func TestTransport_MalformedFrameSuppressed(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) { return conn, nil })
	tr := New("wss://relay.example", dialer, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := tr.ConnectionStates()
	tr.Start(ctx)
	assertEventualState(t, states, connstate.Ongoing)

	conn.recv <- []byte(`not json`)

	select {
	case err := <-tr.Errors():
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected malformed frame to surface on Errors")
	}

	select {
	case <-tr.Messages():
		t.Fatal("malformed frame must not reach Messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) { return conn, nil })
	tr := New("wss://relay.example", dialer, DefaultConfig())
	tr.Start(context.Background())
	assertEventualState(t, tr.ConnectionStates(), connstate.Ongoing)

	tr.Stop()
	tr.Stop()
	assert.Equal(t, connstate.Terminated, tr.State())
}

func assertEventualState(t *testing.T, states <-chan connstate.State, want connstate.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
