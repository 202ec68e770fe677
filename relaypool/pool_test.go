package relaypool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asmogo/nostrmux/reqregistry"
	"github.com/asmogo/nostrmux/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingConn never yields a message and never errors; it exists purely
// so a transport under test stays Ongoing without a real socket.
type blockingConn struct{ done chan struct{} }

func newBlockingConn() *blockingConn { return &blockingConn{done: make(chan struct{})} }

func (c *blockingConn) Send(context.Context, []byte) error { return nil }

func (c *blockingConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return nil, errors.New("blockingConn: closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *blockingConn) Close() error {
	close(c.done)
	return nil
}

func fakeDialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, url string) (transport.Conn, error) {
		return newBlockingConn(), nil
	})
}

func newTestPool(t *testing.T) (*Pool, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := transport.DefaultConfig()
	pool := New(ctx, fakeDialer(), cfg, reqregistry.New())
	t.Cleanup(func() {
		pool.Dispose()
		cancel()
	})
	return pool, ctx, cancel
}

func TestPool_SwitchAddsMembers(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)

	pool.Switch([]RelayConfig{
		{URL: "wss://relay-a.example", Read: true, Write: false},
		{URL: "wss://relay-b.example", Read: false, Write: true},
	})

	assert.ElementsMatch(t, []string{"wss://relay-a.example", "wss://relay-b.example"}, pool.URLs())
	assert.ElementsMatch(t, []string{"wss://relay-a.example"}, pool.ReadableURLs())
	assert.ElementsMatch(t, []string{"wss://relay-b.example"}, pool.WritableURLs())
}

func TestPool_SwitchLastWinsOnDuplicateURL(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)

	pool.Switch([]RelayConfig{
		{URL: "wss://relay-a.example", Read: true, Write: false},
		{URL: "wss://relay-a.example", Read: false, Write: true},
	})

	rec, ok := pool.Get("wss://relay-a.example")
	require.True(t, ok)
	assert.False(t, rec.Read)
	assert.True(t, rec.Write)
	assert.Len(t, pool.URLs(), 1)
}

func TestPool_SwitchRemovesDroppedMember(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)

	pool.Switch([]RelayConfig{{URL: "wss://relay-a.example", Read: true, Write: true}})
	pool.Switch(nil)

	assert.Empty(t, pool.URLs())
}

func TestPool_AddWriteOnlyStartsTransport(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)

	pool.Add(RelayConfig{URL: "wss://write-only.example", Read: false, Write: true})

	rec, ok := pool.Get("wss://write-only.example")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return rec.Transport.State().String() == "ongoing"
	}, 2*time.Second, 10*time.Millisecond, "write-only relay's transport must still be started")
}

func TestPool_RemoveDropsSingleRelay(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)

	pool.Switch([]RelayConfig{
		{URL: "wss://relay-a.example", Read: true, Write: true},
		{URL: "wss://relay-b.example", Read: true, Write: true},
	})
	pool.Remove("wss://relay-a.example")

	assert.ElementsMatch(t, []string{"wss://relay-b.example"}, pool.URLs())
}

func TestPool_SwitchRestartsTransportAfterReadableToggle(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)
	const url = "wss://relay-a.example"

	pool.Switch([]RelayConfig{{URL: url, Read: true, Write: false}})
	rec, ok := pool.Get(url)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return rec.Transport.State().String() == "ongoing"
	}, 2*time.Second, 10*time.Millisecond, "relay must reach ongoing before the toggle")

	// becomes write-only: unreadable, so its transport is stopped, but it
	// remains a pool member.
	pool.Switch([]RelayConfig{{URL: url, Read: false, Write: true}})
	require.Eventually(t, func() bool {
		return rec.Transport.State().String() == "terminated"
	}, 2*time.Second, 10*time.Millisecond, "relay must be stopped while unreadable")

	// readable again: the same record's transport must restart, not stay dead.
	pool.Switch([]RelayConfig{{URL: url, Read: true, Write: true}})
	rec2, ok := pool.Get(url)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return rec2.Transport.State().String() == "ongoing"
	}, 2*time.Second, 10*time.Millisecond, "relay's transport must restart after becoming readable again")
}

func TestPool_StatePanicsOnUnknownRelay(t *testing.T) {
	t.Parallel()
	pool, _, _ := newTestPool(t)
	assert.Panics(t, func() { pool.State("wss://never-added.example/") })
}

func TestPool_DisposeIsIdempotentAndClosesStreams(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := New(ctx, fakeDialer(), transport.DefaultConfig(), reqregistry.New())

	_, msgs := pool.SubscribeMessages()
	pool.Switch([]RelayConfig{{URL: "wss://relay-a.example", Read: true, Write: true}})

	pool.Dispose()
	pool.Dispose() // idempotent

	_, ok := <-msgs
	assert.False(t, ok)

	// mutations after Dispose are no-ops.
	pool.Switch([]RelayConfig{{URL: "wss://relay-c.example", Read: true, Write: true}})
	assert.Empty(t, pool.URLs())
}
