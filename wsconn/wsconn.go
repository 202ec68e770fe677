// Package wsconn implements transport.Conn and transport.Dialer over a
// real WebSocket socket, using gorilla/websocket the way go-nostr's own
// relay client does, so the transport state machine can be exercised
// against a live relay rather than only a fake Conn in tests.
package wsconn

import (
	"context"
	"fmt"

	"github.com/asmogo/nostrmux/transport"
	"github.com/gorilla/websocket"
)

// Conn adapts a *websocket.Conn to transport.Conn: every Send is a
// single text message, mirroring how NIP-01 frames are whole JSON
// arrays with no partial-message semantics.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a WebSocket connection to url and wraps it as a
// transport.Conn. It has the signature of transport.Dialer's Dial
// method, so transport.DialerFunc(Dial) is a Dialer.
func Dial(ctx context.Context, url string) (transport.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsconn: could not dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Dialer adapts Dial to transport.Dialer for callers that prefer a
// named type over transport.DialerFunc(wsconn.Dial).
type Dialer struct{}

func (Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) { return Dial(ctx, url) }

func (c *Conn) Send(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.ws.SetReadDeadline(deadline)
	}
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("wsconn: read failed: %w", err)
	}
	return raw, nil
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
