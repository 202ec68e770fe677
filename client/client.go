// Package client ties the Relay Pool, Active-REQ Registry, Subscription
// Engine and Publication Engine together behind a single entry point
// (spec §2/§4.6) and exposes the fan-in aggregator streams.
package client

import (
	"context"
	"time"

	"github.com/asmogo/nostrmux/publish"
	"github.com/asmogo/nostrmux/relaypool"
	"github.com/asmogo/nostrmux/reqregistry"
	"github.com/asmogo/nostrmux/signer"
	"github.com/asmogo/nostrmux/subscription"
	"github.com/asmogo/nostrmux/transport"
	"github.com/asmogo/nostrmux/wire"
	"github.com/google/uuid"
)

// Config bundles a Client's tunables. Timeout is the Subscription
// Engine's backward/oneshot idle timeout; TransportConfig governs every
// relay's reconnect budget/backoff (spec §6).
type Config struct {
	Timeout         time.Duration
	TransportConfig transport.Config
	Signer          signer.Signer
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         subscription.DefaultTimeout,
		TransportConfig: transport.DefaultConfig(),
	}
}

// Client is the library's top-level object: construct one per application,
// feed it a Dialer, then Switch/Add/Remove relays and Subscribe/Send.
type Client struct {
	pool     *relaypool.Pool
	registry *reqregistry.Registry
	subs     *subscription.Engine
	pub      *publish.Engine
}

// New creates a Client with no relays. Call Switch (or Add) to populate
// the pool before subscribing or publishing.
func New(ctx context.Context, dialer relaypool.Dialer, cfg Config) *Client {
	registry := reqregistry.New()
	pool := relaypool.New(ctx, dialer, cfg.TransportConfig, registry)
	return &Client{
		pool:     pool,
		registry: registry,
		subs:     subscription.New(pool, registry, cfg.Timeout),
		pub:      publish.New(pool, cfg.Signer),
	}
}

// Switch reconciles pool membership against relays (spec §4.2).
func (c *Client) Switch(relays []relaypool.RelayConfig) { c.pool.Switch(relays) }

// Add adds or updates a single relay.
func (c *Client) Add(cfg relaypool.RelayConfig) { c.pool.Add(cfg) }

// Remove drops a relay from the pool entirely.
func (c *Client) Remove(url string) { c.pool.Remove(url) }

// NewRxReqID generates a default rxReqId for callers that don't supply
// their own (SPEC_FULL.md §11: uuid fills this role, as gw.go's
// sessionID := uuid.New() does for session identifiers).
func NewRxReqID() string { return uuid.New().String() }

// Subscribe binds req through the Subscription Engine (spec §4.4).
func (c *Client) Subscribe(ctx context.Context, req subscription.RxReq) <-chan wire.EventPacket {
	return c.subs.Subscribe(ctx, req)
}

// Send signs and publishes params, returning its OK-acknowledgement
// stream (spec §4.5).
func (c *Client) Send(ctx context.Context, params wire.Event, secretKey string) <-chan wire.OkPacket {
	return c.pub.Send(ctx, params, secretKey)
}

// AllMessages is the pool-wide fan-in of every parsed relay message,
// unfiltered by subId (spec §4.6). Call the returned cancel func to
// unsubscribe once the caller is done draining it.
func (c *Client) AllMessages() (<-chan wire.MessagePacket, func()) {
	id, ch := c.pool.SubscribeMessages()
	return ch, func() { c.pool.UnsubscribeMessages(id) }
}

// AllErrors is the all-errors aggregator (spec §4.6/§7): one ErrorPacket
// per relay whose reconnect budget is exhausted, plus one per malformed
// frame a relay sent.
func (c *Client) AllErrors() (<-chan wire.ErrorPacket, func()) {
	id, ch := c.pool.SubscribeErrors()
	return ch, func() { c.pool.UnsubscribeErrors(id) }
}

// ConnectionStates is the connection-state aggregator: one packet per
// transport state transition, across every relay.
func (c *Client) ConnectionStates() (<-chan wire.ConnectionStatePacket, func()) {
	id, ch := c.pool.SubscribeConnectionStates()
	return ch, func() { c.pool.UnsubscribeConnectionStates(id) }
}

// AuthChallengePacket pairs a relay with the AUTH challenge it sent.
type AuthChallengePacket struct {
	From      string
	Challenge string
}

// AllAuthChallenges filters AllMessages down to AUTH frames (SPEC_FULL.md
// §12): NIP-42 handshake logic itself remains out of scope, but surfacing
// the challenge is a natural client-level convenience, mirroring the
// teacher's own WithAuthHandler option. The returned channel closes once
// ctx is done or the underlying message stream completes.
func (c *Client) AllAuthChallenges(ctx context.Context) <-chan AuthChallengePacket {
	msgs, cancel := c.AllMessages()
	out := make(chan AuthChallengePacket, 16)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-msgs:
				if !ok {
					return
				}
				auth, isAuth := pkt.Message.(wire.AuthMessage)
				if !isAuth {
					continue
				}
				select {
				case out <- AuthChallengePacket{From: pkt.From, Challenge: auth.Challenge}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Dispose tears the Client down: every transport is disposed and every
// aggregator stream completes.
func (c *Client) Dispose() { c.pool.Dispose() }
