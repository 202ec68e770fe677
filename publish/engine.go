// Package publish implements the Publication Engine (spec §4.5): signs
// an event, fans it out as EVENT to every writable relay, and yields an
// acknowledgement stream bounded by the writable-relay count.
package publish

import (
	"context"
	"log/slog"

	"github.com/asmogo/nostrmux/relaypool"
	"github.com/asmogo/nostrmux/signer"
	"github.com/asmogo/nostrmux/wire"
)

// Engine publishes events across a relaypool.Pool.
type Engine struct {
	pool   *relaypool.Pool
	signer signer.Signer
}

// New creates a Publication Engine. If s is nil, signer.Default is used.
func New(pool *relaypool.Pool, s signer.Signer) *Engine {
	if s == nil {
		s = signer.Default{}
	}
	return &Engine{pool: pool, signer: s}
}

// Send signs params (via secretKey if non-empty, else the external
// signer) and publishes it to every writable relay. The returned channel
// yields up to len(writable relays) OkPacket values then closes; OK
// frames are correlated by event id, fixing the open "OK frame
// correlation" question from spec §9 rather than carrying the bug
// forward.
func (e *Engine) Send(ctx context.Context, params wire.Event, secretKey string) <-chan wire.OkPacket {
	out := make(chan wire.OkPacket)

	go func() {
		defer close(out)

		ev, err := e.sign(ctx, params, secretKey)
		if err != nil {
			slog.Error("publish: signing failed", slog.Any("error", err))
			return
		}

		writable := e.pool.WritableURLs()
		want := len(writable)
		if want == 0 {
			return
		}

		msgID, msgs := e.pool.SubscribeMessages()
		defer e.pool.UnsubscribeMessages(msgID)
		seen := make(map[string]bool, want)
		delivered := 0

		frame := wire.EventFrame(&ev)
		for _, url := range writable {
			rec, ok := e.pool.Get(url)
			if !ok {
				continue
			}
			rec.Transport.Send(ctx, frame)
		}

		for delivered < want {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-msgs:
				if !ok {
					return
				}
				ok2, isOK := pkt.Message.(wire.OkMessage)
				if !isOK || ok2.EventID != ev.ID {
					continue
				}
				if !contains(writable, pkt.From) || seen[pkt.From] {
					continue
				}
				seen[pkt.From] = true
				delivered++
				select {
				case out <- wire.OkPacket{From: pkt.From, ID: ev.ID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (e *Engine) sign(ctx context.Context, params wire.Event, secretKey string) (wire.Event, error) {
	if secretKey != "" {
		return e.signer.SignByKey(ctx, params, secretKey)
	}
	return e.signer.SignByExternalSigner(ctx, params)
}

func contains(urls []string, url string) bool {
	for _, u := range urls {
		if u == url {
			return true
		}
	}
	return false
}
