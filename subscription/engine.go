// Package subscription implements the Subscription Engine (spec §4.4):
// id attachment, REQ/CLOSE send policy and completion semantics for the
// three strategies, consuming the Relay Pool's fan-in message stream.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/asmogo/nostrmux/relaypool"
	"github.com/asmogo/nostrmux/reqregistry"
	"github.com/asmogo/nostrmux/transport/connstate"
	"github.com/asmogo/nostrmux/wire"
)

// DefaultTimeout is spec §4.4's default idle timeout for backward/oneshot
// inner streams.
const DefaultTimeout = 10 * time.Second

// Engine drives REQ/CLOSE emission through a relaypool.Pool and produces
// the caller's EventPacket stream per strategy.
type Engine struct {
	pool     *relaypool.Pool
	registry *reqregistry.Registry
	timeout  time.Duration

	dispatchOnce sync.Once
	hub          *hub
}

// New creates an Engine. registry must be the same Active-REQ Registry
// the Pool rehydrates newly-added relays from.
func New(pool *relaypool.Pool, registry *reqregistry.Registry, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{pool: pool, registry: registry, timeout: timeout, hub: newHub()}
}

func (e *Engine) ensureDispatch() {
	e.dispatchOnce.Do(func() {
		go e.dispatchLoop()
	})
}

func (e *Engine) dispatchLoop() {
	msgID, msgCh := e.pool.SubscribeMessages()
	defer e.pool.UnsubscribeMessages(msgID)
	stateID, stateCh := e.pool.SubscribeConnectionStates()
	defer e.pool.UnsubscribeConnectionStates(stateID)

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			e.hub.routeMessage(msg)
		case _, ok := <-stateCh:
			if !ok {
				return
			}
			e.hub.broadcastStateTrigger()
		}
	}
}

// Subscribe binds req and returns the caller's lazy EventPacket stream,
// per the strategy-specific rules of spec §4.4. Cancel ctx to
// unsubscribe. The finalizing CLOSE frames are sent by the subscription's
// own goroutine once it observes the cancellation, so they are not yet
// sent when cancel returns.
func (e *Engine) Subscribe(ctx context.Context, req RxReq) <-chan wire.EventPacket {
	e.ensureDispatch()
	out := make(chan wire.EventPacket, 64)
	switch req.Strategy() {
	case Forward:
		go e.runForward(ctx, req, out)
	case Backward:
		go e.runFresh(ctx, req, out, false)
	case Oneshot:
		go e.runFresh(ctx, req, out, true)
	default:
		close(out)
	}
	return out
}

func (e *Engine) runForward(ctx context.Context, req RxReq, out chan wire.EventPacket) {
	defer close(out)
	id := subID(req.ID(), 0)

	msgCh := e.hub.register(id)
	defer e.hub.unregister(id)
	defer e.finalize(ctx, id)

	filtersCh := req.Filters()
	for {
		select {
		case <-ctx.Done():
			return
		case filters, ok := <-filtersCh:
			if !ok {
				filtersCh = nil
				continue
			}
			if filters == nil {
				continue
			}
			e.registry.Store(id, filters)
			e.sendOverwrite(ctx, id, filters)
		case pkt, ok := <-msgCh:
			if !ok {
				return
			}
			if em, isEvent := pkt.Message.(wire.EventMessage); isEvent {
				select {
				case out <- wire.EventPacket{From: pkt.From, SubID: id, Event: em.Event}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// sendOverwrite implements the forward send policy: REQ goes to every
// readable relay regardless of activeSubIds membership (spec §4.4).
func (e *Engine) sendOverwrite(ctx context.Context, id string, filters wire.Filters) {
	for _, url := range e.pool.ReadableURLs() {
		rec, ok := e.pool.Get(url)
		if !ok {
			continue
		}
		rec.Transport.Send(ctx, wire.ReqFrame(id, filters))
		rec.ActiveSubIDs.Add(id)
	}
}

// finalize closes id on every relay still holding it active and drops it
// from the Active-REQ Registry (spec §4.4 step iii).
func (e *Engine) finalize(ctx context.Context, id string) {
	for _, url := range e.pool.URLs() {
		rec, ok := e.pool.Get(url)
		if !ok || !rec.ActiveSubIDs.Contains(id) {
			continue
		}
		rec.Transport.Send(ctx, wire.CloseFrame(id))
		rec.ActiveSubIDs.Remove(id)
	}
	e.registry.Delete(id)
}

// runFresh drives Backward (oneshot=false) and Oneshot (oneshot=true):
// a fresh subId per filter emission, flat-merged inner streams.
func (e *Engine) runFresh(ctx context.Context, req RxReq, out chan wire.EventPacket, oneshot bool) {
	defer close(out)
	var wg sync.WaitGroup
	index := 0
	filtersCh := req.Filters()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case filters, ok := <-filtersCh:
			if !ok {
				break loop
			}
			if filters == nil {
				continue
			}
			id := subID(req.ID(), index)
			index++
			wg.Add(1)
			go func(id string, filters wire.Filters) {
				defer wg.Done()
				e.runInner(ctx, id, filters, out)
			}(id, filters)
			if oneshot {
				break loop
			}
		}
	}
	wg.Wait()
}

// runInner implements one Backward/Oneshot inner stream: send-if-absent
// REQ, per-relay EOSE tracking, completion and idle-timeout (spec §4.4
// steps 1-6).
func (e *Engine) runInner(ctx context.Context, id string, filters wire.Filters, out chan<- wire.EventPacket) {
	msgCh := e.hub.register(id)
	defer e.hub.unregister(id)
	stateID, stateCh := e.hub.registerState()
	defer e.hub.unregisterState(stateID)

	e.sendIfAbsent(ctx, id, filters)

	eoseRelays := make(map[string]bool)
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.timeout)
	}

	for {
		select {
		case <-ctx.Done():
			e.closeEverywhere(ctx, id)
			return
		case <-timer.C:
			e.closeEverywhere(ctx, id)
			return
		case <-stateCh:
			resetTimer()
			if e.completionSatisfied(eoseRelays) {
				e.closeEverywhere(ctx, id)
				return
			}
		case pkt, ok := <-msgCh:
			if !ok {
				return
			}
			resetTimer()
			switch m := pkt.Message.(type) {
			case wire.EventMessage:
				if eoseRelays[pkt.From] {
					continue // events after this relay's EOSE are dropped
				}
				select {
				case out <- wire.EventPacket{From: pkt.From, SubID: id, Event: m.Event}:
				case <-ctx.Done():
					e.closeEverywhere(ctx, id)
					return
				}
			case wire.EoseMessage:
				if eoseRelays[pkt.From] {
					continue // duplicate EOSE from one relay is ignored
				}
				eoseRelays[pkt.From] = true
				if rec, ok := e.pool.Get(pkt.From); ok {
					rec.Transport.Send(ctx, wire.CloseFrame(id))
					rec.ActiveSubIDs.Remove(id)
				}
				if e.completionSatisfied(eoseRelays) {
					e.closeEverywhere(ctx, id)
					return
				}
			}
		}
	}
}

// sendIfAbsent implements the backward/oneshot send policy: REQ only
// goes to a readable relay that does not already hold id active.
func (e *Engine) sendIfAbsent(ctx context.Context, id string, filters wire.Filters) {
	for _, url := range e.pool.ReadableURLs() {
		rec, ok := e.pool.Get(url)
		if !ok || rec.ActiveSubIDs.Contains(id) {
			continue
		}
		rec.Transport.Send(ctx, wire.ReqFrame(id, filters))
		rec.ActiveSubIDs.Add(id)
	}
}

// completionSatisfied implements spec §4.4 step 4 over every readable
// relay: each must be terminal, or ongoing-and-EOSEd.
func (e *Engine) completionSatisfied(eoseRelays map[string]bool) bool {
	for _, url := range e.pool.ReadableURLs() {
		rec, ok := e.pool.Get(url)
		if !ok {
			continue
		}
		state := rec.Transport.State()
		if state.Terminal() {
			continue
		}
		if state == connstate.Ongoing && eoseRelays[url] {
			continue
		}
		return false
	}
	return true
}

// closeEverywhere sends CLOSE id to every relay still holding it active
// (spec §4.4 step 6).
func (e *Engine) closeEverywhere(ctx context.Context, id string) {
	for _, url := range e.pool.URLs() {
		rec, ok := e.pool.Get(url)
		if !ok || !rec.ActiveSubIDs.Contains(id) {
			continue
		}
		rec.Transport.Send(ctx, wire.CloseFrame(id))
		rec.ActiveSubIDs.Remove(id)
	}
}
