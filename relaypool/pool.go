// Package relaypool implements the relay-pool reconciliation algorithm
// (spec §4.2): the authoritative normalized-URL -> RelayRecord map, and
// the switch/add/remove membership mutations that diff against current
// state and drive Transport lifecycles accordingly.
package relaypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asmogo/nostrmux/internal/broadcast"
	"github.com/asmogo/nostrmux/internal/relayurl"
	"github.com/asmogo/nostrmux/reqregistry"
	"github.com/asmogo/nostrmux/transport"
	"github.com/asmogo/nostrmux/transport/connstate"
	"github.com/asmogo/nostrmux/wire"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// Dialer is re-exported so callers constructing a Pool don't need to
// import the transport package too.
type Dialer = transport.Dialer

// Pool is the authoritative relay membership. Pool mutations (Switch,
// Add, Remove) and REQ fan-out from the Subscription Engine must not be
// interleaved without re-reading the record map (spec §5); reconcileMu
// below is the single actor serializing exactly that.
//
// Messages/ConnectionStates/Errors are each backed by a broadcast.Bus
// rather than a plain channel: the Subscription Engine's dispatch loop,
// the Publication Engine's OK listener, and the Client's aggregators all
// need to observe every value independently, and a bare channel only
// delivers each value to one of them.
type Pool struct {
	dialer   Dialer
	transCfg transport.Config
	registry *reqregistry.Registry
	ctx      context.Context
	errs     *broadcast.Bus[wire.ErrorPacket]
	states   *broadcast.Bus[wire.ConnectionStatePacket]
	messages *broadcast.Bus[wire.MessagePacket]

	reconcileMu sync.Mutex
	records     *xsync.MapOf[string, *RelayRecord]

	disposed bool
}

// New creates an empty Pool. Transports created for relays added later
// use dialer and transCfg; registry is the shared Active-REQ Registry the
// Subscription Engine also writes to.
func New(ctx context.Context, dialer Dialer, transCfg transport.Config, registry *reqregistry.Registry) *Pool {
	return &Pool{
		dialer:   dialer,
		transCfg: transCfg,
		registry: registry,
		ctx:      ctx,
		errs:     broadcast.NewBus[wire.ErrorPacket](),
		states:   broadcast.NewBus[wire.ConnectionStatePacket](),
		messages: broadcast.NewBus[wire.MessagePacket](),
		records:  xsync.NewMapOf[string, *RelayRecord](),
	}
}

// SubscribeErrors registers a new listener on the all-errors aggregator
// stream (spec §4.6/§7). Call UnsubscribeErrors with the returned id when
// done.
func (p *Pool) SubscribeErrors() (int, <-chan wire.ErrorPacket) { return p.errs.Subscribe() }

// UnsubscribeErrors removes a listener registered via SubscribeErrors.
func (p *Pool) UnsubscribeErrors(id int) { p.errs.Unsubscribe(id) }

// SubscribeConnectionStates registers a new listener on the
// connection-state aggregator stream.
func (p *Pool) SubscribeConnectionStates() (int, <-chan wire.ConnectionStatePacket) {
	return p.states.Subscribe()
}

// UnsubscribeConnectionStates removes a listener registered via
// SubscribeConnectionStates.
func (p *Pool) UnsubscribeConnectionStates(id int) { p.states.Unsubscribe(id) }

// SubscribeMessages registers a new listener on the pool-wide message
// fan-in; the Subscription Engine's dispatch loop and the Publication
// Engine's OK listener each get their own.
func (p *Pool) SubscribeMessages() (int, <-chan wire.MessagePacket) { return p.messages.Subscribe() }

// UnsubscribeMessages removes a listener registered via
// SubscribeMessages.
func (p *Pool) UnsubscribeMessages(id int) { p.messages.Unsubscribe(id) }

// Get returns the record for an already-normalized URL, or false if the
// relay is not currently a pool member. Lookup by an un-normalized URL is
// undefined (spec §3).
func (p *Pool) Get(url string) (*RelayRecord, bool) {
	return p.records.Load(url)
}

// State returns url's current connection state. Per spec §7, a relay
// unknown to the pool is a programmer error, not a recoverable one: this
// panics rather than returning a zero value, matching the teacher's own
// MutexMap.Unlock invariant-violation panic.
func (p *Pool) State(url string) connstate.State {
	rec, ok := p.records.Load(url)
	if !ok {
		panic(fmt.Sprintf("relaypool: getRelayState called for unknown relay %q", url))
	}
	return rec.Transport.State()
}

// URLs returns the normalized URLs of every pool member.
func (p *Pool) URLs() []string {
	out := make([]string, 0, p.records.Size())
	p.records.Range(func(u string, _ *RelayRecord) bool {
		out = append(out, u)
		return true
	})
	return out
}

// ReadableURLs returns the normalized URLs of every read-flagged member.
func (p *Pool) ReadableURLs() []string {
	out := make([]string, 0, p.records.Size())
	p.records.Range(func(u string, r *RelayRecord) bool {
		if r.Read {
			out = append(out, u)
		}
		return true
	})
	return out
}

// WritableURLs returns the normalized URLs of every write-flagged member.
func (p *Pool) WritableURLs() []string {
	out := make([]string, 0, p.records.Size())
	p.records.Range(func(u string, r *RelayRecord) bool {
		if r.Write {
			out = append(out, u)
		}
		return true
	})
	return out
}

// Switch computes the next normalized pool from relays and reconciles it
// against the current membership, per spec §4.2 steps 1-6.
func (p *Pool) Switch(relays []RelayConfig) {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()
	if p.disposed {
		return
	}

	next := normalize(relays)
	oldURLs := p.URLs()

	prevReadable := lo.Filter(oldURLs, func(u string, _ int) bool {
		r, ok := p.records.Load(u)
		return ok && r.Read
	})
	var nextReadable []string
	for _, cfg := range next {
		if cfg.Read {
			nextReadable = append(nextReadable, cfg.URL)
		}
	}

	dropped := lo.Without(prevReadable, nextReadable...)
	addedReadable := lo.Without(nextReadable, prevReadable...)

	// 3. finalize and stop every relay that became unreadable.
	for _, url := range dropped {
		rec, ok := p.records.Load(url)
		if !ok {
			continue
		}
		p.finalizeAllSubs(rec)
		rec.Transport.Stop()
	}

	// 5. dispose transports for relays no longer in the pool at all.
	nextByURL := make(map[string]RelayConfig, len(next))
	for _, cfg := range next {
		nextByURL[cfg.URL] = cfg
	}
	p.records.Range(func(url string, rec *RelayRecord) bool {
		if _, stillMember := nextByURL[url]; !stillMember {
			rec.Transport.Dispose()
		}
		return true
	})

	// 6. assign the new record map, reusing transports for relays that
	// survive unchanged and creating fresh records (and transports) for
	// brand new members, whatever their read/write flags.
	newURLs := lo.Without(lo.Keys(nextByURL), oldURLs...)

	newRecords := xsync.NewMapOf[string, *RelayRecord]()
	for _, cfg := range next {
		if existing, ok := p.records.Load(cfg.URL); ok {
			existing.Read = cfg.Read
			existing.Write = cfg.Write
			newRecords.Store(cfg.URL, existing)
			continue
		}
		tr := p.newTransport(cfg.URL)
		newRecords.Store(cfg.URL, newRelayRecord(cfg, tr))
	}
	p.records = newRecords

	// start every brand new member's transport regardless of read/write,
	// so write-only relays can still receive publications.
	for _, url := range newURLs {
		if rec, ok := p.records.Load(url); ok {
			rec.Transport.Start(p.ctx)
		}
	}

	// 4. rehydrate forward REQs on every newly-readable relay (whether
	// brand new or an existing relay that just became readable again). A
	// relay that was stopped while unreadable (dropped, above) has a
	// Terminated transport that rehydrate's Send would otherwise silently
	// no-op against, so restart it first unless a run loop is already live.
	// A transport that is not ongoing yet is rehydrated by pump once it is.
	for _, url := range addedReadable {
		rec, ok := p.records.Load(url)
		if !ok {
			continue
		}
		if st := rec.Transport.State(); st == connstate.Initialized || st.Terminal() {
			rec.Transport.Start(p.ctx)
		}
		p.rehydrate(rec)
	}
}

// Add is a single-element application of Switch (spec §4.2).
func (p *Pool) Add(cfg RelayConfig) {
	p.Switch(p.withConfig(cfg))
}

// Remove drops url from the pool entirely.
func (p *Pool) Remove(url string) {
	url = nostr.NormalizeURL(url)
	next := make([]RelayConfig, 0, p.records.Size())
	p.records.Range(func(u string, rec *RelayRecord) bool {
		if u != url {
			next = append(next, RelayConfig{URL: u, Read: rec.Read, Write: rec.Write})
		}
		return true
	})
	p.Switch(next)
}

func (p *Pool) withConfig(cfg RelayConfig) []RelayConfig {
	next := make([]RelayConfig, 0, p.records.Size()+1)
	p.records.Range(func(u string, rec *RelayRecord) bool {
		if u != nostr.NormalizeURL(cfg.URL) {
			next = append(next, RelayConfig{URL: u, Read: rec.Read, Write: rec.Write})
		}
		return true
	})
	next = append(next, cfg)
	return next
}

// rehydrate resends every registered forward REQ that rec does not
// already hold active (spec §4.2 step 4 and §9's note that only one such
// loop is needed). Nothing is sent or recorded while rec's transport is
// not ongoing; pump calls rehydrate again once the transport connects.
func (p *Pool) rehydrate(rec *RelayRecord) {
	if rec.Transport.State() != connstate.Ongoing {
		return
	}
	for subID, frame := range p.registry.Snapshot() {
		if rec.ActiveSubIDs.Contains(subID) {
			continue
		}
		rec.Transport.Send(p.ctx, frame)
		rec.ActiveSubIDs.Add(subID)
	}
}

// finalizeAllSubs sends CLOSE for every subId this relay still holds
// active (spec §4.2 step 3).
func (p *Pool) finalizeAllSubs(rec *RelayRecord) {
	for _, subID := range rec.ActiveSubIDs.Snapshot() {
		rec.Transport.Send(p.ctx, wire.CloseFrame(subID))
		rec.ActiveSubIDs.Remove(subID)
	}
}

func (p *Pool) newTransport(url string) *transport.Transport {
	tr := transport.New(url, p.dialer, p.transCfg)
	go p.pump(url, tr)
	return tr
}

// pump forwards one transport's message/state/error streams into the
// pool-wide aggregates, tagging errors with a registrable-domain
// diagnostic attribute (SPEC_FULL.md §11).
func (p *Pool) pump(url string, tr *transport.Transport) {
	for {
		select {
		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			p.messages.Publish(msg)
		case st, ok := <-tr.ConnectionStates():
			if !ok {
				return
			}
			p.states.Publish(wire.ConnectionStatePacket{From: url, State: st})
			if st == connstate.Ongoing {
				// a readable relay that was still connecting when Switch
				// rehydrated it receives the forward REQs now.
				p.reconcileMu.Lock()
				if rec, ok := p.records.Load(url); ok && rec.Read && !p.disposed {
					p.rehydrate(rec)
				}
				p.reconcileMu.Unlock()
			}
			if st.Terminal() {
				// relay's activeSubIds is cleared on terminal failure so
				// subsequent readds may re-issue REQs (spec §7).
				if rec, ok := p.records.Load(url); ok {
					rec.ActiveSubIDs.Clear()
				}
			}
		case err, ok := <-tr.Errors():
			if !ok {
				return
			}
			domain := relayurl.RegistrableDomain(url)
			slog.Error("relaypool: transport error", slog.String("url", url), slog.String("domain", domain), slog.Any("error", err))
			p.errs.Publish(wire.ErrorPacket{From: url, Reason: err, Domain: domain})
		case <-p.ctx.Done():
			return
		}
	}
}

// Dispose completes all fan-in streams and disposes every transport;
// subsequent mutations are no-ops (spec §5).
func (p *Pool) Dispose() {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	p.records.Range(func(_ string, rec *RelayRecord) bool {
		rec.Transport.Dispose()
		return true
	})
	p.messages.Close()
	p.states.Close()
	p.errs.Close()
}

func normalize(relays []RelayConfig) []RelayConfig {
	// last-wins rule on duplicate normalized keys (spec §4.2 step 1).
	order := make([]string, 0, len(relays))
	byURL := make(map[string]RelayConfig, len(relays))
	for _, cfg := range relays {
		cfg.URL = nostr.NormalizeURL(cfg.URL)
		if _, seen := byURL[cfg.URL]; !seen {
			order = append(order, cfg.URL)
		}
		byURL[cfg.URL] = cfg
	}
	out := make([]RelayConfig, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}
