package subscription

import (
	"sync"

	"github.com/asmogo/nostrmux/wire"
)

// hub re-dispatches the Relay Pool's single message/state fan-in streams
// to however many subId-scoped consumers (forward loops, backward/oneshot
// inner streams) currently care, since a Go channel can only be drained
// by one reader. It is the concurrency adapter for the cooperative,
// single-dispatch-loop model spec §5/§9 describes.
type hub struct {
	mu          sync.Mutex
	bySubID     map[string]chan wire.MessagePacket
	stateSubs   map[int]chan struct{}
	nextStateID int
}

func newHub() *hub {
	return &hub{
		bySubID:   make(map[string]chan wire.MessagePacket),
		stateSubs: make(map[int]chan struct{}),
	}
}

func (h *hub) register(subID string) chan wire.MessagePacket {
	ch := make(chan wire.MessagePacket, 64)
	h.mu.Lock()
	h.bySubID[subID] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(subID string) {
	h.mu.Lock()
	ch, ok := h.bySubID[subID]
	delete(h.bySubID, subID)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *hub) registerState() (int, chan struct{}) {
	ch := make(chan struct{}, 8)
	h.mu.Lock()
	id := h.nextStateID
	h.nextStateID++
	h.stateSubs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *hub) unregisterState(id int) {
	h.mu.Lock()
	ch, ok := h.stateSubs[id]
	delete(h.stateSubs, id)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// subIDOf extracts the subscription id carried by an inbound message, if
// any (EVENT and EOSE only; OK/NOTICE/AUTH carry none).
func subIDOf(msg wire.Incoming) (string, bool) {
	switch m := msg.(type) {
	case wire.EventMessage:
		return m.SubID, true
	case wire.EoseMessage:
		return m.SubID, true
	default:
		return "", false
	}
}

func (h *hub) routeMessage(pkt wire.MessagePacket) {
	subID, ok := subIDOf(pkt.Message)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.bySubID[subID]
	if !ok {
		return
	}
	select {
	case ch <- pkt:
	default:
		// a full buffer means the consuming inner stream is gone or
		// stalled; dropping here matches "events after completion are
		// dropped" (spec §4.4 edge cases) rather than blocking the
		// shared dispatch loop.
	}
}

func (h *hub) broadcastStateTrigger() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.stateSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
