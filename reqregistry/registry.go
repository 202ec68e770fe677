// Package reqregistry implements the Active-REQ Registry (spec §4.3): a
// forward-only cache of the most recently sent REQ frame per subId, used
// to rehydrate relays added to the pool after a forward subscription is
// already live.
package reqregistry

import (
	"github.com/asmogo/nostrmux/wire"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry is safe for concurrent use; the Relay Pool reads it during
// fan-out while the Subscription Engine writes to it on every forward
// filter update.
type Registry struct {
	reqs *xsync.MapOf[string, []any]
}

func New() *Registry {
	return &Registry{reqs: xsync.NewMapOf[string, []any]()}
}

// Store records the last-sent REQ frame for subID, overwriting any
// previous entry (spec: "overwritten on every subsequent filter update").
func (r *Registry) Store(subID string, filters wire.Filters) {
	r.reqs.Store(subID, wire.ReqFrame(subID, filters))
}

// Delete removes subID, called when the caller unsubscribes the
// resulting event stream.
func (r *Registry) Delete(subID string) {
	r.reqs.Delete(subID)
}

// Snapshot returns every currently registered REQ frame, for rehydrating
// a newly added relay.
func (r *Registry) Snapshot() map[string][]any {
	out := make(map[string][]any, r.reqs.Size())
	r.reqs.Range(func(subID string, frame []any) bool {
		out[subID] = frame
		return true
	})
	return out
}
