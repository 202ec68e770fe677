package relaypool

import (
	"github.com/asmogo/nostrmux/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// RelayConfig is the caller-supplied description of one relay membership
// (spec §3): a value type, keyed by its normalized URL.
type RelayConfig struct {
	URL   string
	Read  bool
	Write bool
}

// activeSubSet is the concurrency-safe subId membership set backing
// RelayRecord.ActiveSubIDs (spec §3: "a subset of subscription ids for
// which this relay has received a REQ and not yet a matching CLOSE").
type activeSubSet struct {
	m *xsync.MapOf[string, struct{}]
}

func newActiveSubSet() activeSubSet {
	return activeSubSet{m: xsync.NewMapOf[string, struct{}]()}
}

func (s activeSubSet) Add(subID string)      { s.m.Store(subID, struct{}{}) }
func (s activeSubSet) Remove(subID string)   { s.m.Delete(subID) }
func (s activeSubSet) Contains(subID string) bool {
	_, ok := s.m.Load(subID)
	return ok
}
func (s activeSubSet) Clear() {
	s.m.Range(func(k string, _ struct{}) bool {
		s.m.Delete(k)
		return true
	})
}
func (s activeSubSet) Snapshot() []string {
	out := make([]string, 0, s.m.Size())
	s.m.Range(func(k string, _ struct{}) bool {
		out = append(out, k)
		return true
	})
	return out
}

// RelayRecord is the pool's authoritative per-relay state (spec §3):
// created on first appearance, destroyed (transport disposed) on
// removal.
type RelayRecord struct {
	URL          string
	Read         bool
	Write        bool
	Transport    *transport.Transport
	ActiveSubIDs activeSubSet
}

func newRelayRecord(cfg RelayConfig, tr *transport.Transport) *RelayRecord {
	return &RelayRecord{
		URL:          cfg.URL,
		Read:         cfg.Read,
		Write:        cfg.Write,
		Transport:    tr,
		ActiveSubIDs: newActiveSubSet(),
	}
}
