package subscription

import "github.com/asmogo/nostrmux/wire"

// RxReq is the caller-supplied request source (spec §4.4): a strategy
// and a lazy stream of filter lists. A nil Filters value is ignored, as
// is a closed channel (it simply means no further updates — for Forward
// the existing REQ keeps running; for Backward/Oneshot it means no more
// inner streams will be spawned).
type RxReq interface {
	ID() string
	Strategy() Strategy
	Filters() <-chan wire.Filters
}

// Subject is a minimal caller-facing RxReq implementation: a named,
// strategy-tagged channel the caller pushes filter updates into,
// mirroring the reactive "subject" shape rx-nostr's RxReq itself has.
type Subject struct {
	id       string
	strategy Strategy
	ch       chan wire.Filters
}

// NewSubject creates a Subject with the given rxReqId and strategy. The
// channel has a small buffer so Emit does not block on a slow engine.
func NewSubject(id string, strategy Strategy) *Subject {
	return &Subject{id: id, strategy: strategy, ch: make(chan wire.Filters, 8)}
}

func (s *Subject) ID() string              { return s.id }
func (s *Subject) Strategy() Strategy      { return s.strategy }
func (s *Subject) Filters() <-chan wire.Filters { return s.ch }

// Emit pushes a new filter list. Passing nil is a no-op observed by the
// engine (spec: "null values are ignored").
func (s *Subject) Emit(filters wire.Filters) { s.ch <- filters }

// Close signals no further filter updates will be emitted.
func (s *Subject) Close() { close(s.ch) }
