package wire

import "github.com/asmogo/nostrmux/transport/connstate"

// MessagePacket is the ephemeral envelope placed on the pool-wide fan-in
// stream: never buffered beyond a single hand-off (spec §3).
type MessagePacket struct {
	From    string
	Message Incoming
}

// EventPacket is what the Subscription Engine yields to callers.
type EventPacket struct {
	From  string
	SubID string
	Event *Event
}

// OkPacket is surfaced by the Publication Engine, at most one per
// (From, EventID) per publication.
type OkPacket struct {
	From string
	ID   string
}

// ErrorPacket is surfaced once a transport's reconnect budget is
// exhausted, and for every malformed frame a transport suppressed.
type ErrorPacket struct {
	From   string
	Reason error
	// Domain is a diagnostic grouping key (registrable domain of From),
	// populated by relaypool for log correlation across relays sharing
	// an operator.
	Domain string
}

// ConnectionStatePacket is emitted on every transport state transition.
type ConnectionStatePacket struct {
	From  string
	State connstate.State
}
