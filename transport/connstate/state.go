// Package connstate defines the Transport connection-state enum in its
// own leaf package so both wire.ConnectionStatePacket and transport.Transport
// can depend on it without creating an import cycle.
package connstate

// State is one of the lifecycle states of a single Transport, as described
// in spec §3/§4.1. Stop moves a Transport to Terminated; a stopped
// Transport leaves Terminated only when Start is called again, which a
// disposed Transport ignores.
type State int

const (
	Initialized State = iota
	Starting
	Ongoing
	Reconnecting
	Error
	Terminated
	Rejected
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Starting:
		return "starting"
	case Ongoing:
		return "ongoing"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	case Terminated:
		return "terminated"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether subId completion bookkeeping should treat this
// relay as settled (spec §4.4 step 4: error, terminated or rejected).
func (s State) Terminal() bool {
	return s == Error || s == Terminated || s == Rejected
}
