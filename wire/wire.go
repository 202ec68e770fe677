// Package wire implements the client/relay message framing described in
// NIP-01: REQ, CLOSE and EVENT outbound, and EVENT, EOSE, OK, NOTICE and
// AUTH inbound. Event and Filter themselves are not reimplemented here;
// both are the go-nostr types, since encoding/signing them is explicitly
// an external collaborator's job.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event and Filter are re-exported so callers of this module never need
// to import go-nostr directly for the common case.
type Event = nostr.Event
type Filter = nostr.Filter
type Filters = nostr.Filters
type Tag = nostr.Tag
type Tags = nostr.Tags

// Label identifies the first element of a relay<->client frame array.
type Label string

const (
	LabelReq    Label = "REQ"
	LabelClose  Label = "CLOSE"
	LabelEvent  Label = "EVENT"
	LabelEose   Label = "EOSE"
	LabelOk     Label = "OK"
	LabelNotice Label = "NOTICE"
	LabelAuth   Label = "AUTH"
)

// ReqFrame builds an outbound ["REQ", subID, filter...] frame.
func ReqFrame(subID string, filters Filters) []any {
	frame := make([]any, 0, len(filters)+2)
	frame = append(frame, LabelReq, subID)
	for _, f := range filters {
		frame = append(frame, f)
	}
	return frame
}

// CloseFrame builds an outbound ["CLOSE", subID] frame.
func CloseFrame(subID string) []any {
	return []any{LabelClose, subID}
}

// EventFrame builds an outbound ["EVENT", event] frame.
func EventFrame(ev *Event) []any {
	return []any{LabelEvent, ev}
}

// AuthFrame builds an outbound ["AUTH", event] frame.
func AuthFrame(ev *Event) []any {
	return []any{LabelAuth, ev}
}

// Marshal serializes an outbound frame as the single JSON text message the
// transport must send.
func Marshal(frame []any) ([]byte, error) {
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wire: could not marshal frame: %w", err)
	}
	return b, nil
}

// Incoming is implemented by every parsed relay->client message.
type Incoming interface {
	Label() Label
}

type EventMessage struct {
	SubID string
	Event *Event
}

func (EventMessage) Label() Label { return LabelEvent }

type EoseMessage struct {
	SubID string
}

func (EoseMessage) Label() Label { return LabelEose }

type OkMessage struct {
	EventID  string
	Accepted bool
	Message  string
}

func (OkMessage) Label() Label { return LabelOk }

type NoticeMessage struct {
	Text string
}

func (NoticeMessage) Label() Label { return LabelNotice }

type AuthMessage struct {
	Challenge string
}

func (AuthMessage) Label() Label { return LabelAuth }

// ErrMalformedFrame is returned (never panicked) when a relay sends a
// frame that does not parse as one of the known inbound shapes. Per spec
// §6 the transport must suppress these, not fail the connection.
type ErrMalformedFrame struct {
	Raw []byte
	Err error
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("wire: malformed frame %q: %v", string(e.Raw), e.Err)
}

func (e *ErrMalformedFrame) Unwrap() error { return e.Err }

// Parse decodes a single raw relay->client JSON-array text message into
// one of the Incoming implementations above.
func Parse(raw []byte) (Incoming, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, &ErrMalformedFrame{Raw: raw, Err: err}
	}
	if len(parts) < 1 {
		return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("empty frame")}
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("bad label: %w", err)}
	}

	switch Label(label) {
	case LabelEvent:
		if len(parts) < 3 {
			return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("EVENT needs 3 elements")}
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		ev := &Event{}
		if err := json.Unmarshal(parts[2], ev); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		return EventMessage{SubID: subID, Event: ev}, nil

	case LabelEose:
		if len(parts) < 2 {
			return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("EOSE needs 2 elements")}
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		return EoseMessage{SubID: subID}, nil

	case LabelOk:
		if len(parts) < 3 {
			return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("OK needs at least 3 elements")}
		}
		var eventID string
		var accepted bool
		var message string
		if err := json.Unmarshal(parts[1], &eventID); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		if err := json.Unmarshal(parts[2], &accepted); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		if len(parts) >= 4 {
			_ = json.Unmarshal(parts[3], &message)
		}
		return OkMessage{EventID: eventID, Accepted: accepted, Message: message}, nil

	case LabelNotice:
		if len(parts) < 2 {
			return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("NOTICE needs 2 elements")}
		}
		var text string
		if err := json.Unmarshal(parts[1], &text); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		return NoticeMessage{Text: text}, nil

	case LabelAuth:
		if len(parts) < 2 {
			return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("AUTH needs 2 elements")}
		}
		var challenge string
		if err := json.Unmarshal(parts[1], &challenge); err != nil {
			return nil, &ErrMalformedFrame{Raw: raw, Err: err}
		}
		return AuthMessage{Challenge: challenge}, nil

	default:
		return nil, &ErrMalformedFrame{Raw: raw, Err: fmt.Errorf("unknown label %q", label)}
	}
}
