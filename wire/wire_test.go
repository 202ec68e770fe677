package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    Incoming
		wantErr bool
	}{
		{
			name: "event",
			raw:  `["EVENT","sub1",{"id":"abc","kind":1,"content":"hi","tags":[],"created_at":1,"pubkey":"pk","sig":"sig"}]`,
			want: EventMessage{SubID: "sub1", Event: &Event{ID: "abc", Kind: 1, Content: "hi", CreatedAt: 1, PubKey: "pk", Sig: "sig", Tags: Tags{}}},
		},
		{
			name: "eose",
			raw:  `["EOSE","sub1"]`,
			want: EoseMessage{SubID: "sub1"},
		},
		{
			name: "ok accepted",
			raw:  `["OK","eventid",true,"stored"]`,
			want: OkMessage{EventID: "eventid", Accepted: true, Message: "stored"},
		},
		{
			name: "ok no message",
			raw:  `["OK","eventid",false]`,
			want: OkMessage{EventID: "eventid", Accepted: false},
		},
		{
			name: "notice",
			raw:  `["NOTICE","rate limited"]`,
			want: NoticeMessage{Text: "rate limited"},
		},
		{
			name: "auth",
			raw:  `["AUTH","challenge-123"]`,
			want: AuthMessage{Challenge: "challenge-123"},
		},
		{
			name:    "not an array",
			raw:     `{"not":"an array"}`,
			wantErr: true,
		},
		{
			name:    "empty array",
			raw:     `[]`,
			wantErr: true,
		},
		{
			name:    "unknown label",
			raw:     `["WAT"]`,
			wantErr: true,
		},
		{
			name:    "event too short",
			raw:     `["EVENT","sub1"]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				var malformed *ErrMalformedFrame
				assert.ErrorAs(t, err, &malformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReqFrame(t *testing.T) {
	t.Parallel()
	frame := ReqFrame("sub1", Filters{{Kinds: []int{1}}})
	b, err := Marshal(frame)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(b, &parts))
	require.Len(t, parts, 3)

	var label, subID string
	require.NoError(t, json.Unmarshal(parts[0], &label))
	require.NoError(t, json.Unmarshal(parts[1], &subID))
	assert.Equal(t, "REQ", label)
	assert.Equal(t, "sub1", subID)
}

func TestCloseFrame(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []any{LabelClose, "sub1"}, CloseFrame("sub1"))
}

func TestEventFrame(t *testing.T) {
	t.Parallel()
	ev := &Event{ID: "abc"}
	assert.Equal(t, []any{LabelEvent, ev}, EventFrame(ev))
}
