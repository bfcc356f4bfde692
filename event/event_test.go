package event

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "PlayerConnected", KindPlayerConnected.String())
	assert.Equal(t, "PointPlaced", KindPointPlaced.String())
	assert.Equal(t, "PlayerDisconnected", KindPlayerDisconnected.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.False(t, KindUnknown.Valid())
}

func TestMarshal_RoundTrip(t *testing.T) {
	manyPlayers := make([]string, 0, 64)
	colors := make(map[string]string, 64)
	for i := 0; i < 64; i++ {
		name := fmt.Sprintf("player-%02d", i)
		manyPlayers = append(manyPlayers, name)
		colors[name] = fmt.Sprintf("#%06X", i*4099)
	}

	tests := []struct {
		name string
		ev   Event
	}{
		{"connect announcement", Connected("alice", "")},
		{"connect with color", Connected("bob", "#A1B2C3")},
		{"point", Event{Kind: KindPointPlaced, SessionID: "s-1", Username: "alice", X: 640, Y: 480, Color: "#00FF00"}},
		{"negative coordinates", Event{Kind: KindPointPlaced, X: -12, Y: -99999}},
		{"disconnect", Disconnected("s-2", "carol")},
		{"absent collections", Event{Kind: KindPlayerConnected, SessionID: "s-3"}},
		{"empty collections", Event{
			Kind:         KindPlayerConnected,
			SessionID:    "s-4",
			Players:      []string{},
			PlayerColors: map[string]string{},
			Points:       []Point{},
		}},
		{"unicode", Connected("игрок ✏️", "#FFFFFF")},
		{
			"join snapshot larger than one chunk",
			Event{
				Kind:         KindPlayerConnected,
				SessionID:    "0b7c7c0e-6c8e-4d4c-9d0c-1b1c0f0a9d11",
				Username:     "player-63",
				Color:        "#123456",
				Players:      manyPlayers,
				PlayerColors: colors,
				Points: []Point{
					{Username: "player-00", X: 1, Y: 2, Color: "#000000"},
					{Username: "player-01", X: 300, Y: 400, Color: "#FFFFFF"},
					{X: 5},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := Marshal(tt.ev)

			decoded, err := Unmarshal(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.ev, decoded)
		})
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	ev := Event{
		Kind:         KindPlayerConnected,
		PlayerColors: map[string]string{"c": "#000003", "a": "#000001", "b": "#000002"},
	}

	first := Marshal(ev)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Marshal(ev))
	}
}

func TestMarshalBinary(t *testing.T) {
	ev := Event{Kind: KindPointPlaced, X: 3, Y: 4}

	data, err := ev.MarshalBinary()
	require.NoError(t, err)

	var out Event
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, ev, out)
}

func TestUnmarshal_Errors(t *testing.T) {
	valid := Marshal(Event{Kind: KindPointPlaced, Username: "alice", X: 1})

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"truncated", valid[:len(valid)-1], ErrTruncated},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00), ErrTrailingBytes},
		{"no kind", []byte{0x00}, ErrMissingKind},
		{"unknown kind", []byte{0x01, 0x01, 0x09}, ErrUnknownKind},
		{"unknown field", []byte{0x01, 0x63, 0x00}, ErrUnknownField},
		{"duplicate field", []byte{0x02, 0x01, 0x02, 0x01, 0x02}, ErrDuplicateField},
		{"string longer than payload", []byte{0x02, 0x01, 0x02, 0x03, 0x7F, 'a'}, ErrTruncated},
		{"huge list count", []byte{0x02, 0x01, 0x01, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Unmarshal(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, Event{}, ev)
		})
	}
}

func TestSchema_IDsAreUnique(t *testing.T) {
	seen := map[byte]string{}
	for _, f := range append(EventSchema(), PointSchema()...) {
		prev, dup := seen[f.ID]
		assert.False(t, dup, "field id %d used by %s and %s", f.ID, prev, f.Name)
		seen[f.ID] = f.Name
	}
	assert.Len(t, seen, 13)
}

func TestIsColor(t *testing.T) {
	assert.True(t, IsColor("#A1b2C3"))
	assert.False(t, IsColor("A1B2C3"))
	assert.False(t, IsColor("#A1B2C"))
	assert.False(t, IsColor("#GGGGGG"))
	assert.False(t, IsColor(strings.Repeat("#", 7)))
}
