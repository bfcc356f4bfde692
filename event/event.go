// Package event defines the payload carried by every game packet: a tagged
// record describing a player joining, a point being placed, or a player
// leaving, together with the flat binary encoding used to put it on the wire.
package event

import (
	"fmt"
	"regexp"
)

// Kind identifies what happened.
type Kind uint8

const (
	KindUnknown            Kind = iota // Zero value; never valid on the wire
	KindPlayerConnected                // A player announced (or re-announced) its identity
	KindPointPlaced                    // A player placed a point
	KindPlayerDisconnected             // A player left
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPlayerConnected:
		return "PlayerConnected"
	case KindPointPlaced:
		return "PointPlaced"
	case KindPlayerDisconnected:
		return "PlayerDisconnected"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindPlayerConnected && k <= KindPlayerDisconnected
}

// Point is one placed point together with its owner and the owner's color at
// the time it was placed.
type Point struct {
	Username string
	X        int
	Y        int
	Color    string
}

// Event is the unit of communication between clients and the server.
//
// SessionID is stamped by the server when relaying and ignored when a client
// sends. Players, PlayerColors and Points are only populated on the join
// snapshot the server broadcasts after a PlayerConnected.
type Event struct {
	Kind         Kind
	SessionID    string
	Username     string
	X            int
	Y            int
	Color        string
	Players      []string
	PlayerColors map[string]string
	Points       []Point
}

// Connected builds a client-side PlayerConnected announcement. An empty color
// asks the server to assign one.
func Connected(username, color string) Event {
	return Event{Kind: KindPlayerConnected, Username: username, Color: color}
}

// Placed builds a client-side PointPlaced event.
func Placed(x, y int) Event {
	return Event{Kind: KindPointPlaced, X: x, Y: y}
}

// Disconnected builds a PlayerDisconnected event for username.
func Disconnected(sessionID, username string) Event {
	return Event{Kind: KindPlayerDisconnected, SessionID: sessionID, Username: username}
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// IsColor reports whether s is a hex color code of the form #RRGGBB.
func IsColor(s string) bool {
	return colorPattern.MatchString(s)
}
