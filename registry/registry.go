// Package registry holds the server's shared state: the live sessions and the
// list of placed points. Every read and mutation goes through one mutex;
// broadcasts copy the recipients under the lock and write after releasing it.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cyberinferno/dotgame/event"
)

var (
	ErrUnknownSession   = errors.New("registry: unknown session")
	ErrDuplicateSession = errors.New("registry: duplicate session id")
)

// Peer is the part of a session the registry needs: an identity and a way to
// deliver encoded packets. Send must be safe for concurrent use.
type Peer interface {
	ID() string
	Send(data []byte) error
}

// Member describes a registered session.
type Member struct {
	ID         string
	Username   string
	Color      string
	Identified bool
}

// Snapshot is the state handed to a newly identified player.
type Snapshot struct {
	Players      []string
	PlayerColors map[string]string
	Points       []event.Point
}

type entry struct {
	peer       Peer
	username   string
	color      string
	identified bool
	joinSeq    uint64
}

// Registry is the process-wide table of sessions and points. The zero value
// is not usable; call New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
	points  []event.Point
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// AddSession makes p reachable by broadcasts. It is registered unidentified.
func (r *Registry) AddSession(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[p.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, p.ID())
	}
	r.entries[p.ID()] = &entry{peer: p}
	return nil
}

// RemoveSession unregisters id and returns what it was. The boolean is false
// when id was not registered, which lets concurrent closers agree on exactly
// one of them performing the removal.
func (r *Registry) RemoveSession(id string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Member{}, false
	}
	delete(r.entries, id)
	return e.member(id), true
}

// Session returns the registered state of id.
func (r *Registry) Session(id string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Member{}, false
	}
	return e.member(id), true
}

// Identify records username and color for id and returns the state the new
// player should see, taken atomically with the update. Identifying an
// already identified session overwrites its username and color.
func (r *Registry) Identify(id, username, color string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	if !e.identified {
		r.nextSeq++
		e.joinSeq = r.nextSeq
		e.identified = true
	}
	e.username = username
	e.color = color

	return r.snapshotLocked(), nil
}

// PlacePoint appends a point at (x, y) owned by session id, stamped with the
// session's current username and color. Both are empty for a session that
// has not joined yet.
func (r *Registry) PlacePoint(id string, x, y int) (event.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return event.Point{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	p := event.Point{Username: e.username, X: x, Y: y, Color: e.color}
	r.points = append(r.points, p)
	return p, nil
}

// AppendPoint adds p to the shared list as is.
func (r *Registry) AppendPoint(p event.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.points = append(r.points, p)
}

// AllPoints returns a copy of the shared point list in placement order.
func (r *Registry) AllPoints() []event.Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]event.Point(nil), r.points...)
}

// PointCount returns the number of stored points.
func (r *Registry) PointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.points)
}

// RemovePointsOf deletes every point owned by username and returns how many
// were removed.
func (r *Registry) RemovePointsOf(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.points[:0]
	for _, p := range r.points {
		if p.Username != username {
			kept = append(kept, p)
		}
	}
	removed := len(r.points) - len(kept)
	clear(r.points[len(kept):])
	r.points = kept
	return removed
}

// Players returns the usernames of identified sessions in join order.
func (r *Registry) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.playersLocked()
}

// PlayerColors returns the username to color mapping of identified sessions.
func (r *Registry) PlayerColors() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.colorsLocked()
}

// Snapshot returns players, colors and points as one consistent view.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// Len returns the number of registered sessions, identified or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// PlayerCount returns the number of identified sessions.
func (r *Registry) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.identified {
			n++
		}
	}
	return n
}

func (r *Registry) identifiedLocked() []*entry {
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.identified {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].joinSeq < list[j].joinSeq })
	return list
}

func (r *Registry) playersLocked() []string {
	list := r.identifiedLocked()
	players := make([]string, len(list))
	for i, e := range list {
		players[i] = e.username
	}
	return players
}

func (r *Registry) colorsLocked() map[string]string {
	colors := make(map[string]string)
	for _, e := range r.identifiedLocked() {
		colors[e.username] = e.color
	}
	return colors
}

func (r *Registry) snapshotLocked() Snapshot {
	return Snapshot{
		Players:      r.playersLocked(),
		PlayerColors: r.colorsLocked(),
		Points:       append([]event.Point(nil), r.points...),
	}
}

func (e *entry) member(id string) Member {
	return Member{ID: id, Username: e.username, Color: e.color, Identified: e.identified}
}
