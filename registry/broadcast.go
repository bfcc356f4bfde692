package registry

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/xpacket"
)

// Result summarises one broadcast.
type Result struct {
	Delivered int
	Failed    int
	// Err joins the per-peer write errors, or holds the encode error when
	// nothing was sent.
	Err error
}

// BroadcastAll encodes ev once and writes it to every registered session.
func (r *Registry) BroadcastAll(ev event.Event) Result {
	return r.broadcast(ev, "")
}

// BroadcastExcept encodes ev once and writes it to every registered session
// except senderID.
func (r *Registry) BroadcastExcept(ev event.Event, senderID string) Result {
	return r.broadcast(ev, senderID)
}

func (r *Registry) broadcast(ev event.Event, skip string) Result {
	data, err := xpacket.EncodeEvent(ev)
	if err != nil {
		return Result{Err: fmt.Errorf("encode %s: %w", ev.Kind, err)}
	}

	var res Result
	var errs []error
	for _, p := range r.recipients(skip) {
		if err := p.Send(data); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("send to %s: %w", p.ID(), err))
			continue
		}
		res.Delivered++
	}
	res.Err = errors.Join(errs...)

	return res
}

// recipients copies the target peers so writes happen without the lock and a
// session closing mid-broadcast cannot disturb the iteration.
func (r *Registry) recipients(skip string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]Peer, 0, len(r.entries))
	for id, e := range r.entries {
		if skip != "" && id == skip {
			continue
		}
		peers = append(peers, e.peer)
	}
	return peers
}
