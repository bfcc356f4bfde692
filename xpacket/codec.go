package xpacket

import (
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/dotgame/event"
)

// EncodeEvent serializes ev into a complete packet.
func EncodeEvent(ev event.Event) ([]byte, error) {
	return Build(TypeEvent, SubtypeDefault, event.Marshal(ev))
}

// DecodeEvent parses one complete packet back into an Event. Every failure
// is reported as a *MalformedError.
func DecodeEvent(packet []byte) (event.Event, error) {
	p, err := Parse(packet)
	if err != nil {
		return event.Event{}, malformed(err)
	}
	if p.Type != TypeEvent {
		return event.Event{}, malformed(fmt.Errorf("unexpected packet type %d", p.Type))
	}

	payload, err := p.Payload()
	if err != nil {
		return event.Event{}, malformed(err)
	}

	ev, err := event.Unmarshal(payload)
	if err != nil {
		return event.Event{}, malformed(err)
	}

	return ev, nil
}

// DefaultReadBufferSize is the size of a single read from the stream.
const DefaultReadBufferSize = 1024

// Reader pulls events off a byte stream.
type Reader struct {
	r      io.Reader
	framer *Framer
	chunk  []byte
}

// NewReader wraps r. readSize is the size of each read call and maxBody the
// largest packet body accepted; non-positive values select the defaults.
func NewReader(r io.Reader, readSize, maxBody int) *Reader {
	if readSize <= 0 {
		readSize = DefaultReadBufferSize
	}
	return &Reader{
		r:      r,
		framer: NewFramer(maxBody),
		chunk:  make([]byte, readSize),
	}
}

// ReadPacket returns the next complete packet, reading from the stream as
// often as needed. A *MalformedError means garbage was skipped and the caller
// may keep reading; any other error comes from the stream and is final.
func (r *Reader) ReadPacket() ([]byte, error) {
	for {
		packet, err := r.framer.Next()
		if err != nil || packet != nil {
			return packet, err
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			_, _ = r.framer.Write(r.chunk[:n])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.framer.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// ReadEvent returns the next decoded event. Errors follow ReadPacket.
func (r *Reader) ReadEvent() (event.Event, error) {
	packet, err := r.ReadPacket()
	if err != nil {
		return event.Event{}, err
	}
	return DecodeEvent(packet)
}
