// Package xpacket implements the binary packet format spoken between game
// clients and the server.
//
// A packet is laid out as:
//
//	magic[3] type[1] subtype[1] bodyLen[4, big-endian] body[bodyLen] trailer[2]
//
// The body is a sequence of field records (id u8, len u8, content[len]). A
// payload longer than 255 bytes is split over several records with
// sequential ids starting at 0. Framing relies on bodyLen, never on
// searching for the trailer, so payload bytes may contain any value.
package xpacket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	HeaderSize  = 9
	TrailerSize = 2

	// MaxChunk is the largest content a single field record can carry.
	MaxChunk = 255
	// MaxFields is the number of distinct field ids.
	MaxFields = 256
	// MaxPayload is the largest payload a single packet can carry.
	MaxPayload = MaxChunk * MaxFields
	// MaxBody is the largest well-formed body: every field record full.
	MaxBody = MaxFields * (2 + MaxChunk)
)

// Packet types. Only game events are defined today.
const (
	TypeEvent      byte = 1
	SubtypeDefault byte = 0
)

var (
	magic   = [3]byte{0xAF, 0xAA, 0xAF}
	trailer = [2]byte{0xFF, 0x00}
)

var (
	ErrBadMagic        = errors.New("xpacket: bad magic")
	ErrBadTrailer      = errors.New("xpacket: bad trailer")
	ErrPacketTooLarge  = errors.New("xpacket: packet body exceeds limit")
	ErrPayloadTooLarge = errors.New("xpacket: payload needs more than 256 field records")
	ErrMalformedFields = errors.New("xpacket: malformed field records")
	ErrEmptyPacket     = errors.New("xpacket: packet has no fields")
	ErrLengthMismatch  = errors.New("xpacket: packet length does not match header")
)

// MalformedError marks a problem with one packet's bytes, as opposed to an
// I/O failure on the underlying stream. The packet is dropped; the stream is
// still usable.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return "malformed packet: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err describes a bad packet rather than a
// broken stream.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

func malformed(err error) error {
	return &MalformedError{Err: err}
}

// Field is one field record of a packet body.
type Field struct {
	ID       byte
	Contents []byte
}

// Packet is a parsed packet.
type Packet struct {
	Type    byte
	Subtype byte
	Fields  []Field
}

// Build splits payload into field records and wraps them in a complete
// packet ready to be written to a stream.
//
// Parameters:
//   - typ: The packet type (e.g. TypeEvent)
//   - subtype: The packet subtype
//   - payload: The bytes to carry; at most MaxPayload
//
// Returns:
//   - The encoded packet
//   - ErrPayloadTooLarge if payload needs more than MaxFields records
func Build(typ, subtype byte, payload []byte) ([]byte, error) {
	chunks := (len(payload) + MaxChunk - 1) / MaxChunk
	if chunks > MaxFields {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	bodyLen := len(payload) + 2*chunks
	out := make([]byte, 0, HeaderSize+bodyLen+TrailerSize)
	out = append(out, magic[:]...)
	out = append(out, typ, subtype)
	out = binary.BigEndian.AppendUint32(out, uint32(bodyLen))

	for id := 0; id < chunks; id++ {
		start := id * MaxChunk
		end := min(start+MaxChunk, len(payload))
		out = append(out, byte(id), byte(end-start))
		out = append(out, payload[start:end]...)
	}

	return append(out, trailer[:]...), nil
}

// Parse decodes one complete packet, as delimited by FindPacketEnd.
func Parse(data []byte) (Packet, error) {
	if len(data) < HeaderSize+TrailerSize {
		return Packet{}, ErrLengthMismatch
	}
	if [3]byte(data[:3]) != magic {
		return Packet{}, ErrBadMagic
	}

	bodyLen := int(binary.BigEndian.Uint32(data[5:HeaderSize]))
	if len(data) != HeaderSize+bodyLen+TrailerSize {
		return Packet{}, fmt.Errorf("%w: header says %d, have %d", ErrLengthMismatch, bodyLen, len(data)-HeaderSize-TrailerSize)
	}
	if [2]byte(data[HeaderSize+bodyLen:]) != trailer {
		return Packet{}, ErrBadTrailer
	}

	p := Packet{Type: data[3], Subtype: data[4]}
	body := data[HeaderSize : HeaderSize+bodyLen]
	for off := 0; off < len(body); {
		if len(body)-off < 2 {
			return Packet{}, fmt.Errorf("%w: dangling byte at %d", ErrMalformedFields, off)
		}
		id, size := body[off], int(body[off+1])
		off += 2
		if len(body)-off < size {
			return Packet{}, fmt.Errorf("%w: field %d wants %d bytes, %d left", ErrMalformedFields, id, size, len(body)-off)
		}
		p.Fields = append(p.Fields, Field{ID: id, Contents: body[off : off+size]})
		off += size
	}

	return p, nil
}

// Payload reassembles the field records in ascending id order. Ids must be
// unique and contiguous from 0.
func (p Packet) Payload() ([]byte, error) {
	if len(p.Fields) == 0 {
		return nil, ErrEmptyPacket
	}

	fields := make([]Field, len(p.Fields))
	copy(fields, p.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })

	size := 0
	for i, f := range fields {
		if int(f.ID) != i {
			return nil, fmt.Errorf("%w: expected field %d, got %d", ErrMalformedFields, i, f.ID)
		}
		size += len(f.Contents)
	}

	payload := make([]byte, 0, size)
	for _, f := range fields {
		payload = append(payload, f.Contents...)
	}

	return payload, nil
}
