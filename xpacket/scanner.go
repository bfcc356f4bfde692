package xpacket

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FindPacketEnd returns the length of the first complete packet at the start
// of buf, or -1 if more bytes are needed. It reads only the fixed header, so
// the cost does not depend on the payload and payload bytes can never end a
// packet early.
//
// Parameters:
//   - buf: Bytes accumulated from the stream so far, starting at a packet boundary
//   - maxBody: Largest body length to accept
//
// Returns:
//   - The end index (exclusive) of the first packet, or -1 if incomplete
//   - ErrBadMagic or ErrPacketTooLarge if buf cannot start a valid packet
func FindPacketEnd(buf []byte, maxBody int) (int, error) {
	n := min(len(buf), len(magic))
	if !bytes.Equal(buf[:n], magic[:n]) {
		return -1, ErrBadMagic
	}
	if len(buf) < HeaderSize {
		return -1, nil
	}

	bodyLen := binary.BigEndian.Uint32(buf[5:HeaderSize])
	if uint64(bodyLen) > uint64(maxBody) {
		return -1, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, bodyLen, maxBody)
	}

	end := HeaderSize + int(bodyLen) + TrailerSize
	if len(buf) < end {
		return -1, nil
	}

	return end, nil
}

// Framer reassembles packets from arbitrarily sized reads. It is not safe for
// concurrent use; each connection owns one.
type Framer struct {
	buf     []byte
	maxBody int
}

// NewFramer creates a Framer that rejects bodies larger than maxBody. A
// non-positive maxBody selects MaxBody.
func NewFramer(maxBody int) *Framer {
	if maxBody <= 0 {
		maxBody = MaxBody
	}
	return &Framer{maxBody: maxBody}
}

// Write appends stream bytes to the reassembly buffer. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a complete packet.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next removes and returns the next complete packet. It returns (nil, nil)
// when the buffer holds only part of a packet.
//
// When the buffer does not start with a valid header, Next discards bytes up
// to the next possible magic and returns a *MalformedError; calling Next
// again continues with the remaining bytes.
func (f *Framer) Next() ([]byte, error) {
	end, err := FindPacketEnd(f.buf, f.maxBody)
	if err != nil {
		dropped := f.resync()
		return nil, malformed(fmt.Errorf("%w (discarded %d bytes)", err, dropped))
	}
	if end < 0 {
		return nil, nil
	}

	packet := make([]byte, end)
	copy(packet, f.buf[:end])
	f.consume(end)

	return packet, nil
}

// resync drops the current leading byte and everything up to the next byte
// that could begin a packet.
func (f *Framer) resync() int {
	next := bytes.IndexByte(f.buf[1:], magic[0])
	if next < 0 {
		dropped := len(f.buf)
		f.buf = f.buf[:0]
		return dropped
	}

	f.consume(next + 1)
	return next + 1
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}
