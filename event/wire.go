package event

import (
	"encoding/binary"
	"fmt"
)

type encoder struct {
	buf []byte
}

func (w *encoder) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *encoder) uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *encoder) varint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

func (w *encoder) string(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *encoder) stringList(list []string) {
	w.uvarint(uint64(len(list)))
	for _, s := range list {
		w.string(s)
	}
}

func (w *encoder) stringMap(m map[string]string) {
	w.uvarint(uint64(len(m)))
	for _, k := range sortedKeys(m) {
		w.string(k)
		w.string(m[k])
	}
}

type decoder struct {
	buf []byte
	off int
}

func (r *decoder) remaining() int {
	return len(r.buf) - r.off
}

func (r *decoder) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.off += n
	return v, nil
}

func (r *decoder) int() (int, error) {
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.off += n
	return int(v), nil
}

// count reads a collection length. Every element occupies at least one byte,
// so a count larger than what is left is rejected before anything is
// allocated.
func (r *decoder) count() (int, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(r.remaining()) {
		return 0, fmt.Errorf("%w: count %d exceeds %d remaining bytes", ErrTruncated, v, r.remaining())
	}
	return int(v), nil
}

func (r *decoder) string() (string, error) {
	n, err := r.count()
	if err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}

func (r *decoder) stringList() ([]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	list := make([]string, n)
	for i := range list {
		if list[i], err = r.string(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *decoder) stringMap() (map[string]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := r.string()
		if err != nil {
			return nil, err
		}
		v, err := r.string()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
