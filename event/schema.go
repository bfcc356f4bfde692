package event

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrTruncated      = errors.New("event: payload truncated")
	ErrTrailingBytes  = errors.New("event: trailing bytes after record")
	ErrUnknownField   = errors.New("event: unknown field id")
	ErrDuplicateField = errors.New("event: duplicate field id")
	ErrMissingKind    = errors.New("event: missing kind")
	ErrUnknownKind    = errors.New("event: unknown kind")
)

// ValueType is the wire type of a schema field.
type ValueType uint8

const (
	TypeUvarint ValueType = iota + 1
	TypeVarint
	TypeString
	TypeStringList
	TypeStringMap
	TypePointList
)

// FieldInfo describes one entry of a record schema.
type FieldInfo struct {
	ID   byte
	Name string
	Type ValueType
}

// field is one row of a schema table. The same row drives both encoding and
// decoding so the id assignment lives in exactly one place.
type field[T any] struct {
	FieldInfo
	zero func(*T) bool
	put  func(*encoder, *T)
	take func(*decoder, *T) error
}

// eventSchema lists the Event fields in wire order. Ids are part of the
// protocol: never renumber, only append.
var eventSchema = []field[Event]{
	{
		FieldInfo: FieldInfo{ID: 1, Name: "kind", Type: TypeUvarint},
		zero:      func(e *Event) bool { return false },
		put:       func(w *encoder, e *Event) { w.uvarint(uint64(e.Kind)) },
		take: func(r *decoder, e *Event) error {
			v, err := r.uvarint()
			if err != nil {
				return err
			}
			if v > 0xFF || !Kind(v).Valid() {
				return fmt.Errorf("%w: %d", ErrUnknownKind, v)
			}
			e.Kind = Kind(v)
			return nil
		},
	},
	{
		FieldInfo: FieldInfo{ID: 2, Name: "sessionId", Type: TypeString},
		zero:      func(e *Event) bool { return e.SessionID == "" },
		put:       func(w *encoder, e *Event) { w.string(e.SessionID) },
		take:      func(r *decoder, e *Event) (err error) { e.SessionID, err = r.string(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 3, Name: "username", Type: TypeString},
		zero:      func(e *Event) bool { return e.Username == "" },
		put:       func(w *encoder, e *Event) { w.string(e.Username) },
		take:      func(r *decoder, e *Event) (err error) { e.Username, err = r.string(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 4, Name: "players", Type: TypeStringList},
		zero:      func(e *Event) bool { return e.Players == nil },
		put:       func(w *encoder, e *Event) { w.stringList(e.Players) },
		take:      func(r *decoder, e *Event) (err error) { e.Players, err = r.stringList(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 5, Name: "x", Type: TypeVarint},
		zero:      func(e *Event) bool { return e.X == 0 },
		put:       func(w *encoder, e *Event) { w.varint(int64(e.X)) },
		take:      func(r *decoder, e *Event) (err error) { e.X, err = r.int(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 6, Name: "y", Type: TypeVarint},
		zero:      func(e *Event) bool { return e.Y == 0 },
		put:       func(w *encoder, e *Event) { w.varint(int64(e.Y)) },
		take:      func(r *decoder, e *Event) (err error) { e.Y, err = r.int(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 7, Name: "color", Type: TypeString},
		zero:      func(e *Event) bool { return e.Color == "" },
		put:       func(w *encoder, e *Event) { w.string(e.Color) },
		take:      func(r *decoder, e *Event) (err error) { e.Color, err = r.string(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 8, Name: "playerColors", Type: TypeStringMap},
		zero:      func(e *Event) bool { return e.PlayerColors == nil },
		put:       func(w *encoder, e *Event) { w.stringMap(e.PlayerColors) },
		take:      func(r *decoder, e *Event) (err error) { e.PlayerColors, err = r.stringMap(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 9, Name: "points", Type: TypePointList},
		zero:      func(e *Event) bool { return e.Points == nil },
		put: func(w *encoder, e *Event) {
			w.uvarint(uint64(len(e.Points)))
			for i := range e.Points {
				putRecord(w, pointSchema, &e.Points[i])
			}
		},
		take: func(r *decoder, e *Event) error {
			n, err := r.count()
			if err != nil {
				return err
			}
			points := make([]Point, n)
			for i := range points {
				if err := takeRecord(r, pointSchema, &points[i]); err != nil {
					return fmt.Errorf("point %d: %w", i, err)
				}
			}
			e.Points = points
			return nil
		},
	},
}

var pointSchema = []field[Point]{
	{
		FieldInfo: FieldInfo{ID: 10, Name: "username", Type: TypeString},
		zero:      func(p *Point) bool { return p.Username == "" },
		put:       func(w *encoder, p *Point) { w.string(p.Username) },
		take:      func(r *decoder, p *Point) (err error) { p.Username, err = r.string(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 11, Name: "x", Type: TypeVarint},
		zero:      func(p *Point) bool { return p.X == 0 },
		put:       func(w *encoder, p *Point) { w.varint(int64(p.X)) },
		take:      func(r *decoder, p *Point) (err error) { p.X, err = r.int(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 12, Name: "y", Type: TypeVarint},
		zero:      func(p *Point) bool { return p.Y == 0 },
		put:       func(w *encoder, p *Point) { w.varint(int64(p.Y)) },
		take:      func(r *decoder, p *Point) (err error) { p.Y, err = r.int(); return },
	},
	{
		FieldInfo: FieldInfo{ID: 13, Name: "color", Type: TypeString},
		zero:      func(p *Point) bool { return p.Color == "" },
		put:       func(w *encoder, p *Point) { w.string(p.Color) },
		take:      func(r *decoder, p *Point) (err error) { p.Color, err = r.string(); return },
	},
}

// EventSchema returns the field table used for Event records.
func EventSchema() []FieldInfo {
	return infos(eventSchema)
}

// PointSchema returns the field table used for Point records.
func PointSchema() []FieldInfo {
	return infos(pointSchema)
}

func infos[T any](schema []field[T]) []FieldInfo {
	out := make([]FieldInfo, len(schema))
	for i, f := range schema {
		out[i] = f.FieldInfo
	}
	return out
}

// putRecord writes the non-zero fields of v as a record: a field count
// followed by (id, value) pairs in schema order. A nil collection is absent;
// an empty one is written with a zero count so it decodes as empty, not nil.
func putRecord[T any](w *encoder, schema []field[T], v *T) {
	n := 0
	for _, f := range schema {
		if !f.zero(v) {
			n++
		}
	}

	w.uvarint(uint64(n))
	for _, f := range schema {
		if f.zero(v) {
			continue
		}
		w.byte(f.ID)
		f.put(w, v)
	}
}

func takeRecord[T any](r *decoder, schema []field[T], v *T) error {
	n, err := r.count()
	if err != nil {
		return err
	}

	seen := make(map[byte]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := r.byte()
		if err != nil {
			return err
		}

		f, ok := lookup(schema, id)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownField, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %d (%s)", ErrDuplicateField, id, f.Name)
		}
		seen[id] = struct{}{}

		if err := f.take(r, v); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	return nil
}

func lookup[T any](schema []field[T], id byte) (field[T], bool) {
	for _, f := range schema {
		if f.ID == id {
			return f, true
		}
	}
	return field[T]{}, false
}

// Marshal flattens e into its binary payload form.
func Marshal(e Event) []byte {
	w := &encoder{}
	putRecord(w, eventSchema, &e)
	return w.buf
}

// Unmarshal parses a payload produced by Marshal. It never returns a
// partially populated Event: on error the returned Event is the zero value.
func Unmarshal(data []byte) (Event, error) {
	r := &decoder{buf: data}

	var e Event
	if err := takeRecord(r, eventSchema, &e); err != nil {
		return Event{}, err
	}
	if r.off != len(r.buf) {
		return Event{}, fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.buf)-r.off)
	}
	if e.Kind == KindUnknown {
		return Event{}, ErrMissingKind
	}

	return e, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e *Event) MarshalBinary() ([]byte, error) {
	return Marshal(*e), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Event) UnmarshalBinary(data []byte) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// sortedKeys returns the keys of m in ascending order so map encoding is
// deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
