package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Field is one raw subrecord: a four-character name and its payload.
type Field struct {
	Name string
	Data []byte
}

// Record is the generic representation of one plugin record: a kind
// tag, record-level flags, and the ordered subrecord list.
//
// Most kinds stay in this generic form through the whole pipeline; the
// merge engine only decodes typed views (Header, Cell, Dial) for the
// kinds it needs to look inside.
type Record struct {
	Tag    Tag
	Flags  uint32
	Fields []Field
}

// Canon produces the canonical byte serialization of a record.
// CRITICAL: This is the ONLY serialization that should be used for
// record identity and equality. Subrecord order is preserved exactly as
// stored; producers are responsible for emitting subrecords in a
// deterministic order.
func (r *Record) Canon() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(r.Tag))
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], r.Flags)
	buf.Write(scratch[:])
	for _, f := range r.Fields {
		buf.WriteString(f.Name)
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(f.Data)))
		buf.Write(scratch[:])
		buf.Write(f.Data)
	}
	return buf.Bytes()
}

// Equal reports whether two records have identical canonical bytes.
func (r *Record) Equal(other *Record) bool {
	return bytes.Equal(r.Canon(), other.Canon())
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() Record {
	out := Record{Tag: r.Tag, Flags: r.Flags}
	if r.Fields != nil {
		out.Fields = make([]Field, len(r.Fields))
		for i, f := range r.Fields {
			data := make([]byte, len(f.Data))
			copy(data, f.Data)
			out.Fields[i] = Field{Name: f.Name, Data: data}
		}
	}
	return out
}

// Field returns the first subrecord with the given name.
func (r *Record) Field(name string) ([]byte, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Data, true
		}
	}
	return nil, false
}

// NameKey extracts the normalized string key for KeyName kinds.
func (r *Record) NameKey() (string, error) {
	data, ok := r.Field("NAME")
	if !ok {
		return "", fmt.Errorf("%s record has no NAME subrecord", r.Tag)
	}
	return NormalizeName(cstring(data)), nil
}

// CodeKey extracts the int32 key for KeyCode kinds (SKIL, MGEF).
func (r *Record) CodeKey() (int32, error) {
	data, ok := r.Field("INDX")
	if !ok {
		return 0, fmt.Errorf("%s record has no INDX subrecord", r.Tag)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("%s INDX subrecord is %d bytes, want 4", r.Tag, len(data))
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

// GridKey extracts the exterior grid key for KeyGrid kinds (LAND).
func (r *Record) GridKey() (Grid, error) {
	data, ok := r.Field("INTV")
	if !ok {
		return Grid{}, fmt.Errorf("%s record has no INTV subrecord", r.Tag)
	}
	if len(data) != 8 {
		return Grid{}, fmt.Errorf("%s INTV subrecord is %d bytes, want 8", r.Tag, len(data))
	}
	return Grid{
		X: int32(binary.LittleEndian.Uint32(data[0:4])),
		Y: int32(binary.LittleEndian.Uint32(data[4:8])),
	}, nil
}

// NormalizeName normalizes an identifier for use as a table key.
// NFC normalization happens here, at the boundary, and nowhere else.
func NormalizeName(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// cstring trims a zero-terminated byte payload to its string content.
func cstring(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}
