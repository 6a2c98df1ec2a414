package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed field widths of the header HEDR subrecord. Author and
// description text longer than this is truncated at assembly time and
// the truncation is surfaced through the reporting channel.
const (
	AuthorWidth      = 32
	DescriptionWidth = 256

	// FormatVersion is the plugin format version written into headers.
	FormatVersion = float32(1.3)

	hedrSize = 4 + 4 + AuthorWidth + DescriptionWidth + 4
)

// MasterEntry is one dependency declaration in a plugin header:
// the master file name and its recorded byte size.
type MasterEntry struct {
	Name string
	Size uint64
}

// Header is the typed view of a TES3 header record.
type Header struct {
	Version     float32
	FileType    uint32
	Author      string
	Description string
	NumRecords  uint32
	Masters     []MasterEntry
}

// DecodeHeader decodes a TES3 record into its typed view.
func DecodeHeader(rec *Record) (*Header, error) {
	if rec.Tag != TagHeader {
		return nil, fmt.Errorf("expected %s record, got %s", TagHeader, rec.Tag)
	}
	hedr, ok := rec.Field("HEDR")
	if !ok {
		return nil, fmt.Errorf("header has no HEDR subrecord")
	}
	if len(hedr) != hedrSize {
		return nil, fmt.Errorf("HEDR subrecord is %d bytes, want %d", len(hedr), hedrSize)
	}

	h := &Header{
		Version:     math.Float32frombits(binary.LittleEndian.Uint32(hedr[0:4])),
		FileType:    binary.LittleEndian.Uint32(hedr[4:8]),
		Author:      cstring(hedr[8 : 8+AuthorWidth]),
		Description: cstring(hedr[8+AuthorWidth : 8+AuthorWidth+DescriptionWidth]),
		NumRecords:  binary.LittleEndian.Uint32(hedr[hedrSize-4:]),
	}

	// Masters are declared as alternating MAST/DATA subrecord pairs.
	// Declaration order is load-bearing: local master indices are
	// 1-based positions in this list.
	var pending *MasterEntry
	for _, f := range rec.Fields {
		switch f.Name {
		case "MAST":
			if pending != nil {
				return nil, fmt.Errorf("MAST %q not followed by DATA", pending.Name)
			}
			pending = &MasterEntry{Name: cstring(f.Data)}
		case "DATA":
			if pending == nil {
				return nil, fmt.Errorf("DATA subrecord without preceding MAST")
			}
			if len(f.Data) != 8 {
				return nil, fmt.Errorf("master DATA is %d bytes, want 8", len(f.Data))
			}
			pending.Size = binary.LittleEndian.Uint64(f.Data)
			h.Masters = append(h.Masters, *pending)
			pending = nil
		}
	}
	if pending != nil {
		return nil, fmt.Errorf("MAST %q not followed by DATA", pending.Name)
	}
	return h, nil
}

// Record re-encodes the header view into its generic form.
// Caller is responsible for truncating Author and Description to their
// fixed widths first; oversized text fails here rather than silently
// corrupting the fixed-width layout.
func (h *Header) Record() (Record, error) {
	if len(h.Author) > AuthorWidth {
		return Record{}, fmt.Errorf("author text is %d bytes, limit %d", len(h.Author), AuthorWidth)
	}
	if len(h.Description) > DescriptionWidth {
		return Record{}, fmt.Errorf("description text is %d bytes, limit %d", len(h.Description), DescriptionWidth)
	}

	hedr := make([]byte, hedrSize)
	binary.LittleEndian.PutUint32(hedr[0:4], math.Float32bits(h.Version))
	binary.LittleEndian.PutUint32(hedr[4:8], h.FileType)
	copy(hedr[8:8+AuthorWidth], h.Author)
	copy(hedr[8+AuthorWidth:8+AuthorWidth+DescriptionWidth], h.Description)
	binary.LittleEndian.PutUint32(hedr[hedrSize-4:], h.NumRecords)

	rec := Record{Tag: TagHeader, Fields: []Field{{Name: "HEDR", Data: hedr}}}
	for _, m := range h.Masters {
		size := make([]byte, 8)
		binary.LittleEndian.PutUint64(size, m.Size)
		rec.Fields = append(rec.Fields,
			Field{Name: "MAST", Data: append([]byte(m.Name), 0)},
			Field{Name: "DATA", Data: size},
		)
	}
	return rec, nil
}

// StripCosmetic returns a copy of the header with author, description
// and master sizes cleared. The diff gate compares headers in this
// form so that cosmetic metadata changes alone never classify an
// output as different.
func (h *Header) StripCosmetic() Header {
	out := Header{
		Version:    h.Version,
		FileType:   h.FileType,
		NumRecords: h.NumRecords,
	}
	for _, m := range h.Masters {
		out.Masters = append(out.Masters, MasterEntry{Name: m.Name})
	}
	return out
}
