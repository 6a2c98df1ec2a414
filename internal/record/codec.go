package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Codec errors callers dispatch on.
var (
	// ErrNoHeader is returned when a plugin stream does not start with
	// a TES3 header record.
	ErrNoHeader = errors.New("plugin does not start with a TES3 header")

	// ErrDuplicateHeader is returned when a plugin stream contains more
	// than one TES3 header record. This is a non-recoverable format
	// violation.
	ErrDuplicateHeader = errors.New("plugin contains more than one TES3 header")
)

// UnknownTagError reports a record tag outside the closed kind set that
// is not covered by the configured ignore-list.
type UnknownTagError struct {
	Tag    Tag
	Offset int64
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown record tag %s at offset %d (add it to the ignore-tags list to skip it)", e.Tag, e.Offset)
}

// DecodeOptions controls how a plugin stream is decoded.
type DecodeOptions struct {
	// IgnoreTags lists unknown tags to skip instead of failing on.
	IgnoreTags []Tag

	// OnSkip, if set, is called once per skipped record.
	OnSkip func(tag Tag, offset int64)
}

func (o *DecodeOptions) ignored(tag Tag) bool {
	for _, t := range o.IgnoreTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ReadPlugin decodes a full plugin record stream.
//
// The first record must be a TES3 header; a second header anywhere in
// the stream is a fatal format violation (ErrDuplicateHeader). Unknown
// tags are skipped when listed in opts.IgnoreTags, otherwise decoding
// fails with an UnknownTagError.
func ReadPlugin(r io.Reader, opts DecodeOptions) ([]Record, error) {
	br := bufio.NewReader(r)
	var recs []Record
	var offset int64
	sawHeader := false

	for {
		rec, size, err := readRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		if rec.Tag == TagHeader {
			if sawHeader {
				return nil, fmt.Errorf("record at offset %d: %w", offset, ErrDuplicateHeader)
			}
			sawHeader = true
		} else if !sawHeader {
			return nil, ErrNoHeader
		}

		if !Known(rec.Tag) {
			if !opts.ignored(rec.Tag) {
				return nil, &UnknownTagError{Tag: rec.Tag, Offset: offset}
			}
			if opts.OnSkip != nil {
				opts.OnSkip(rec.Tag, offset)
			}
			offset += size
			continue
		}

		recs = append(recs, rec)
		offset += size
	}

	if !sawHeader {
		return nil, ErrNoHeader
	}
	return recs, nil
}

// readRecord decodes one record. Returns io.EOF cleanly at stream end.
func readRecord(r *bufio.Reader) (Record, int64, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:4]); err != nil {
		if err == io.EOF {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, fmt.Errorf("read tag: %w", err)
	}
	tag, err := ParseTag(head[:4])
	if err != nil {
		return Record{}, 0, err
	}
	if _, err := io.ReadFull(r, head[4:]); err != nil {
		return Record{}, 0, fmt.Errorf("read %s record head: %w", tag, err)
	}
	size := binary.LittleEndian.Uint32(head[4:8])
	flags := binary.LittleEndian.Uint32(head[8:12])

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Record{}, 0, fmt.Errorf("read %s record body (%d bytes): %w", tag, size, err)
	}

	rec := Record{Tag: tag, Flags: flags}
	for pos := 0; pos < len(data); {
		if len(data)-pos < 8 {
			return Record{}, 0, fmt.Errorf("%s record: truncated subrecord head at %d", tag, pos)
		}
		name, err := ParseTag(data[pos : pos+4])
		if err != nil {
			return Record{}, 0, fmt.Errorf("%s record: subrecord name at %d: %w", tag, pos, err)
		}
		fsize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if fsize < 0 || pos+fsize > len(data) {
			return Record{}, 0, fmt.Errorf("%s record: subrecord %s overruns record body", tag, name)
		}
		field := make([]byte, fsize)
		copy(field, data[pos:pos+fsize])
		rec.Fields = append(rec.Fields, Field{Name: string(name), Data: field})
		pos += fsize
	}
	return rec, int64(12 + size), nil
}

// WriteRecords encodes a record sequence to a stream.
func WriteRecords(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)
	for i := range recs {
		if err := writeRecord(bw, &recs[i]); err != nil {
			return fmt.Errorf("write %s record %d: %w", recs[i].Tag, i, err)
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, rec *Record) error {
	var size uint32
	for _, f := range rec.Fields {
		size += uint32(8 + len(f.Data))
	}
	var head [12]byte
	copy(head[:4], rec.Tag)
	binary.LittleEndian.PutUint32(head[4:8], size)
	binary.LittleEndian.PutUint32(head[8:12], rec.Flags)
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	var fh [8]byte
	for _, f := range rec.Fields {
		if len(f.Name) != 4 {
			return fmt.Errorf("subrecord name %q is not 4 bytes", f.Name)
		}
		copy(fh[:4], f.Name)
		binary.LittleEndian.PutUint32(fh[4:8], uint32(len(f.Data)))
		if _, err := w.Write(fh[:]); err != nil {
			return err
		}
		if _, err := w.Write(f.Data); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads and decodes a plugin file.
func LoadFile(path string, opts DecodeOptions) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := ReadPlugin(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// WriteFile encodes a record sequence to a file.
func WriteFile(path string, recs []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRecords(f, recs); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
