package merge

import (
	"fmt"

	"github.com/wstermayne/espmerge/internal/record"
)

// TruncationSink receives header-text truncation warnings: original,
// truncated, and cut text. Truncation is cosmetic and never fatal.
// Implemented by report.Reporter.
type TruncationSink interface {
	Truncated(field, original, truncated, cut string)
}

// Assemble flattens every table into the final output record sequence:
// body records kind by kind in the fixed emission order, dialogue in
// its two partitions, cells in first-seen order, and the header
// synthesized last from the accumulated master list and record count
// (but emitted first).
func Assemble(c *Context, opts Options, sink TruncationSink) ([]record.Record, error) {
	var body []record.Record

	for _, tag := range record.EmitOrder {
		policy, _ := record.PolicyFor(tag)
		var err error
		switch {
		case policy.Dialogue:
			body, err = appendDialogue(body, c.names[tag], opts)
		case policy.Key == record.KeyName:
			body, err = appendTable(body, c.names[tag], opts)
		case policy.Key == record.KeyCode:
			body, err = appendTable(body, c.codes[tag], opts)
		case policy.Key == record.KeyGrid:
			body, err = appendTable(body, c.grids[tag], opts)
		case policy.Key == record.KeyCell:
			body, err = appendCells(body, c.Cells, opts)
		}
		if err != nil {
			return nil, err
		}
	}

	header, err := synthesizeHeader(c, opts, uint32(len(body)), sink)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(body)+1)
	out = append(out, header)
	out = append(out, body...)
	return out, nil
}

// flattenSlot applies the mode policy to one slot's history.
func flattenSlot(slot *Slot, policy record.KindPolicy, opts Options) []record.Record {
	if opts.DebugRetention {
		// Full history unconditionally.
		out := make([]record.Record, 0, len(slot.Superseded)+1)
		out = append(out, slot.Superseded...)
		return append(out, slot.Current)
	}

	keepHistory := false
	switch opts.Mode {
	case ModeKeep:
		keepHistory = true
	case ModeKeepWithoutLands:
		keepHistory = !policy.Land
	case ModeReplace, ModeGrass:
		// Leveled lists stay protected from collapse.
		keepHistory = policy.Leveled
	case ModeCompleteReplace:
		keepHistory = false
	}
	if !keepHistory {
		return []record.Record{slot.Current}
	}

	hist := slot.Superseded
	if n := len(hist); n > 0 && hist[n-1].Equal(&slot.Current) {
		hist = hist[:n-1]
	}
	out := make([]record.Record, 0, len(hist)+1)
	out = append(out, hist...)
	return append(out, slot.Current)
}

// appendTable flattens one record table in merge order.
func appendTable[K comparable](body []record.Record, t *Table[K], opts Options) ([]record.Record, error) {
	policy, _ := record.PolicyFor(t.Tag())
	stats := t.Stats()
	for _, key := range t.Keys() {
		slot, _ := t.Slot(key)
		recs := flattenSlot(slot, policy, opts)
		stats.UniqueEmitted++
		stats.MergeableEmitted += uint64(len(recs) - 1)
		stats.TotalEmitted += uint64(len(recs))
		body = append(body, recs...)
	}
	return body, nil
}

// appendDialogue emits topic records as two partitions preserving
// relative merge order within each: journal-type topics first, all
// others after.
func appendDialogue(body []record.Record, t *Table[string], opts Options) ([]record.Record, error) {
	policy, _ := record.PolicyFor(t.Tag())
	stats := t.Stats()

	var journal, other []record.Record
	for _, key := range t.Keys() {
		slot, _ := t.Slot(key)
		dial, err := record.DecodeDial(&slot.Current)
		if err != nil {
			return nil, &RunError{Code: ErrCodeFormat, Message: err.Error()}
		}
		recs := flattenSlot(slot, policy, opts)
		stats.UniqueEmitted++
		stats.MergeableEmitted += uint64(len(recs) - 1)
		stats.TotalEmitted += uint64(len(recs))
		if dial.Journal() {
			journal = append(journal, recs...)
		} else {
			other = append(other, recs...)
		}
	}
	body = append(body, journal...)
	return append(body, other...), nil
}

// appendCells emits every output cell in first-seen order. Scalar
// history snapshots are emitted only under debug retention; references
// always travel on the final variant, in canonical order.
func appendCells(body []record.Record, e *CellEngine, opts Options) ([]record.Record, error) {
	stats := e.Stats()
	for _, key := range e.Cells() {
		st := e.cells[key]
		emitted := uint64(0)
		if opts.DebugRetention {
			for _, snap := range st.hist {
				rec, err := snap.Record()
				if err != nil {
					return nil, &RunError{Code: ErrCodeInternal, Message: err.Error(), Cell: key.String()}
				}
				body = append(body, rec)
				emitted++
			}
		}
		rec, err := st.cell.Record()
		if err != nil {
			return nil, &RunError{Code: ErrCodeInternal, Message: err.Error(), Cell: key.String()}
		}
		body = append(body, rec)
		emitted++
		stats.UniqueEmitted++
		stats.MergeableEmitted += emitted - 1
		stats.TotalEmitted += emitted
	}
	return body, nil
}

// synthesizeHeader builds the output TES3 record from the accumulated
// master list, record count, and author/description text. Oversized
// text is truncated to the format's fixed field widths, with original
// and truncated values surfaced through the reporting channel.
func synthesizeHeader(c *Context, opts Options, numRecords uint32, sink TruncationSink) (record.Record, error) {
	h := record.Header{
		Version:     record.FormatVersion,
		Author:      truncateField("author", opts.Author, record.AuthorWidth, sink),
		Description: truncateField("description", opts.Description, record.DescriptionWidth, sink),
		NumRecords:  numRecords,
		Masters:     c.Resolver.Globals(),
	}
	rec, err := h.Record()
	if err != nil {
		return record.Record{}, &RunError{Code: ErrCodeInternal, Message: fmt.Sprintf("synthesize header: %v", err)}
	}
	return rec, nil
}

func truncateField(field, text string, width int, sink TruncationSink) string {
	if len(text) <= width {
		return text
	}
	truncated := text[:width]
	if sink != nil {
		sink.Truncated(field, text, truncated, text[width:])
	}
	return truncated
}
