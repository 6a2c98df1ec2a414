package merge

import (
	"fmt"

	"github.com/wstermayne/espmerge/internal/record"
)

// Mode is the policy controlling how superseded record variants are
// flattened into output.
type Mode int

const (
	// ModeKeep emits the full history of every changed record.
	ModeKeep Mode = iota
	// ModeKeepWithoutLands is Keep, with landscape records replace-only.
	ModeKeepWithoutLands
	// ModeReplace emits only the final value of every record.
	ModeReplace
	// ModeCompleteReplace is Replace, additionally collapsing the two
	// leveled-list kinds every other mode protects.
	ModeCompleteReplace
	// ModeGrass is the replace-style flattening used by grass outputs.
	ModeGrass
)

var modeNames = map[Mode]string{
	ModeKeep:             "keep",
	ModeKeepWithoutLands: "keep-without-lands",
	ModeReplace:          "replace",
	ModeCompleteReplace:  "complete-replace",
	ModeGrass:            "grass",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a mode name as written in target manifests.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown merge mode %q", s)
}

// Options configures one merge run.
type Options struct {
	Mode           Mode
	DebugRetention bool
	Strict         bool
	Reindex        bool

	// RestrictiveFilter drops references that are placed and deleted by
	// the same plugin (a no-op placement) before merging.
	RestrictiveFilter bool

	// IgnoreTags lists unknown record tags to skip while decoding.
	IgnoreTags []record.Tag

	// Author and Description are written into the synthesized header,
	// truncated to the format's fixed field widths if needed.
	Author      string
	Description string

	// Workers bounds the pool for data-parallel passes. Zero means one.
	Workers int
}

func (o Options) policy() Policy {
	pol := Policy{Strict: o.Strict, DebugRetention: o.DebugRetention}
	if o.RestrictiveFilter {
		pol.Filter = restrictiveFilter
	}
	return pol
}

// restrictiveFilter drops directly-placed references that arrive
// already deleted: placing and deleting an instance in the same plugin
// contributes nothing to the merged cell.
func restrictiveFilter(r *record.Reference) bool {
	return r.Deleted && r.MastIndex == 0
}

// TableStat pairs a record kind with its merge counters for reporting.
type TableStat struct {
	Tag   record.Tag
	Stats Stats
}

// Context bundles all mutable state of one output-target pass: record
// tables, master resolver, cell engine, and allocators. It is owned
// exclusively by the single-threaded merge driver and reset between
// targets. There is no ambient state anywhere in the pipeline.
type Context struct {
	Resolver *Resolver
	Cells    *CellEngine

	names map[record.Tag]*Table[string]
	codes map[record.Tag]*Table[int32]
	grids map[record.Tag]*Table[record.Grid]
}

// NewContext creates the full table set, one table per record kind in
// the closed set.
func NewContext() *Context {
	c := &Context{
		Resolver: NewResolver(),
		Cells:    NewCellEngine(),
		names:    make(map[record.Tag]*Table[string]),
		codes:    make(map[record.Tag]*Table[int32]),
		grids:    make(map[record.Tag]*Table[record.Grid]),
	}
	for _, tag := range record.EmitOrder {
		policy, _ := record.PolicyFor(tag)
		switch policy.Key {
		case record.KeyName:
			c.names[tag] = NewTable[string](tag)
		case record.KeyCode:
			c.codes[tag] = NewTable[int32](tag)
		case record.KeyGrid:
			c.grids[tag] = NewTable[record.Grid](tag)
		}
	}
	return c
}

// MergeRecord dispatches one non-cell body record to its kind's table.
func (c *Context) MergeRecord(rec record.Record, debugRetention bool) error {
	policy, ok := record.PolicyFor(rec.Tag)
	if !ok {
		return &RunError{
			Code:    ErrCodeUnexpectedTag,
			Message: fmt.Sprintf("no table for record tag %s", rec.Tag),
		}
	}
	switch policy.Key {
	case record.KeyName:
		key, err := rec.NameKey()
		if err != nil {
			return &RunError{Code: ErrCodeFormat, Message: err.Error()}
		}
		c.names[rec.Tag].Merge(key, rec, debugRetention)
	case record.KeyCode:
		key, err := rec.CodeKey()
		if err != nil {
			return &RunError{Code: ErrCodeFormat, Message: err.Error()}
		}
		c.codes[rec.Tag].Merge(key, rec, debugRetention)
	case record.KeyGrid:
		key, err := rec.GridKey()
		if err != nil {
			return &RunError{Code: ErrCodeFormat, Message: err.Error()}
		}
		c.grids[rec.Tag].Merge(key, rec, debugRetention)
	default:
		return &RunError{
			Code:    ErrCodeFormat,
			Message: fmt.Sprintf("record tag %s cannot be table-merged", rec.Tag),
		}
	}
	return nil
}

// TableStats returns per-kind counters in emission order, the cell
// table last.
func (c *Context) TableStats() []TableStat {
	var out []TableStat
	for _, tag := range record.EmitOrder {
		if t, ok := c.names[tag]; ok && t.Stats().Processed > 0 {
			out = append(out, TableStat{Tag: tag, Stats: *t.Stats()})
			continue
		}
		if t, ok := c.codes[tag]; ok && t.Stats().Processed > 0 {
			out = append(out, TableStat{Tag: tag, Stats: *t.Stats()})
			continue
		}
		if t, ok := c.grids[tag]; ok && t.Stats().Processed > 0 {
			out = append(out, TableStat{Tag: tag, Stats: *t.Stats()})
		}
	}
	if c.Cells.Stats().Processed > 0 {
		out = append(out, TableStat{Tag: record.TagCell, Stats: *c.Cells.Stats()})
	}
	return out
}

// SelfCheck verifies the stats invariant on every table after
// assembly. A violation is an internal error, never an input problem.
func (c *Context) SelfCheck() error {
	for _, ts := range c.TableStats() {
		if err := ts.Stats.SelfCheck(); err != nil {
			return &RunError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("%s table: %v", ts.Tag, err),
			}
		}
	}
	return nil
}

// Reset discards all per-target state. Must be called between output
// targets; the global master list does not survive a reset.
func (c *Context) Reset() {
	c.Resolver.Reset()
	c.Cells.Reset()
	for _, t := range c.names {
		t.Reset()
	}
	for _, t := range c.codes {
		t.Reset()
	}
	for _, t := range c.grids {
		t.Reset()
	}
}
