package testutil

import (
	"github.com/wstermayne/espmerge/internal/merge"
	"github.com/wstermayne/espmerge/internal/record"
)

// PluginBuilder assembles in-memory plugins for tests.
//
// Builders produce deterministic record sequences: the same build
// calls in the same order yield byte-identical plugins, which keeps
// golden comparisons stable.
type PluginBuilder struct {
	name   string
	header record.Header
	body   []record.Record
}

// NewPlugin starts a plugin with an empty header.
func NewPlugin(name string) *PluginBuilder {
	return &PluginBuilder{
		name:   name,
		header: record.Header{Version: record.FormatVersion},
	}
}

// Master declares a dependency with a recorded size. Declaration order
// determines local master indices (1-based).
func (b *PluginBuilder) Master(name string, size uint64) *PluginBuilder {
	b.header.Masters = append(b.header.Masters, record.MasterEntry{Name: name, Size: size})
	return b
}

// Author sets the header author text.
func (b *PluginBuilder) Author(author string) *PluginBuilder {
	b.header.Author = author
	return b
}

// Record appends a raw body record.
func (b *PluginBuilder) Record(rec record.Record) *PluginBuilder {
	b.body = append(b.body, rec)
	return b
}

// Static appends a STAT record with the given id and model path.
func (b *PluginBuilder) Static(id, model string) *PluginBuilder {
	return b.Record(record.Record{
		Tag: record.TagStatic,
		Fields: []record.Field{
			{Name: "NAME", Data: append([]byte(id), 0)},
			{Name: "MODL", Data: append([]byte(model), 0)},
		},
	})
}

// GameSetting appends a GMST record with a string value.
func (b *PluginBuilder) GameSetting(id, value string) *PluginBuilder {
	return b.Record(record.Record{
		Tag: record.TagGameSet,
		Fields: []record.Field{
			{Name: "NAME", Data: append([]byte(id), 0)},
			{Name: "STRV", Data: append([]byte(value), 0)},
		},
	})
}

// Dial appends a DIAL record of the given type.
func (b *PluginBuilder) Dial(name string, typ record.DialType) *PluginBuilder {
	return b.Record(record.Record{
		Tag: record.TagDialogue,
		Fields: []record.Field{
			{Name: "NAME", Data: append([]byte(name), 0)},
			{Name: "DATA", Data: []byte{byte(typ)}},
		},
	})
}

// Cell appends a CELL record encoded from its typed view.
func (b *PluginBuilder) Cell(c *record.Cell) *PluginBuilder {
	rec, err := c.Record()
	if err != nil {
		panic(err) // builder misuse, tests should never hit this
	}
	return b.Record(rec)
}

// Build finalizes the plugin: header first, record count filled in.
func (b *PluginBuilder) Build() merge.Plugin {
	h := b.header
	h.NumRecords = uint32(len(b.body))
	headerRec, err := h.Record()
	if err != nil {
		panic(err)
	}
	recs := make([]record.Record, 0, len(b.body)+1)
	recs = append(recs, headerRec)
	recs = append(recs, b.body...)
	return merge.Plugin{Name: b.name, Records: recs}
}

// ExteriorCell builds an exterior cell at a grid coordinate.
func ExteriorCell(x, y int32, refs ...*record.Reference) *record.Cell {
	c := &record.Cell{
		Grid: record.Grid{X: x, Y: y},
		Refs: make(map[record.RefKey]*record.Reference),
	}
	for _, r := range refs {
		c.Refs[record.RefKey{Master: r.MastIndex, Refr: r.RefrIndex}] = r
	}
	return c
}

// InteriorCell builds a named interior cell.
func InteriorCell(name string, refs ...*record.Reference) *record.Cell {
	c := &record.Cell{
		Name:  name,
		Flags: record.CellFlagInterior,
		Refs:  make(map[record.RefKey]*record.Reference),
	}
	for _, r := range refs {
		c.Refs[record.RefKey{Master: r.MastIndex, Refr: r.RefrIndex}] = r
	}
	return c
}

// Ref builds a placed reference with the fields tests most often need.
func Ref(mast, refr uint32, objectID string) *record.Reference {
	return &record.Reference{
		MastIndex: mast,
		RefrIndex: refr,
		ObjectID:  objectID,
	}
}

// MovedRef builds a reference declared as relocated to another grid.
func MovedRef(mast, refr uint32, objectID string, toX, toY int32) *record.Reference {
	r := Ref(mast, refr, objectID)
	r.MovedCell = &record.Grid{X: toX, Y: toY}
	return r
}

// DiscardSink swallows reporting calls in tests that don't assert on
// them.
type DiscardSink struct{}

func (DiscardSink) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
}

func (DiscardSink) Truncated(field, original, truncated, cut string) {}

// CollectingSink records reporting calls for assertions.
type CollectingSink struct {
	Missing     []string
	Truncations []string
}

func (s *CollectingSink) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
	s.Missing = append(s.Missing, master)
}

func (s *CollectingSink) Truncated(field, original, truncated, cut string) {
	s.Truncations = append(s.Truncations, field)
}
