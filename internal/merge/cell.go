package merge

import (
	"bytes"
	"fmt"

	"github.com/wstermayne/espmerge/internal/record"
)

// MissingRefSink receives missing-reference conditions recovered under
// the default ignore-errors policy. Implemented by report.Reporter.
type MissingRefSink interface {
	MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string)
}

// FilterFunc drops references before merging. Active only in the
// restrictive content-filter mode; nil means no filtering.
type FilterFunc func(*record.Reference) bool

// Policy carries the per-run knobs the cell engine consults.
type Policy struct {
	// Strict makes the first missing-reference condition fatal instead
	// of accumulating it into ignored-ref buckets.
	Strict bool

	// DebugRetention retains full history regardless of kind policy.
	DebugRetention bool

	// Filter, when set, drops matching references before merging.
	Filter FilterFunc
}

// RefPair maps a reference index local to one merged plugin onto the
// global identity it was assigned at merge time.
type RefPair struct {
	Local  uint32
	Global uint32
}

// MergedPluginMeta records the contribution of one merged plugin to one
// cell: the local-to-global mapping a later plugin needs to resolve
// "I am overriding reference N that plugin P added".
type MergedPluginMeta struct {
	NameLow string
	Refs    []RefPair
}

func (m *MergedPluginMeta) globalFor(local uint32) (uint32, bool) {
	for _, p := range m.Refs {
		if p.Local == local {
			return p.Global, true
		}
	}
	return 0, false
}

// CellMeta is the per-output-cell bookkeeping of every plugin merged
// into it, in merge order.
type CellMeta struct {
	Plugins []*MergedPluginMeta
}

func (m *CellMeta) pluginMeta(nameLow string) *MergedPluginMeta {
	for _, p := range m.Plugins {
		if p.NameLow == nameLow {
			return p
		}
	}
	return nil
}

// movedEntry is a reference pending relocation between exterior grids.
type movedEntry struct {
	Old, New record.Grid
}

// cellState is one output cell: current scalar attributes plus the
// globally keyed reference map, scalar history, and plugin metas.
type cellState struct {
	cell *record.Cell
	hist []*record.Cell // scalar snapshots, oldest first, refs nil
	meta CellMeta
}

// CellEngine merges per-cell reference graphs across plugin
// boundaries. All mutation happens on the merge driver goroutine.
type CellEngine struct {
	cells map[record.CellKey]*cellState
	order []record.CellKey // first-seen merge order

	// moved holds references whose owning exterior cell changed,
	// relocated by the moved-instance pass once all plugins are in.
	// Keyed by the reference's global identity; a later plugin moving
	// the same reference overwrites the stale entry.
	moved map[record.RefKey]movedEntry

	nextRefr uint32
	stats    Stats
}

// NewCellEngine creates an empty cell engine for one output target.
func NewCellEngine() *CellEngine {
	return &CellEngine{
		cells: make(map[record.CellKey]*cellState),
		moved: make(map[record.RefKey]movedEntry),
	}
}

// Merge folds one plugin's cell record into the output cell keyed by
// the same name or grid. References are processed in the canonical
// sort order; that order is the only one in which new global
// identities are assigned.
func (e *CellEngine) Merge(c *record.Cell, res *Resolver, pol Policy, sink MissingRefSink) error {
	key := c.Key()
	plugin := res.CurrentPlugin()

	incoming := make([]*record.Reference, 0, len(c.Refs))
	for _, r := range c.Refs {
		if pol.Filter != nil && pol.Filter(r) {
			continue
		}
		incoming = append(incoming, r)
	}
	record.SortReferences(incoming)

	state, ok := e.cells[key]
	vacant := !ok
	if vacant {
		state = &cellState{cell: scalarCopy(c)}
		state.cell.Refs = make(map[record.RefKey]*record.Reference)
		e.cells[key] = state
		e.order = append(e.order, key)
		e.stats.Processed++
	} else {
		e.stats.Processed++
		if state.applyScalars(c) {
			e.stats.Merged++
		} else {
			e.stats.Duplicate++
		}
	}

	pmeta := &MergedPluginMeta{NameLow: record.NormalizeName(plugin)}

	for _, in := range incoming {
		if in.MastIndex == 0 {
			// Newly placed by this plugin: always a fresh global id.
			// Content-identical placements from different plugins never
			// collapse to one identity.
			id, err := e.allocRefr(plugin, key)
			if err != nil {
				return err
			}
			r := in.Clone()
			r.RefrIndex = id
			r.Normalize()
			e.captureMove(key, record.RefKey{Master: 0, Refr: id}, r)
			state.cell.Refs[record.RefKey{Master: 0, Refr: id}] = r
			pmeta.Refs = append(pmeta.Refs, RefPair{Local: in.RefrIndex, Global: id})
			continue
		}

		mref, resolved := res.Resolve(in.MastIndex)
		if !resolved {
			return &RunError{
				Code:    ErrCodeFormat,
				Message: fmt.Sprintf("reference %q uses undeclared master index %d", in.ObjectID, in.MastIndex),
				Plugin:  plugin,
				Cell:    key.String(),
			}
		}

		switch mref.Kind {
		case MasterMerged:
			if vacant {
				// No prior state to inherit from in a brand-new cell.
				if err := e.missingRef(mref.NameLow, plugin, key, in, pol, sink); err != nil {
					return err
				}
				continue
			}
			pm := state.meta.pluginMeta(mref.NameLow)
			if pm == nil {
				if err := e.missingRef(mref.NameLow, plugin, key, in, pol, sink); err != nil {
					return err
				}
				continue
			}
			global, found := pm.globalFor(in.RefrIndex)
			if !found {
				if err := e.missingRef(mref.NameLow, plugin, key, in, pol, sink); err != nil {
					return err
				}
				continue
			}
			existing, present := state.cell.Refs[record.RefKey{Master: 0, Refr: global}]
			if !present {
				if err := e.missingRef(mref.NameLow, plugin, key, in, pol, sink); err != nil {
					return err
				}
				continue
			}
			// Mutate the existing global reference in place: this is
			// how a later plugin patches an instance an earlier merged
			// plugin introduced.
			patchReference(existing, in)
			e.captureMove(key, record.RefKey{Master: 0, Refr: global}, existing)

		case MasterExternal:
			r := in.Clone()
			r.MastIndex = mref.Global
			r.Normalize()
			gkey := record.RefKey{Master: mref.Global, Refr: r.RefrIndex}
			e.captureMove(key, gkey, r)
			// Last plugin wins on an already-present external reference.
			state.cell.Refs[gkey] = r
		}
	}

	state.meta.Plugins = append(state.meta.Plugins, pmeta)
	return nil
}

// allocRefr hands out the next global reference id. Ids are strictly
// increasing within one output target and never reused.
func (e *CellEngine) allocRefr(plugin string, cell record.CellKey) (uint32, error) {
	if e.nextRefr >= record.MaxRefrIndex {
		return 0, &RunError{
			Code:    ErrCodeRefrOverflow,
			Message: fmt.Sprintf("global reference allocator exhausted at %d", e.nextRefr),
			Plugin:  plugin,
			Cell:    cell.String(),
		}
	}
	e.nextRefr++
	return e.nextRefr, nil
}

// captureMove records a pending relocation when a reference's declared
// cell differs from the cell it is physically stored under. Relocation
// is deferred to the moved-instance pass because the destination cell
// may not exist in the merge tables yet. Interior cells have no grid,
// so only exterior sources are recordable.
func (e *CellEngine) captureMove(key record.CellKey, gkey record.RefKey, r *record.Reference) {
	if r.MovedCell == nil || key.Interior {
		return
	}
	if *r.MovedCell == key.Grid {
		r.MovedCell = nil
		return
	}
	e.moved[gkey] = movedEntry{Old: key.Grid, New: *r.MovedCell}
}

// missingRef resolves one missing-reference condition per the
// configured policy: fatal under strict, otherwise accumulated for
// reporting and skipped.
func (e *CellEngine) missingRef(master, plugin string, cell record.CellKey, in *record.Reference, pol Policy, sink MissingRefSink) error {
	if pol.Strict {
		return &RunError{
			Code:    ErrCodeMissingRef,
			Message: fmt.Sprintf("reference %q (local %d) not found in master %q", in.ObjectID, in.RefrIndex, master),
			Plugin:  plugin,
			Cell:    cell.String(),
			Ref:     record.RefKey{Master: in.MastIndex, Refr: in.RefrIndex},
		}
	}
	if sink != nil {
		sink.MissingRef(master, plugin, cell, record.RefKey{Master: in.MastIndex, Refr: in.RefrIndex}, in.ObjectID)
	}
	return nil
}

// patchReference applies a later plugin's positional and override
// fields onto an existing global reference. Identity (master 0 slot,
// global index) is preserved; absent optional fields never clobber
// present values.
func patchReference(dst, src *record.Reference) {
	dst.ObjectID = src.ObjectID
	dst.Persistent = src.Persistent
	dst.Deleted = src.Deleted
	dst.Pos = src.Pos
	dst.Rot = src.Rot
	if src.MovedCell != nil {
		g := *src.MovedCell
		dst.MovedCell = &g
	}
	if src.Scale != nil {
		v := *src.Scale
		dst.Scale = &v
	}
	if src.Count != nil {
		v := *src.Count
		dst.Count = &v
	}
	if src.LockLevel != nil {
		v := *src.LockLevel
		dst.LockLevel = &v
	}
	if src.Owner != "" {
		dst.Owner = src.Owner
	}
	if src.Global != "" {
		dst.Global = src.Global
	}
	if src.Key != "" {
		dst.Key = src.Key
	}
	if src.Trap != "" {
		dst.Trap = src.Trap
	}
	dst.Normalize()
}

// scalarCopy copies a cell's scalar attributes without its references.
func scalarCopy(c *record.Cell) *record.Cell {
	out := &record.Cell{
		Name:  c.Name,
		Flags: c.Flags,
		Grid:  c.Grid,
	}
	if c.Region != nil {
		v := *c.Region
		out.Region = &v
	}
	if c.MapColor != nil {
		v := *c.MapColor
		out.MapColor = &v
	}
	if c.WaterHeight != nil {
		v := *c.WaterHeight
		out.WaterHeight = &v
	}
	if c.Ambient != nil {
		out.Ambient = append([]byte(nil), c.Ambient...)
	}
	return out
}

// applyScalars folds incoming scalar attributes into the current cell.
// Only fields explicitly present overwrite; on any difference the old
// snapshot is pushed into history first. Reports whether anything
// changed.
func (st *cellState) applyScalars(in *record.Cell) bool {
	cur := st.cell
	changed := cur.Flags != in.Flags ||
		(in.Name != "" && cur.Name != in.Name) ||
		(in.Region != nil && (cur.Region == nil || *cur.Region != *in.Region)) ||
		(in.MapColor != nil && (cur.MapColor == nil || *cur.MapColor != *in.MapColor)) ||
		(in.WaterHeight != nil && (cur.WaterHeight == nil || *cur.WaterHeight != *in.WaterHeight)) ||
		(in.Ambient != nil && !bytes.Equal(cur.Ambient, in.Ambient))

	if !changed {
		return false
	}

	st.hist = append(st.hist, scalarCopy(cur))

	cur.Flags = in.Flags
	if in.Name != "" {
		cur.Name = in.Name
	}
	if in.Region != nil {
		v := *in.Region
		cur.Region = &v
	}
	if in.MapColor != nil {
		v := *in.MapColor
		cur.MapColor = &v
	}
	if in.WaterHeight != nil {
		v := *in.WaterHeight
		cur.WaterHeight = &v
	}
	if in.Ambient != nil {
		cur.Ambient = append([]byte(nil), in.Ambient...)
	}
	return true
}

// Cells returns the output cell keys in first-seen merge order.
func (e *CellEngine) Cells() []record.CellKey {
	return e.order
}

// Cell returns the merged state for one cell key.
func (e *CellEngine) Cell(key record.CellKey) (*record.Cell, bool) {
	st, ok := e.cells[key]
	if !ok {
		return nil, false
	}
	return st.cell, true
}

// Meta returns the plugin bookkeeping for one cell key.
func (e *CellEngine) Meta(key record.CellKey) (*CellMeta, bool) {
	st, ok := e.cells[key]
	if !ok {
		return nil, false
	}
	return &st.meta, true
}

// NextRefr exposes the allocator position (the last id handed out).
func (e *CellEngine) NextRefr() uint32 {
	return e.nextRefr
}

// Stats exposes the cell table's outcome counters.
func (e *CellEngine) Stats() *Stats {
	return &e.stats
}

// Reset discards all state for the next output target.
func (e *CellEngine) Reset() {
	e.cells = make(map[record.CellKey]*cellState)
	e.order = nil
	e.moved = make(map[record.RefKey]movedEntry)
	e.nextRefr = 0
	e.stats = Stats{}
}
