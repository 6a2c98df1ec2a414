package merge

import (
	"fmt"

	"github.com/wstermayne/espmerge/internal/record"
)

// MasterKind colors a resolved dependency: an untouched external master
// file, or a plugin already merged into the current output target.
type MasterKind int

const (
	// MasterExternal resolves against a stored master table via its
	// run-global id.
	MasterExternal MasterKind = iota
	// MasterMerged resolves against in-memory merge state (the cell
	// metas recorded when that plugin was merged).
	MasterMerged
)

// GlobalMaster is one entry in the run-global master list: one per
// distinct dependency file name ever seen for the current output
// target. The id is assigned on first sight and stable for the run.
type GlobalMaster struct {
	ID      uint32 // 1-based; this is the emitted mast index
	Name    string // original case, for the emitted master list
	NameLow string
	Size    uint64 // most recently seen declared size
}

// MasterRef is a local master index resolved once at header-processing
// time, so per-reference resolution is a slice lookup instead of a
// search.
type MasterRef struct {
	Kind    MasterKind
	Global  uint32 // external only
	NameLow string // merged only
}

// Resolver maps each plugin's local dependency declarations onto the
// run-global master list, distinguishing already-merged plugins from
// genuine external masters.
type Resolver struct {
	globals []*GlobalMaster
	byName  map[string]*GlobalMaster
	merged  map[string]bool // lowercased names of plugins merged earlier in this target

	// locals is the current plugin's resolution, indexed by the
	// 1-based local master index. locals[0] is unused.
	locals []MasterRef
	plugin string
}

// NewResolver creates an empty resolver for one output target.
func NewResolver() *Resolver {
	return &Resolver{
		byName: make(map[string]*GlobalMaster),
		merged: make(map[string]bool),
	}
}

// BeginPlugin resolves a plugin's declared dependency list. Each
// dependency becomes either a merged-master handle (when its name
// matches a plugin already folded into this target) or an external
// master with a run-global id, allocating a new global slot on first
// sight and reconciling the recorded size otherwise.
func (r *Resolver) BeginPlugin(pluginName string, masters []record.MasterEntry) error {
	r.plugin = pluginName
	r.locals = make([]MasterRef, len(masters)+1)

	for i, m := range masters {
		nameLow := record.NormalizeName(m.Name)

		if r.merged[nameLow] {
			r.locals[i+1] = MasterRef{Kind: MasterMerged, NameLow: nameLow}
			continue
		}

		g, ok := r.byName[nameLow]
		if !ok {
			id := uint32(len(r.globals) + 1)
			if id > record.MaxMasterIndex {
				return &RunError{
					Code:    ErrCodeFormat,
					Message: fmt.Sprintf("master list overflow: %q would be master %d", m.Name, id),
					Plugin:  pluginName,
				}
			}
			g = &GlobalMaster{ID: id, Name: m.Name, NameLow: nameLow, Size: m.Size}
			r.globals = append(r.globals, g)
			r.byName[nameLow] = g
		} else {
			// Keep the most recently seen size.
			g.Size = m.Size
		}
		r.locals[i+1] = MasterRef{Kind: MasterExternal, Global: g.ID}
	}
	return nil
}

// Resolve maps a local master index from the current plugin to its
// resolved reference. Index 0 (locally defined) and out-of-range
// indices return false.
func (r *Resolver) Resolve(mast uint32) (MasterRef, bool) {
	if mast == 0 || int(mast) >= len(r.locals) {
		return MasterRef{}, false
	}
	return r.locals[mast], true
}

// MarkMerged records that a plugin has been fully merged into the
// current target, so later plugins depending on it resolve against
// in-memory state instead of a master slot.
func (r *Resolver) MarkMerged(pluginName string) {
	r.merged[record.NormalizeName(pluginName)] = true
}

// Globals returns the emitted master list in allocation order.
func (r *Resolver) Globals() []record.MasterEntry {
	out := make([]record.MasterEntry, len(r.globals))
	for i, g := range r.globals {
		out[i] = record.MasterEntry{Name: g.Name, Size: g.Size}
	}
	return out
}

// CurrentPlugin returns the plugin whose header was last processed.
func (r *Resolver) CurrentPlugin() string {
	return r.plugin
}

// Reset clears all state for the next output target.
func (r *Resolver) Reset() {
	r.globals = nil
	r.byName = make(map[string]*GlobalMaster)
	r.merged = make(map[string]bool)
	r.locals = nil
	r.plugin = ""
}
