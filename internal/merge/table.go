package merge

import "github.com/wstermayne/espmerge/internal/record"

// Outcome classifies one Merge call.
type Outcome int

const (
	// OutcomeProcessed: the key was vacant and the value was inserted.
	OutcomeProcessed Outcome = iota
	// OutcomeDuplicate: the value equals the current slot value.
	OutcomeDuplicate
	// OutcomeMerged: the value replaced the slot value, old value
	// retained as history.
	OutcomeMerged
	// OutcomeReplaced: the value overwrote a simple kind in place.
	OutcomeReplaced
)

// Slot holds the current value of one deduplicated record slot plus
// every superseded value, oldest first. Superseded is non-empty only
// if the value changed across plugins (or debug retention is on).
type Slot struct {
	Current    record.Record
	Superseded []record.Record
}

// Table is the generic deduplicated slot storage for one record kind.
// Keys are kind-specific: normalized id strings for most kinds, int32
// codes for the two enumerated kinds, exterior grids for landscape.
// Cell records are handled by the cell engine, not a Table.
type Table[K comparable] struct {
	tag    record.Tag
	simple bool
	slots  map[K]*Slot
	order  []K // first-seen merge order
	stats  Stats
}

// NewTable creates an empty table for one record kind.
func NewTable[K comparable](tag record.Tag) *Table[K] {
	policy, _ := record.PolicyFor(tag)
	return &Table[K]{
		tag:    tag,
		simple: policy.Simple,
		slots:  make(map[K]*Slot),
	}
}

// Merge folds one record into its slot.
//
// Vacant slots are inserted. An equal value counts as a duplicate (and
// is still retained when debugRetention is on). A changed value pushes
// the old current into history, unless the kind is simple and debug
// retention is off, in which case the slot is overwritten in place.
//
// The history baseline is captured at first divergence: after values
// v1, v2, v3 the slot holds Superseded=[v1, v2], Current=v3. A slot
// that never diverges carries no history.
func (t *Table[K]) Merge(key K, rec record.Record, debugRetention bool) Outcome {
	t.stats.Processed++

	slot, ok := t.slots[key]
	if !ok {
		t.slots[key] = &Slot{Current: rec}
		t.order = append(t.order, key)
		return OutcomeProcessed
	}

	if slot.Current.Equal(&rec) {
		t.stats.Duplicate++
		if debugRetention {
			slot.Superseded = append(slot.Superseded, slot.Current)
			slot.Current = rec
		}
		return OutcomeDuplicate
	}

	if t.simple && !debugRetention {
		slot.Current = rec
		t.stats.Replaced++
		return OutcomeReplaced
	}

	slot.Superseded = append(slot.Superseded, slot.Current)
	slot.Current = rec
	t.stats.Merged++
	return OutcomeMerged
}

// Slot returns the slot for a key, if present.
func (t *Table[K]) Slot(key K) (*Slot, bool) {
	s, ok := t.slots[key]
	return s, ok
}

// Keys returns the slot keys in first-seen merge order.
func (t *Table[K]) Keys() []K {
	return t.order
}

// Len returns the number of occupied slots.
func (t *Table[K]) Len() int {
	return len(t.slots)
}

// Tag returns the record kind this table stores.
func (t *Table[K]) Tag() record.Tag {
	return t.tag
}

// Stats exposes the table's outcome counters.
func (t *Table[K]) Stats() *Stats {
	return &t.stats
}

// Reset discards all slots and counters.
func (t *Table[K]) Reset() {
	t.slots = make(map[K]*Slot)
	t.order = nil
	t.stats = Stats{}
}
