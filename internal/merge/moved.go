package merge

import (
	"fmt"
	"sort"

	"github.com/wstermayne/espmerge/internal/record"
)

// RelocateMoved runs the moved-instance pass: every reference recorded
// as pending relocation is removed from its source cell, its moved-cell
// marker cleared, and inserted into its destination cell under the same
// global key.
//
// Runs once, after all plugins for the target are merged. The moved
// table is built from the same stream that built the cell index, so a
// missing source or destination cell is a bug-class internal error,
// not an input problem.
func (e *CellEngine) RelocateMoved() error {
	keys := make([]record.RefKey, 0, len(e.moved))
	for k := range e.moved {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Master != keys[j].Master {
			return keys[i].Master < keys[j].Master
		}
		return keys[i].Refr < keys[j].Refr
	})

	for _, gkey := range keys {
		entry := e.moved[gkey]
		srcKey := record.CellKey{Grid: entry.Old}
		dstKey := record.CellKey{Grid: entry.New}

		src, ok := e.cells[srcKey]
		if !ok {
			return &RunError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("moved instance (%d,%d): source cell %s not in cell index", gkey.Master, gkey.Refr, srcKey),
				Cell:    srcKey.String(),
				Ref:     gkey,
			}
		}
		ref, ok := src.cell.Refs[gkey]
		if !ok {
			return &RunError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("moved instance (%d,%d): reference not in source cell %s", gkey.Master, gkey.Refr, srcKey),
				Cell:    srcKey.String(),
				Ref:     gkey,
			}
		}
		dst, ok := e.cells[dstKey]
		if !ok {
			return &RunError{
				Code:    ErrCodeInternal,
				Message: fmt.Sprintf("moved instance (%d,%d): destination cell %s not in cell index", gkey.Master, gkey.Refr, dstKey),
				Cell:    dstKey.String(),
				Ref:     gkey,
			}
		}

		delete(src.cell.Refs, gkey)
		ref.MovedCell = nil
		dst.cell.Refs[gkey] = ref
	}

	e.moved = make(map[record.RefKey]movedEntry)
	return nil
}

// PendingMoves reports how many relocations are queued. Used by the
// driver for verbose reporting before the pass runs.
func (e *CellEngine) PendingMoves() int {
	return len(e.moved)
}
