package merge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wstermayne/espmerge/internal/record"
)

// Reindex reassigns the index of every directly-placed reference
// (master 0) across all output cells, so merged-output numbering
// resembles editor-produced numbering. Cells are processed in the
// first-seen deterministic order, each cell's references in the
// canonical sort order, with one monotonically increasing counter
// starting at 1 and never resetting between cells. External references
// keep their original indices untouched.
//
// The per-cell count pre-scan and the per-cell assignment both run on
// a worker pool: each worker reads or writes only its own cell's
// state, and the single-writer driver computes the offsets in between.
func (e *CellEngine) Reindex(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}

	type cellPlan struct {
		refs  []*record.Reference // canonical order snapshot
		local int                 // count of master-0 references
		start uint32              // first new index for this cell
	}
	plans := make([]cellPlan, len(e.order))

	// Pre-scan: canonical order and local counts, disjoint slots.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range e.order {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := e.cells[key]
			refs := st.cell.SortedRefs()
			local := 0
			for _, r := range refs {
				if r.MastIndex == 0 {
					local++
				}
			}
			plans[i] = cellPlan{refs: refs, local: local}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Offsets: single counter across all cells, starting at 1.
	next := uint32(1)
	for i := range plans {
		plans[i].start = next
		next += uint32(plans[i].local)
	}
	if next > record.MaxRefrIndex {
		return &RunError{
			Code:    ErrCodeRefrOverflow,
			Message: "reindex would exceed the reference index space",
		}
	}

	// Assignment: rebuild each cell's reference map and remap its
	// plugin metas. Disjoint per-cell writes.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range e.order {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := e.cells[key]
			plan := plans[i]
			remap := make(map[uint32]uint32, plan.local)
			idx := plan.start
			rebuilt := make(map[record.RefKey]*record.Reference, len(plan.refs))
			for _, r := range plan.refs {
				if r.MastIndex == 0 {
					remap[r.RefrIndex] = idx
					r.RefrIndex = idx
					idx++
				}
				rebuilt[record.RefKey{Master: r.MastIndex, Refr: r.RefrIndex}] = r
			}
			st.cell.Refs = rebuilt

			// The plugin metas are an auxiliary index built from
			// pre-reindex positions; they must follow the renumbering.
			for _, pm := range st.meta.Plugins {
				for j := range pm.Refs {
					if newIdx, ok := remap[pm.Refs[j].Global]; ok {
						pm.Refs[j].Global = newIdx
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}
