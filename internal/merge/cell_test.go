package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wstermayne/espmerge/internal/record"
)

func extCell(x, y int32, refs ...*record.Reference) *record.Cell {
	c := &record.Cell{
		Grid: record.Grid{X: x, Y: y},
		Refs: make(map[record.RefKey]*record.Reference),
	}
	for _, r := range refs {
		c.Refs[record.RefKey{Master: r.MastIndex, Refr: r.RefrIndex}] = r
	}
	return c
}

func ref(mast, refr uint32, objectID string) *record.Reference {
	return &record.Reference{MastIndex: mast, RefrIndex: refr, ObjectID: objectID}
}

type discardRefs struct{}

func (discardRefs) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
}

type collectRefs struct {
	masters []string
}

func (s *collectRefs) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
	s.masters = append(s.masters, master)
}

func beginPlugin(t *testing.T, r *Resolver, name string, masters ...record.MasterEntry) {
	t.Helper()
	require.NoError(t, r.BeginPlugin(name, masters))
}

func TestCellEngine_FreshGlobalIDsInCanonicalOrder(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 9, "rock"), ref(0, 2, "tree")), res, Policy{}, discardRefs{}))

	cell, ok := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.True(t, ok)
	require.Len(t, cell.Refs, 2)

	// Canonical order assigns by ascending local index: tree (2) before
	// rock (9).
	tree := cell.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, tree)
	assert.Equal(t, "tree", tree.ObjectID)
	rock := cell.Refs[record.RefKey{Master: 0, Refr: 2}]
	require.NotNil(t, rock)
	assert.Equal(t, "rock", rock.ObjectID)
}

func TestCellEngine_IDsMonotonicAcrossCells(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))
	require.NoError(t, e.Merge(extCell(1, 0, ref(0, 1, "tree")), res, Policy{}, discardRefs{}))

	assert.Equal(t, uint32(2), e.NextRefr(), "allocator never resets between cells")
	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 1, Y: 0}})
	require.NotNil(t, cell.Refs[record.RefKey{Master: 0, Refr: 2}])
}

func TestCellEngine_IdenticalPlacementsNeverCollapse(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	// Same content, no dependency on a.esp: a distinct instance.
	beginPlugin(t, res, "b.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	assert.Len(t, cell.Refs, 2)
}

func TestCellEngine_ExternalMasterRemapped(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	// b.esp declares masters in a different local order than a.esp, so
	// its local index 1 must be remapped to the run-global id.
	beginPlugin(t, res, "a.esp",
		record.MasterEntry{Name: "base.esm", Size: 1},
		record.MasterEntry{Name: "exp.esm", Size: 2},
	)
	require.NoError(t, e.Merge(extCell(0, 0, ref(2, 42, "door")), res, Policy{}, discardRefs{}))

	beginPlugin(t, res, "b.esp",
		record.MasterEntry{Name: "exp.esm", Size: 2},
	)
	require.NoError(t, e.Merge(extCell(0, 0, ref(1, 42, "door_patched")), res, Policy{}, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, cell.Refs, 1, "same external identity, last plugin wins")
	got := cell.Refs[record.RefKey{Master: 2, Refr: 42}]
	require.NotNil(t, got)
	assert.Equal(t, "door_patched", got.ObjectID)
}

func TestCellEngine_MergedMasterPatchesInPlace(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	beginPlugin(t, res, "a.esp")
	placed := ref(0, 5, "rock")
	placed.Pos = [3]float32{1, 2, 3}
	require.NoError(t, e.Merge(extCell(0, 0, placed), res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	patch := ref(1, 5, "rock")
	patch.Pos = [3]float32{9, 9, 9}
	require.NoError(t, e.Merge(extCell(0, 0, patch), res, Policy{}, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, cell.Refs, 1, "override must not create a second instance")
	got := cell.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, got)
	assert.Equal(t, [3]float32{9, 9, 9}, got.Pos)
}

func TestCellEngine_PatchPreservesAbsentOptionals(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	beginPlugin(t, res, "a.esp")
	placed := ref(0, 5, "chest")
	lock := uint32(50)
	placed.LockLevel = &lock
	placed.Owner = "fargoth"
	require.NoError(t, e.Merge(extCell(0, 0, placed), res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	require.NoError(t, e.Merge(extCell(0, 0, ref(1, 5, "chest")), res, Policy{}, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	got := cell.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, got)
	require.NotNil(t, got.LockLevel, "absent optional must not clobber")
	assert.Equal(t, uint32(50), *got.LockLevel)
	assert.Equal(t, "fargoth", got.Owner)
}

func TestCellEngine_MissingRefStrictFatal(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	err := e.Merge(extCell(0, 0, ref(1, 99, "ghost")), res, Policy{Strict: true}, discardRefs{})

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeMissingRef, re.Code)
	assert.True(t, IsMissingRefError(err))
}

func TestCellEngine_MissingRefIgnoredGoesToSink(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	sink := &collectRefs{}

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, sink))
	res.MarkMerged("a.esp")

	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	require.NoError(t, e.Merge(extCell(0, 0, ref(1, 99, "ghost"), ref(0, 7, "bush")), res, Policy{}, sink))

	assert.Equal(t, []string{"a.esp"}, sink.masters)

	// The rest of the plugin's references still merged.
	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	assert.Len(t, cell.Refs, 2)
}

func TestCellEngine_MergedMasterOnVacantCell(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	sink := &collectRefs{}

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, sink))
	res.MarkMerged("a.esp")

	// b.esp touches a cell a.esp never did; its merged-master override
	// has nothing to attach to.
	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	require.NoError(t, e.Merge(extCell(5, 5, ref(1, 1, "rock")), res, Policy{}, sink))

	assert.Equal(t, []string{"a.esp"}, sink.masters)
}

func TestCellEngine_UndeclaredMasterIndexFatal(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	err := e.Merge(extCell(0, 0, ref(3, 1, "rock")), res, Policy{}, discardRefs{})
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeFormat, re.Code)
}

func TestCellEngine_RestrictiveFilterDropsDeletedPlacements(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	dead := ref(0, 1, "rock")
	dead.Deleted = true
	pol := Policy{Filter: restrictiveFilter}
	require.NoError(t, e.Merge(extCell(0, 0, dead, ref(0, 2, "tree")), res, pol, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, cell.Refs, 1)
	for _, r := range cell.Refs {
		assert.Equal(t, "tree", r.ObjectID)
	}
}

func TestCellEngine_ScalarHistoryOnChange(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	region := "ascadian isles"
	first := extCell(0, 0)
	first.Region = &region

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(first, res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	changed := "azura's coast"
	second := extCell(0, 0)
	second.Region = &changed

	beginPlugin(t, res, "b.esp")
	require.NoError(t, e.Merge(second, res, Policy{}, discardRefs{}))

	assert.Equal(t, uint64(2), e.Stats().Processed)
	assert.Equal(t, uint64(1), e.Stats().Merged)

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.NotNil(t, cell.Region)
	assert.Equal(t, changed, *cell.Region)
}

func TestCellEngine_UnchangedScalarsCountDuplicate(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0), res, Policy{}, discardRefs{}))
	beginPlugin(t, res, "b.esp")
	require.NoError(t, e.Merge(extCell(0, 0), res, Policy{}, discardRefs{}))

	assert.Equal(t, uint64(1), e.Stats().Duplicate)
}

func TestCellEngine_MovedInstanceRelocated(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	moved := ref(0, 1, "ex_shack")
	moved.MovedCell = &record.Grid{X: 1, Y: 0}
	require.NoError(t, e.Merge(extCell(0, 0, moved), res, Policy{}, discardRefs{}))
	require.NoError(t, e.Merge(extCell(1, 0, ref(0, 2, "rock")), res, Policy{}, discardRefs{}))

	assert.Equal(t, 1, e.PendingMoves())
	require.NoError(t, e.RelocateMoved())
	assert.Zero(t, e.PendingMoves())

	src, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	assert.Empty(t, src.Refs)

	dst, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 1, Y: 0}})
	require.Len(t, dst.Refs, 2)
	got := dst.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, got)
	assert.Equal(t, "ex_shack", got.ObjectID)
	assert.Nil(t, got.MovedCell, "marker cleared after relocation")
}

func TestCellEngine_MoveMarkerToOwnGridCleared(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	stay := ref(0, 1, "rock")
	stay.MovedCell = &record.Grid{X: 0, Y: 0}
	require.NoError(t, e.Merge(extCell(0, 0, stay), res, Policy{}, discardRefs{}))

	assert.Zero(t, e.PendingMoves())
	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	got := cell.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, got)
	assert.Nil(t, got.MovedCell)
}

func TestCellEngine_RelocateMissingDestinationInternal(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	moved := ref(0, 1, "ex_shack")
	moved.MovedCell = &record.Grid{X: 9, Y: 9}
	require.NoError(t, e.Merge(extCell(0, 0, moved), res, Policy{}, discardRefs{}))

	err := e.RelocateMoved()
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInternal, re.Code)
}

func TestCellEngine_Reindex(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp", record.MasterEntry{Name: "base.esm", Size: 1})

	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 40, "rock"), ref(0, 41, "tree"), ref(1, 500, "door")), res, Policy{}, discardRefs{}))
	require.NoError(t, e.Merge(extCell(1, 0, ref(0, 42, "bush")), res, Policy{}, discardRefs{}))

	require.NoError(t, e.Reindex(context.Background(), 4))

	first, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, first.Refs, 3)
	assert.NotNil(t, first.Refs[record.RefKey{Master: 0, Refr: 1}])
	assert.NotNil(t, first.Refs[record.RefKey{Master: 0, Refr: 2}])
	assert.NotNil(t, first.Refs[record.RefKey{Master: 1, Refr: 500}], "external indices untouched")

	second, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 1, Y: 0}})
	require.Len(t, second.Refs, 1)
	assert.NotNil(t, second.Refs[record.RefKey{Master: 0, Refr: 3}], "counter continues across cells")
}

func TestCellEngine_ReindexCompactsInterleavedCells(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()

	// Two plugins interleave their placements across cells, so global
	// ids are scattered: cell (0,0) holds {1,3}, cell (1,0) holds {2}.
	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))
	require.NoError(t, e.Merge(extCell(1, 0, ref(0, 1, "tree")), res, Policy{}, discardRefs{}))
	res.MarkMerged("a.esp")

	beginPlugin(t, res, "b.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "bush")), res, Policy{}, discardRefs{}))

	require.NoError(t, e.Reindex(context.Background(), 2))

	first, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, first.Refs, 2)
	assert.NotNil(t, first.Refs[record.RefKey{Master: 0, Refr: 1}])
	assert.NotNil(t, first.Refs[record.RefKey{Master: 0, Refr: 2}])

	second, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 1, Y: 0}})
	require.Len(t, second.Refs, 1)
	got := second.Refs[record.RefKey{Master: 0, Refr: 3}]
	require.NotNil(t, got)
	assert.Equal(t, "tree", got.ObjectID)
}

func TestCellEngine_ReindexRemapsPluginMetas(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")

	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 7, "rock")), res, Policy{}, discardRefs{}))
	require.NoError(t, e.Reindex(context.Background(), 1))
	res.MarkMerged("a.esp")

	// The merged-master lookup must still find a.esp's local ref 7
	// after renumbering.
	beginPlugin(t, res, "b.esp", record.MasterEntry{Name: "a.esp", Size: 10})
	patch := ref(1, 7, "rock")
	patch.Pos = [3]float32{5, 5, 5}
	require.NoError(t, e.Merge(extCell(0, 0, patch), res, Policy{}, discardRefs{}))

	cell, _ := e.Cell(record.CellKey{Grid: record.Grid{X: 0, Y: 0}})
	require.Len(t, cell.Refs, 1)
	got := cell.Refs[record.RefKey{Master: 0, Refr: 1}]
	require.NotNil(t, got)
	assert.Equal(t, [3]float32{5, 5, 5}, got.Pos)
}

func TestCellEngine_ReindexCancelled(t *testing.T) {
	e := NewCellEngine()
	res := NewResolver()
	beginPlugin(t, res, "a.esp")
	require.NoError(t, e.Merge(extCell(0, 0, ref(0, 1, "rock")), res, Policy{}, discardRefs{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Reindex(ctx, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}
