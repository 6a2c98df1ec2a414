package merge

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wstermayne/espmerge/internal/record"
)

func levItem(id, variant string) record.Record {
	return record.Record{
		Tag: record.TagLevItem,
		Fields: []record.Field{
			{Name: "NAME", Data: append([]byte(id), 0)},
			{Name: "INAM", Data: append([]byte(variant), 0)},
		},
	}
}

func land(x, y int32, variant byte) record.Record {
	intv := make([]byte, 8)
	binary.LittleEndian.PutUint32(intv[0:4], uint32(x))
	binary.LittleEndian.PutUint32(intv[4:8], uint32(y))
	return record.Record{
		Tag: record.TagLand,
		Fields: []record.Field{
			{Name: "INTV", Data: intv},
			{Name: "VNML", Data: []byte{variant}},
		},
	}
}

func dial(name string, typ record.DialType) record.Record {
	return record.Record{
		Tag: record.TagDialogue,
		Fields: []record.Field{
			{Name: "NAME", Data: append([]byte(name), 0)},
			{Name: "DATA", Data: []byte{byte(typ)}},
		},
	}
}

type discardSink struct{}

func (discardSink) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
}
func (discardSink) Truncated(field, original, truncated, cut string) {}

type collectTrunc struct {
	fields []string
	cuts   []string
}

func (s *collectTrunc) Truncated(field, original, truncated, cut string) {
	s.fields = append(s.fields, field)
	s.cuts = append(s.cuts, cut)
}

// divergedContext merges two variants each of a plain kind, a leveled
// list, a landscape record, and a simple kind.
func divergedContext(t *testing.T, debug bool) *Context {
	t.Helper()
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", nil))
	for _, rec := range []record.Record{
		static("rock", "v1.nif"),
		levItem("loot", "v1"),
		land(0, 0, 1),
		gameSetting("sGold", "Gold"),
	} {
		require.NoError(t, c.MergeRecord(rec, debug))
	}
	for _, rec := range []record.Record{
		static("rock", "v2.nif"),
		levItem("loot", "v2"),
		land(0, 0, 2),
		gameSetting("sGold", "Septim"),
	} {
		require.NoError(t, c.MergeRecord(rec, debug))
	}
	return c
}

func countTags(recs []record.Record) map[record.Tag]int {
	out := make(map[record.Tag]int)
	for i := range recs {
		out[recs[i].Tag]++
	}
	return out
}

func TestAssemble_ModeMatrix(t *testing.T) {
	tests := []struct {
		mode                   Mode
		stat, levi, land, gmst int
	}{
		{ModeKeep, 2, 2, 2, 1},
		{ModeKeepWithoutLands, 2, 2, 1, 1},
		{ModeReplace, 1, 2, 1, 1},
		{ModeGrass, 1, 2, 1, 1},
		{ModeCompleteReplace, 1, 1, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c := divergedContext(t, false)
			recs, err := Assemble(c, Options{Mode: tt.mode}, discardSink{})
			require.NoError(t, err)

			counts := countTags(recs)
			assert.Equal(t, 1, counts[record.TagHeader])
			assert.Equal(t, tt.stat, counts[record.TagStatic])
			assert.Equal(t, tt.levi, counts[record.TagLevItem])
			assert.Equal(t, tt.land, counts[record.TagLand])
			assert.Equal(t, tt.gmst, counts[record.TagGameSet])

			require.NoError(t, c.SelfCheck())
		})
	}
}

func TestAssemble_DebugRetentionEmitsFullHistory(t *testing.T) {
	c := divergedContext(t, true)
	recs, err := Assemble(c, Options{Mode: ModeCompleteReplace, DebugRetention: true}, discardSink{})
	require.NoError(t, err)

	counts := countTags(recs)
	assert.Equal(t, 2, counts[record.TagStatic])
	assert.Equal(t, 2, counts[record.TagLevItem])
	assert.Equal(t, 2, counts[record.TagLand])
	assert.Equal(t, 2, counts[record.TagGameSet], "debug retains simple-kind history too")
}

func TestAssemble_HeaderFirstWithMasterList(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", []record.MasterEntry{
		{Name: "base.esm", Size: 100},
	}))
	require.NoError(t, c.MergeRecord(static("rock", "a.nif"), false))

	recs, err := Assemble(c, Options{Author: "tester"}, discardSink{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	require.Equal(t, record.TagHeader, recs[0].Tag)

	h, err := record.DecodeHeader(&recs[0])
	require.NoError(t, err)
	assert.Equal(t, "tester", h.Author)
	assert.Equal(t, uint32(1), h.NumRecords, "header excluded from its own count")
	require.Len(t, h.Masters, 1)
	assert.Equal(t, "base.esm", h.Masters[0].Name)
	assert.Equal(t, uint64(100), h.Masters[0].Size)
}

func TestAssemble_TruncatesHeaderText(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", nil))

	sink := &collectTrunc{}
	author := strings.Repeat("a", record.AuthorWidth+5)
	recs, err := Assemble(c, Options{Author: author}, sink)
	require.NoError(t, err)

	h, err := record.DecodeHeader(&recs[0])
	require.NoError(t, err)
	assert.Len(t, h.Author, record.AuthorWidth)
	require.Equal(t, []string{"author"}, sink.fields)
	assert.Equal(t, strings.Repeat("a", 5), sink.cuts[0])
}

func TestAssemble_DialoguePartitions(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", nil))
	// Merge order: topic, journal, topic, journal.
	require.NoError(t, c.MergeRecord(dial("rumors", record.DialTopic), false))
	require.NoError(t, c.MergeRecord(dial("A1_quest", record.DialJournal), false))
	require.NoError(t, c.MergeRecord(dial("background", record.DialTopic), false))
	require.NoError(t, c.MergeRecord(dial("B2_quest", record.DialJournal), false))

	recs, err := Assemble(c, Options{}, discardSink{})
	require.NoError(t, err)

	var names []string
	for i := range recs {
		if recs[i].Tag != record.TagDialogue {
			continue
		}
		d, err := record.DecodeDial(&recs[i])
		require.NoError(t, err)
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"A1_quest", "B2_quest", "rumors", "background"}, names,
		"journal partition first, merge order within each")
}

func TestAssemble_EmissionOrderFollowsKindOrder(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", nil))
	// Merged out of emission order on purpose.
	require.NoError(t, c.MergeRecord(land(0, 0, 1), false))
	require.NoError(t, c.MergeRecord(static("rock", "a.nif"), false))
	require.NoError(t, c.MergeRecord(gameSetting("sGold", "Gold"), false))

	recs, err := Assemble(c, Options{}, discardSink{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, record.TagHeader, recs[0].Tag)
	assert.Equal(t, record.TagGameSet, recs[1].Tag)
	assert.Equal(t, record.TagStatic, recs[2].Tag)
	assert.Equal(t, record.TagLand, recs[3].Tag)
}

func TestFlattenSlot_DropsTrailingSupersededEqualToCurrent(t *testing.T) {
	v1 := static("rock", "v1.nif")
	v2 := static("rock", "v2.nif")
	slot := &Slot{Current: v2, Superseded: []record.Record{v1, v2}}
	policy, _ := record.PolicyFor(record.TagStatic)

	out := flattenSlot(slot, policy, Options{Mode: ModeKeep})
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(&v1))
	assert.True(t, out[1].Equal(&v2))
}
