package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wstermayne/espmerge/internal/record"
)

func TestParseMode(t *testing.T) {
	for _, name := range []string{"keep", "keep-without-lands", "replace", "complete-replace", "grass"} {
		m, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}

	_, err := ParseMode("overwrite")
	assert.Error(t, err)
}

func TestContext_MergeRecordDispatch(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.MergeRecord(static("rock", "a.nif"), false))
	require.NoError(t, c.MergeRecord(land(0, 0, 1), false))

	skil := record.Record{Tag: record.TagSkill, Fields: []record.Field{
		{Name: "INDX", Data: []byte{7, 0, 0, 0}},
		{Name: "SKDT", Data: []byte{1}},
	}}
	require.NoError(t, c.MergeRecord(skil, false))
}

func TestContext_MergeRecordRejectsKeylessRecord(t *testing.T) {
	err := NewContext().MergeRecord(record.Record{Tag: record.TagStatic}, false)
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeFormat, re.Code)
}

func TestContext_MergeRecordRejectsUnknownTag(t *testing.T) {
	err := NewContext().MergeRecord(record.Record{Tag: record.Tag("XXXX")}, false)
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnexpectedTag, re.Code)
}

func TestContext_TableStatsOnlyTouchedTables(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.MergeRecord(static("rock", "a.nif"), false))
	require.NoError(t, c.MergeRecord(gameSetting("sGold", "Gold"), false))

	stats := c.TableStats()
	require.Len(t, stats, 2)
	// Emission order: GMST before STAT.
	assert.Equal(t, record.TagGameSet, stats[0].Tag)
	assert.Equal(t, record.TagStatic, stats[1].Tag)
}

func TestContext_ResetClearsEverything(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Resolver.BeginPlugin("a.esp", []record.MasterEntry{{Name: "base.esm", Size: 1}}))
	require.NoError(t, c.MergeRecord(static("rock", "a.nif"), false))
	require.NoError(t, c.Cells.Merge(extCell(0, 0, ref(0, 1, "rock")), c.Resolver, Policy{}, discardRefs{}))

	c.Reset()
	assert.Empty(t, c.TableStats())
	assert.Empty(t, c.Resolver.Globals())
	assert.Zero(t, c.Cells.NextRefr())
}

func TestOptions_PolicyWiring(t *testing.T) {
	pol := Options{Strict: true, DebugRetention: true}.policy()
	assert.True(t, pol.Strict)
	assert.True(t, pol.DebugRetention)
	assert.Nil(t, pol.Filter)

	pol = Options{RestrictiveFilter: true}.policy()
	require.NotNil(t, pol.Filter)
	dead := &record.Reference{Deleted: true}
	assert.True(t, pol.Filter(dead))
	external := &record.Reference{Deleted: true, MastIndex: 1}
	assert.False(t, pol.Filter(external), "only locally placed deletions are no-ops")
	assert.False(t, pol.Filter(&record.Reference{}))
}
