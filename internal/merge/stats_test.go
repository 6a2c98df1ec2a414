package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_SelfCheckPasses(t *testing.T) {
	s := Stats{
		Processed:        10,
		Duplicate:        3,
		Merged:           2,
		Replaced:         1,
		UniqueEmitted:    4,
		MergeableEmitted: 2,
		TotalEmitted:     6,
	}
	assert.NoError(t, s.SelfCheck())
}

func TestStats_SelfCheckCatchesUniqueMismatch(t *testing.T) {
	s := Stats{Processed: 5, UniqueEmitted: 4, TotalEmitted: 4}
	assert.Error(t, s.SelfCheck())
}

func TestStats_SelfCheckCatchesEmissionMismatch(t *testing.T) {
	s := Stats{Processed: 1, UniqueEmitted: 1, MergeableEmitted: 1, TotalEmitted: 1}
	assert.Error(t, s.SelfCheck())
}

func TestStats_Add(t *testing.T) {
	a := Stats{Processed: 1, Merged: 1, TotalEmitted: 2}
	a.Add(Stats{Processed: 2, Duplicate: 1, TotalEmitted: 1})
	assert.Equal(t, uint64(3), a.Processed)
	assert.Equal(t, uint64(1), a.Duplicate)
	assert.Equal(t, uint64(1), a.Merged)
	assert.Equal(t, uint64(3), a.TotalEmitted)
}
