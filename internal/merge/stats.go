package merge

import "fmt"

// Stats counts merge outcomes for one record table. Every merge call
// increments Processed; non-initial outcomes additionally increment
// exactly one of Duplicate, Merged, or Replaced.
//
// Self-check invariant:
//
//	Processed - Duplicate - Merged - Replaced == UniqueEmitted
//	UniqueEmitted + MergeableEmitted == TotalEmitted
type Stats struct {
	// Processed counts every merge call.
	Processed uint64
	// Duplicate counts merges whose value equaled the current slot.
	Duplicate uint64
	// Merged counts value changes retained as history.
	Merged uint64
	// Replaced counts in-place overwrites of simple kinds.
	Replaced uint64

	// Emission counters, filled by the assembler.
	UniqueEmitted    uint64
	MergeableEmitted uint64
	TotalEmitted     uint64
}

// Add accumulates another table's counters.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Duplicate += other.Duplicate
	s.Merged += other.Merged
	s.Replaced += other.Replaced
	s.UniqueEmitted += other.UniqueEmitted
	s.MergeableEmitted += other.MergeableEmitted
	s.TotalEmitted += other.TotalEmitted
}

// SelfCheck verifies the counter invariant after assembly.
// A violation is a bug in the merge pipeline, not an input problem.
func (s *Stats) SelfCheck() error {
	unique := s.Processed - s.Duplicate - s.Merged - s.Replaced
	if unique != s.UniqueEmitted {
		return fmt.Errorf("stats self-check: processed-duplicate-merged-replaced=%d, unique emitted=%d",
			unique, s.UniqueEmitted)
	}
	if s.UniqueEmitted+s.MergeableEmitted != s.TotalEmitted {
		return fmt.Errorf("stats self-check: unique=%d + mergeable=%d != total=%d",
			s.UniqueEmitted, s.MergeableEmitted, s.TotalEmitted)
	}
	return nil
}
