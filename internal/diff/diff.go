// Package diff implements the output comparison gate.
//
// Given a newly assembled record sequence and the previously written
// file at the same path, the gate classifies the change as identical,
// insignificant (cosmetic header metadata only), or significant, and
// decides whether the file is actually rewritten. Consumers only need
// to restart on a significant change.
package diff

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/wstermayne/espmerge/internal/record"
)

// Classification is the comparison verdict against the previous output.
type Classification int

const (
	// NoPrevious: no prior file exists at the output path.
	NoPrevious Classification = iota
	// Identical: byte-for-byte the same content, modulo reference
	// storage order inside cells.
	Identical
	// Insignificant: only cosmetic header metadata (author,
	// description, master sizes) changed.
	Insignificant
	// Significant: a structural difference consumers must pick up.
	Significant
	// Skipped: comparison disabled by the no-compare flag.
	Skipped
)

func (c Classification) String() string {
	switch c {
	case NoPrevious:
		return "no previous version"
	case Identical:
		return "equal to previous version"
	case Insignificant:
		return "insignificant difference"
	case Significant:
		return "significant difference"
	case Skipped:
		return "comparison skipped"
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// Classify compares a previous output record sequence against a newly
// assembled one. The first point of difference determines the result.
//
// Headers are compared with author, description, and master sizes
// stripped, so cosmetic metadata changes alone classify as
// insignificant. Cells are compared ignoring reference storage order:
// both sides are re-sorted with the canonical order before the
// equality check. Every other kind compares by full canonical bytes.
func Classify(old, new []record.Record) (Classification, error) {
	if len(old) == 0 || len(new) == 0 {
		return Significant, nil
	}

	cosmetic := false
	oldHeader, err := record.DecodeHeader(&old[0])
	if err != nil {
		return Significant, fmt.Errorf("previous header: %w", err)
	}
	newHeader, err := record.DecodeHeader(&new[0])
	if err != nil {
		return Significant, fmt.Errorf("new header: %w", err)
	}
	if !headerEqual(oldHeader.StripCosmetic(), newHeader.StripCosmetic()) {
		return Significant, nil
	}
	if !old[0].Equal(&new[0]) {
		cosmetic = true
	}

	if len(old) != len(new) {
		return Significant, nil
	}
	for i := 1; i < len(new); i++ {
		equal, err := recordsEqual(&old[i], &new[i])
		if err != nil {
			return Significant, err
		}
		if !equal {
			return Significant, nil
		}
	}

	if cosmetic {
		return Insignificant, nil
	}
	return Identical, nil
}

func headerEqual(a, b record.Header) bool {
	ra, err := a.Record()
	if err != nil {
		return false
	}
	rb, err := b.Record()
	if err != nil {
		return false
	}
	return ra.Equal(&rb)
}

// recordsEqual compares two records, re-sorting cell references into
// canonical order first so storage order never counts as a change.
func recordsEqual(a, b *record.Record) (bool, error) {
	if a.Tag != b.Tag {
		return false, nil
	}
	if a.Tag != record.TagCell {
		return a.Equal(b), nil
	}
	ca, err := record.DecodeCell(a)
	if err != nil {
		return false, fmt.Errorf("previous cell: %w", err)
	}
	cb, err := record.DecodeCell(b)
	if err != nil {
		return false, fmt.Errorf("new cell: %w", err)
	}
	ra, err := ca.Record()
	if err != nil {
		return false, err
	}
	rb, err := cb.Record()
	if err != nil {
		return false, err
	}
	return ra.Equal(&rb), nil
}

// Describe renders a readable difference between two records for
// verbose output.
func Describe(old, new *record.Record) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(sketch(old), sketch(new), false)
	return dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs))
}

// sketch renders a record as a compact text form for diffing.
func sketch(r *record.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s flags=%d\n", r.Tag, r.Flags)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "  %s %d %x\n", f.Name, len(f.Data), f.Data)
	}
	return b.String()
}

// Decision is the gate's outcome for one output target.
type Decision struct {
	Class   Classification
	Written bool
}

// Gate decides whether an assembled output is persisted.
type Gate struct {
	// NoCompare skips comparison and always writes.
	NoCompare bool

	// DryRun reports the same classification but never writes.
	DryRun bool

	// DecodeOptions applies when reading the previous output file.
	DecodeOptions record.DecodeOptions
}

// Apply compares the assembled records against the file at path and
// writes them when the difference is significant (or no prior file
// exists). Dry-run performs the same classification without writing.
func (g Gate) Apply(path string, recs []record.Record) (Decision, error) {
	class := Skipped
	if !g.NoCompare {
		old, err := record.LoadFile(path, g.DecodeOptions)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			class = NoPrevious
		case err != nil:
			// Unreadable previous output: treat as significant and
			// overwrite, the stale bytes cannot be compared against.
			slog.Warn("previous output unreadable", "path", path, "error", err)
			class = Significant
		default:
			class, err = Classify(old, recs)
			if err != nil {
				slog.Debug("comparison degraded", "path", path, "error", err)
			}
			if class == Significant {
				logFirstDifference(old, recs)
			}
		}
	}

	write := class == Significant || class == NoPrevious || class == Skipped
	if g.DryRun {
		write = false
	}
	if !write {
		return Decision{Class: class}, nil
	}

	if err := record.WriteFile(path, recs); err != nil {
		return Decision{Class: class}, err
	}
	return Decision{Class: class, Written: true}, nil
}

// logFirstDifference emits a verbose rendering of the first record
// pair that differs.
func logFirstDifference(old, new []record.Record) {
	n := len(old)
	if len(new) < n {
		n = len(new)
	}
	for i := 0; i < n; i++ {
		equal, err := recordsEqual(&old[i], &new[i])
		if err != nil || !equal {
			slog.Debug("first difference",
				"index", i,
				"kind", string(new[i].Tag),
				"diff", Describe(&old[i], &new[i]),
			)
			return
		}
	}
	slog.Debug("record count changed", "previous", len(old), "new", len(new))
}
