package report

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wstermayne/espmerge/internal/merge"
	"github.com/wstermayne/espmerge/internal/record"
)

// Level is the reporting tier.
type Level int

const (
	// Quiet shows warnings and errors only.
	Quiet Level = iota
	// Normal adds per-target status messages.
	Normal
	// Verbose adds per-step detail.
	Verbose
)

// slogLevel maps a reporting tier onto the handler threshold.
func (l Level) slogLevel() slog.Level {
	switch l {
	case Quiet:
		return slog.LevelWarn
	case Verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the slog logger for a reporting tier.
func NewLogger(w io.Writer, level Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
	}))
}

// IgnoredRefs aggregates missing-reference occurrences for one
// offending master: the first-seen description and a running count.
type IgnoredRefs struct {
	Master string
	First  string
	Count  int
}

// Reporter is the write-only message sink of the merge pipeline.
// Implements merge.Sink.
//
// Owned by the single-threaded merge driver; not safe for concurrent
// use.
type Reporter struct {
	log        *slog.Logger
	verboseAll bool

	ignored map[string]*IgnoredRefs
	order   []string
}

var _ merge.Sink = (*Reporter)(nil)

// New creates a reporter. Each run gets a correlation id carried on
// every message.
func New(log *slog.Logger, verboseAll bool) *Reporter {
	return &Reporter{
		log:        log.With("run_id", uuid.NewString()),
		verboseAll: verboseAll,
		ignored:    make(map[string]*IgnoredRefs),
	}
}

// MissingRef accumulates one externally-referenced-but-missing
// condition into the offending master's bucket. The first occurrence
// per master is logged; later ones only count, unless verbose-all is
// set.
func (r *Reporter) MissingRef(master, plugin string, cell record.CellKey, local record.RefKey, objectID string) {
	detail := fmt.Sprintf("%s refers to %q (master %d, index %d) in cell %s, not found in %q",
		plugin, objectID, local.Master, local.Refr, cell, master)

	b, ok := r.ignored[master]
	if !ok {
		b = &IgnoredRefs{Master: master, First: detail}
		r.ignored[master] = b
		r.order = append(r.order, master)
	}
	b.Count++

	if !ok || r.verboseAll {
		r.log.Warn("ignored missing reference",
			"master", master,
			"plugin", plugin,
			"cell", cell.String(),
			"object", objectID,
			"occurrences", b.Count,
		)
	}
}

// Truncated surfaces a header-text truncation: never fatal, always
// visible.
func (r *Reporter) Truncated(field, original, truncated, cut string) {
	r.log.Warn("header text truncated",
		"field", field,
		"original", original,
		"truncated", truncated,
		"cut", cut,
	)
}

// SkippedTag surfaces one decoder skip of an ignored unknown tag.
func (r *Reporter) SkippedTag(plugin string, tag record.Tag, offset int64) {
	r.log.Warn("skipped unknown record",
		"plugin", plugin,
		"tag", string(tag),
		"offset", offset,
	)
}

// Reset clears the accumulated missing-reference buckets. The merge
// driver calls it between targets so one target's pass never
// re-reports an earlier target's ignored references.
func (r *Reporter) Reset() {
	r.ignored = make(map[string]*IgnoredRefs)
	r.order = nil
}

// Ignored returns the accumulated missing-reference buckets in
// first-seen order.
func (r *Reporter) Ignored() []IgnoredRefs {
	out := make([]IgnoredRefs, 0, len(r.order))
	for _, master := range r.order {
		out = append(out, *r.ignored[master])
	}
	return out
}

// Summary emits the final per-target statistics: one line per record
// table, the ignored-reference totals, and the write decision.
func (r *Reporter) Summary(target string, res *merge.Result, classification string, written bool) {
	for _, ts := range res.Tables {
		r.log.Info("table merged",
			"target", target,
			"kind", string(ts.Tag),
			"processed", ts.Stats.Processed,
			"duplicate", ts.Stats.Duplicate,
			"merged", ts.Stats.Merged,
			"replaced", ts.Stats.Replaced,
			"emitted", ts.Stats.TotalEmitted,
		)
	}
	for _, b := range r.Ignored() {
		r.log.Warn("missing references ignored",
			"target", target,
			"master", b.Master,
			"count", b.Count,
			"first", b.First,
		)
	}
	r.log.Info("target finished",
		"target", target,
		"records", len(res.Records),
		"moved_instances", res.Moved,
		"comparison", classification,
		"written", written,
	)
}
