package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wstermayne/espmerge/internal/record"
)

// Sink is the reporting surface the merge driver needs. Implemented by
// report.Reporter; the driver treats it as write-only.
type Sink interface {
	MissingRefSink
	TruncationSink
}

// Plugin is one decoded input file: the plugin's base name plus its
// full record sequence, header first.
type Plugin struct {
	Name    string
	Records []record.Record
}

// Result is the outcome of merging one output target.
type Result struct {
	// Records is the assembled output sequence, header first.
	Records []record.Record

	// Tables holds per-kind merge counters for final reporting.
	Tables []TableStat

	// Moved is how many references the moved-instance pass relocated.
	Moved int
}

// Merger is the sequential merge driver for output targets.
//
// CRITICAL: MergeTarget must be called from exactly one goroutine.
// Later plugins' merges depend on state built by earlier ones; the
// only parallelism is inside passes that write disjoint per-cell
// slots.
type Merger struct {
	ctx  *Context
	opts Options
	sink Sink
}

// New creates a merge driver with its own run context.
func New(sink Sink, opts Options) *Merger {
	return &Merger{ctx: NewContext(), opts: opts, sink: sink}
}

// Context exposes the run context. Used by tests and the diff gate.
func (m *Merger) Context() *Context {
	return m.ctx
}

// MergeTarget merges an ordered plugin list into one assembled output
// record sequence. The context is reset first, so one Merger can
// process successive targets.
func (m *Merger) MergeTarget(ctx context.Context, target string, plugins []Plugin) (*Result, error) {
	m.ctx.Reset()
	pol := m.opts.policy()

	slog.Info("merging target",
		"target", target,
		"plugins", len(plugins),
		"mode", m.opts.Mode.String(),
	)

	for _, p := range plugins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.mergePlugin(p, pol); err != nil {
			return nil, fmt.Errorf("merge %s into %s: %w", p.Name, target, err)
		}
	}

	moved := m.ctx.Cells.PendingMoves()
	if moved > 0 {
		slog.Debug("relocating moved instances", "target", target, "count", moved)
	}
	if err := m.ctx.Cells.RelocateMoved(); err != nil {
		return nil, fmt.Errorf("moved-instance pass for %s: %w", target, err)
	}

	if m.opts.Reindex {
		slog.Debug("reindexing references", "target", target)
		if err := m.ctx.Cells.Reindex(ctx, m.opts.Workers); err != nil {
			return nil, fmt.Errorf("reindex %s: %w", target, err)
		}
	}

	recs, err := Assemble(m.ctx, m.opts, m.sink)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", target, err)
	}
	if err := m.ctx.SelfCheck(); err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}

	slog.Info("target assembled",
		"target", target,
		"records", len(recs),
		"cells", len(m.ctx.Cells.Cells()),
		"moved", moved,
	)

	return &Result{
		Records: recs,
		Tables:  m.ctx.TableStats(),
		Moved:   moved,
	}, nil
}

// mergePlugin streams one plugin through the tables: header first
// (populates the master resolver), then every body record.
func (m *Merger) mergePlugin(p Plugin, pol Policy) error {
	if len(p.Records) == 0 {
		return &RunError{Code: ErrCodeFormat, Message: "plugin has no records", Plugin: p.Name}
	}
	header, err := record.DecodeHeader(&p.Records[0])
	if err != nil {
		return &RunError{Code: ErrCodeFormat, Message: err.Error(), Plugin: p.Name}
	}
	if err := m.ctx.Resolver.BeginPlugin(p.Name, header.Masters); err != nil {
		return err
	}

	slog.Debug("merging plugin",
		"plugin", p.Name,
		"records", len(p.Records)-1,
		"masters", len(header.Masters),
	)

	for i := 1; i < len(p.Records); i++ {
		rec := &p.Records[i]
		switch rec.Tag {
		case record.TagHeader:
			// The codec rejects this; guard against hand-built inputs.
			return &RunError{Code: ErrCodeFormat, Message: record.ErrDuplicateHeader.Error(), Plugin: p.Name}
		case record.TagCell:
			cell, err := record.DecodeCell(rec)
			if err != nil {
				return &RunError{Code: ErrCodeFormat, Message: err.Error(), Plugin: p.Name}
			}
			if err := m.ctx.Cells.Merge(cell, m.ctx.Resolver, pol, m.sink); err != nil {
				return err
			}
		default:
			if err := m.ctx.MergeRecord(*rec, m.opts.DebugRetention); err != nil {
				if re, ok := err.(*RunError); ok && re.Plugin == "" {
					re.Plugin = p.Name
				}
				return err
			}
		}
	}

	m.ctx.Resolver.MarkMerged(p.Name)
	return nil
}
