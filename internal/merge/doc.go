// Package merge implements the espmerge merge engine.
//
// The engine folds typed records from an ordered plugin sequence into
// global, deduplicated slots, resolves cell reference graphs across
// plugin boundaries, and flattens the result into an output record
// sequence according to the configured mode.
//
// ARCHITECTURE:
//
// Single-Writer Merge Driver:
// Plugin reading for one output target is strictly sequential - later
// plugins' merges depend on state built by earlier ones. All mutable
// run state (record tables, master resolver, cell tables, allocators)
// is owned by the Merger driver and bundled into one Context with an
// explicit Reset between output targets. There is no package-level
// mutable state.
//
// Per-target flow:
//  1. Each plugin's header is processed first (populates the master
//     resolver), then its body records stream through the record
//     tables and the cell engine.
//  2. After all plugins are consumed, the moved-instance pass relocates
//     references whose owning cell changed, and the optional reindexer
//     renumbers directly-placed references.
//  3. The assembler flattens all tables into the final record sequence
//     and the diff gate decides whether to persist it.
//
// Passes with no cross-plugin ordering dependency (pre-scans, per-cell
// reindex counting) run on an errgroup worker pool over immutable
// snapshots or disjoint slots; everything else is single-threaded for
// determinism.
//
// CRITICAL PATTERNS:
//
// Canonical reference order:
// References are assigned new global identities only in the canonical
// sort order (record.SortReferences). Map iteration order must never
// leak into identity assignment or output.
//
// Monotonic allocation:
// Global reference ids within one output target are strictly increasing
// and never reused. Allocator overflow is fatal.
package merge
