// Package report implements the leveled reporting channel of the merge
// pipeline.
//
// The merge engine treats reporting as write-only: status messages,
// warnings for ignored missing-reference and unexpected-tag
// conditions, header truncation notices, and final per-run statistics
// all flow through a Reporter. Tiers map onto slog levels: quiet shows
// warnings and errors only, normal adds status, verbose adds per-step
// detail.
//
// Missing-reference conditions are aggregated into per-master buckets
// (first-seen text plus a running count) and logged once per offending
// master, or on every occurrence when verbose-all is set.
package report
