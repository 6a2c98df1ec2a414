// Package record defines the plugin record model for espmerge.
//
// This package contains the closed set of record kinds, the generic
// record representation, the typed views the merge engine needs (header,
// cell, placed reference, dialogue topic, landscape), and the binary
// codec for plugin streams.
//
// All other internal packages import record; record imports nothing
// internal. This keeps the data model the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Canon() bytes are the ONLY serialization used for record identity
//     and equality. Two records are the same record iff their canonical
//     bytes are equal.
//   - Name keys are NFC normalized then lowercased at the boundary,
//     never deeper in the pipeline.
//   - The kind set is closed. Unknown tags are a decode-time policy
//     decision (skip or fail), never a new kind.
package record
