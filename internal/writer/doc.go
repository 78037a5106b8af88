// Package writer buffers ingested items per kind and flushes them to a
// docstore collection in bounded batches.
//
// A Writer owns one buffer guarded by its own mutex. Inserts append to the
// buffer and flush synchronously once it reaches the threshold, so every
// physical batch holds exactly threshold items except the final one. The
// buffer is cleared after every flush attempt whatever the outcome; delivery
// is bounded-effort and failed batches are dropped and counted.
//
// How a batch reaches the store is decided by a Strategy:
//
//   - InsertOnly inserts documents and drops duplicates (images).
//   - PageMerge inserts pages and reconciles duplicates against stored stubs.
//   - BacklinkBulk upserts backlink set additions.
//   - TokenMerge aggregates token occurrences and merges them into the
//     inverted index, retrying duplicate-key conflicts through RetryConflicts.
package writer
