// Package tsdb is an embedded, append-oriented time-series storage engine.
// It persists per-series streams of (timestamp, value) records in a single
// on-disk file and exposes ordered, seekable read cursors over them.
package tsdb
