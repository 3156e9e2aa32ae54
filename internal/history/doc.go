// Package history merges door-log events from every device into one
// bounded, de-duplicated, newest-first list.
//
// Each event carries an opaque dedup key assigned by the caller. The
// Buffer forgets keys of events that fall off its tail, so the dedup
// window always matches what is retained. The Collector polls devices on
// an interval, feeds the Buffer and persists it across restarts.
package history
