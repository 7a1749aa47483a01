package tsdb

import "math"

// Cursor is a read-only, bufio.Scanner-shaped iterator over one series'
// records as of the snapshot it was opened against. It holds at most one
// decoded page at a time and is unaffected by commits that happen after
// it was created.
type Cursor struct {
	store *pageStore
	snap  *seriesSnapshot

	pageIdx int // index into snap.pages of the currently loaded page, -1 if none
	page    *decodedPage
	recIdx  int // index into page.records

	valid bool
	err   error
}

// newCursor positions a cursor at the first record of s.
func newCursor(store *pageStore, s *seriesSnapshot) *Cursor {
	c := &Cursor{store: store, snap: s, pageIdx: -1}
	if len(s.pages) == 0 {
		return c
	}
	if !c.loadPage(0) {
		return c
	}
	c.recIdx = 0
	c.valid = len(c.page.records) > 0
	return c
}

// loadPage decodes snap.pages[idx] into c.page, recording any failure in
// c.err. It returns false (and leaves the cursor invalid) on failure.
func (c *Cursor) loadPage(idx int) bool {
	buf := c.store.newPageBuf()
	if err := c.store.readPage(c.snap.pages[idx], buf); err != nil {
		c.err = err
		c.valid = false
		return false
	}
	page, err := decodeDataPage(buf, c.snap.id, c.snap.typ)
	if err != nil {
		c.err = err
		c.valid = false
		return false
	}
	c.pageIdx = idx
	c.page = page
	return true
}

// Valid reports whether the cursor currently points at a record.
func (c *Cursor) Valid() bool { return c.valid }

// Err returns the first error encountered, if any. A CorruptionError or
// IOError here means the cursor is permanently invalid.
func (c *Cursor) Err() error { return c.err }

// Timestamp returns the current record's timestamp. Undefined if !Valid().
func (c *Cursor) Timestamp() uint64 { return c.page.records[c.recIdx].ts }

// UInt64Value returns the current record's value as a uint64. Undefined if
// !Valid() or the series' type is not TypeUint64.
func (c *Cursor) UInt64Value() uint64 { return c.page.records[c.recIdx].value }

// Int64Value returns the current record's value as an int64. Undefined if
// !Valid() or the series' type is not TypeInt64.
func (c *Cursor) Int64Value() int64 { return int64(c.page.records[c.recIdx].value) }

// Float64Value returns the current record's value as a float64. Undefined
// if !Valid() or the series' type is not TypeFloat64.
func (c *Cursor) Float64Value() float64 { return math.Float64frombits(c.page.records[c.recIdx].value) }

// Next advances the cursor by one record, returning false (and leaving the
// cursor invalid) at the end of the series.
func (c *Cursor) Next() bool {
	if !c.valid {
		return false
	}
	c.recIdx++
	if c.recIdx < len(c.page.records) {
		return true
	}
	for c.pageIdx+1 < len(c.snap.pages) {
		if !c.loadPage(c.pageIdx + 1) {
			return false
		}
		c.recIdx = 0
		if len(c.page.records) > 0 {
			return true
		}
	}
	c.valid = false
	return false
}

// SeekTo positions the cursor at the least record with timestamp >= ts. If
// ts exceeds the series' maximum timestamp the cursor becomes invalid; if
// it precedes the minimum, the cursor positions at the first record.
func (c *Cursor) SeekTo(ts uint64) bool {
	if len(c.snap.pages) == 0 {
		c.valid = false
		return false
	}

	// Binary search for the leftmost page whose max timestamp >= ts; that
	// page contains the least record with ts' >= ts, whether ts falls
	// inside it or precedes its min entirely.
	lo, hi := 0, len(c.snap.pages)-1
	target := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if !c.loadPage(mid) {
			return false
		}
		if c.page.max >= ts {
			target = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	if target == -1 {
		c.valid = false
		return false
	}
	if !c.loadPage(target) {
		return false
	}

	idx := 0
	for idx < len(c.page.records) && c.page.records[idx].ts < ts {
		idx++
	}
	c.recIdx = idx
	c.valid = true
	return true
}
