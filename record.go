// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

// Record describes one contiguous run of same-state vertex data destined
// for a single draw call.
//
// While Buffer is zero the record's data still lives in its accumulator's
// local staging arrays and First/IndexFirst are element offsets into them.
// Once a retained record is flushed to a pool buffer, Buffer holds the
// pool index, First becomes a device byte offset and IndexFirst a device
// element offset.
type Record struct {
	// Node is the owning scene node.
	Node NodeID

	// Streaming marks geometry rebuilt every frame; the record is
	// retired at end of frame instead of persisting.
	Streaming bool

	// Z is the depth/ordering key. Records are issued in ascending Z.
	Z int

	// Shader is the owning accumulator's index in the renderer.
	Shader int

	// Uniform is the uniform-snapshot index within the accumulator.
	Uniform int

	// Buffer is the target pool buffer index; 0 while un-flushed.
	Buffer int

	// First is the vertex offset (see type comment for units).
	First int

	// Count is the vertex count covered by the record.
	Count int

	// IndexFirst is the index-element offset for indexed draws, -1 for
	// plain draws.
	IndexFirst int

	// IndexCount is the index-element count for indexed draws.
	IndexCount int
}

// indexed reports whether the record describes an indexed draw.
func (r *Record) indexed() bool { return r.IndexFirst >= 0 }

// recordArena is an index-addressable pool of batch records. Slot 0 is a
// sentinel so that index 0 can mean "none"; both "most recently allocated
// record" and "record by index" are O(1).
type recordArena struct {
	records []Record
	free    []int
	last    int
}

func newRecordArena() *recordArena {
	return &recordArena{records: make([]Record, 1)}
}

// alloc returns a fresh record and its index, reusing a retired slot when
// one is available. The record becomes the arena's most recent.
func (a *recordArena) alloc() (int, *Record) {
	var i int
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
		a.records[i] = Record{}
	} else {
		a.records = append(a.records, Record{})
		i = len(a.records) - 1
	}
	a.last = i
	return i, &a.records[i]
}

// get returns the record at index i. Index 0 returns nil.
func (a *recordArena) get(i int) *Record {
	if i <= 0 || i >= len(a.records) {
		return nil
	}
	return &a.records[i]
}

// lastRecord returns the most recently allocated record, or (0, nil) when
// the extension window has been closed.
func (a *recordArena) lastRecord() (int, *Record) {
	if a.last == 0 {
		return 0, nil
	}
	return a.last, &a.records[a.last]
}

// closeLast ends the in-place extension window; the next Draw always
// allocates a new record.
func (a *recordArena) closeLast() { a.last = 0 }

// retire returns a record slot to the free list.
func (a *recordArena) retire(i int) {
	if i <= 0 || i >= len(a.records) {
		return
	}
	if a.last == i {
		a.last = 0
	}
	a.records[i] = Record{}
	a.free = append(a.free, i)
}

// live returns the number of allocated, un-retired records.
func (a *recordArena) live() int {
	return len(a.records) - 1 - len(a.free)
}
