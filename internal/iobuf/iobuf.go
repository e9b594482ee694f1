// Package iobuf implements the owned-memory byte buffer used by the
// record-file reader and writer (spec §4.A). A Buffer keeps four ordered
// offsets into a single backing array — floor, begin, end, ceil — dividing
// it into a consumed region, an available region, and spare capacity.
//
// This is the one place in the repository that reaches for a hand-rolled
// stdlib structure instead of a pack dependency: none of the corpus
// examples ship a reusable "double-ended scratch buffer with consume
// pointer" type, and bytes.Buffer's single read/write cursor cannot
// express the "flush re-packs, consumed bytes stay readable until the
// next mutation" contract spec §4.A requires.
package iobuf

// floorCap is the minimum capacity a Buffer grows to on first use,
// matching the original's allocation floor for small records.
const floorCap = 4096

// Buffer is a contiguous owned byte region with four ordered pointers
// floor <= begin <= end <= ceil. Consumed = [floor,begin), Available =
// [begin,end), Remaining = [end,ceil).
type Buffer struct {
	data  []byte
	begin int
	end   int
}

// New returns an empty buffer with no backing storage allocated yet.
func New() *Buffer {
	return &Buffer{}
}

// Len returns the number of available (unconsumed, written) bytes.
func (b *Buffer) Len() int { return b.end - b.begin }

// Cap returns the remaining capacity after the available region.
func (b *Buffer) Cap() int { return len(b.data) - b.end }

// Bytes returns the available region. The slice is valid until the next
// call to Ensure, Append, Flush, or Reset.
func (b *Buffer) Bytes() []byte { return b.data[b.begin:b.end] }

// Ensure guarantees Cap() >= n, growing the backing array by doubling from
// a floor of 4096 bytes. It never shifts already-consumed bytes; callers
// that need more room after a long run of Consume should Flush first.
func (b *Buffer) Ensure(n int) {
	if b.Cap() >= n {
		return
	}
	need := b.end + n
	newCap := max(floorCap, len(b.data))
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.end])
	b.data = grown
}

// Append reserves n bytes at the end of the available region and returns
// a slice for the caller to fill in. The slice is valid until the next
// Ensure, Flush, or Reset.
func (b *Buffer) Append(n int) []byte {
	b.Ensure(n)
	s := b.data[b.end : b.end+n]
	b.end += n
	return s
}

// Consume advances begin by n, removing the first n available bytes. The
// returned slice of those bytes remains valid until the next mutation.
func (b *Buffer) Consume(n int) []byte {
	if n > b.Len() {
		n = b.Len()
	}
	s := b.data[b.begin : b.begin+n]
	b.begin += n
	return s
}

// Flush moves the available region down to offset 0, reclaiming the
// consumed region's space for subsequent Ensure/Append calls.
func (b *Buffer) Flush() {
	if b.begin == 0 {
		return
	}
	n := copy(b.data, b.data[b.begin:b.end])
	b.begin = 0
	b.end = n
}

// Shrink reduces the available region by n bytes from the end, used after
// a short read fills fewer bytes than were reserved via Append.
func (b *Buffer) Shrink(n int) {
	b.end -= n
	if b.end < b.begin {
		b.end = b.begin
	}
}

// Reset discards all data, keeping the backing array for reuse.
func (b *Buffer) Reset() {
	b.begin = 0
	b.end = 0
}

// ReadInt reads a fixed-width little-endian integer of size bytes from the
// front of the available region without consuming it. ok is false if fewer
// than size bytes are available.
func (b *Buffer) ReadInt(size int) (v uint64, ok bool) {
	if b.Len() < size {
		return 0, false
	}
	for i := 0; i < size; i++ {
		v |= uint64(b.data[b.begin+i]) << (8 * i)
	}
	return v, true
}
