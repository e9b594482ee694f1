// The embedded fingerprint index: a 3-level B-tree of INDEX records
// (spec §4.B/§4.F), translating recordio.cc's IndexPage/RecordIndex into
// Go. Each page is itself stored as an ordinary record (TypeIndex) so the
// index rides on the same append-only, chunk-aligned mechanism as data;
// jpl-au-folio has no direct analogue (it uses a sorted-section binary
// search plus a bloom filter instead of an embedded tree), so this layer
// is grounded directly on the original C++ implementation.
package recfile

import (
	"sort"
)

// IndexEntry is one (fingerprint, file-offset) pair stored in an index
// page. A leaf page's entries point at data records; directory and root
// pages' entries point at the next page down.
type IndexEntry struct {
	Fingerprint uint64
	Offset      int64
}

const indexEntrySize = 16 // 8 bytes fingerprint + 8 bytes offset, little-endian

// encodeIndexEntries serializes entries (already sorted by Fingerprint)
// into a page payload.
func encodeIndexEntries(entries []IndexEntry) []byte {
	buf := make([]byte, len(entries)*indexEntrySize)
	for i, e := range entries {
		putU64(buf[i*indexEntrySize:], e.Fingerprint)
		putU64(buf[i*indexEntrySize+8:], uint64(e.Offset))
	}
	return buf
}

// decodeIndexEntries parses a page payload back into entries. Trailing
// bytes that don't form a whole entry are ignored (defensive, should not
// happen for a well-formed file).
func decodeIndexEntries(buf []byte) []IndexEntry {
	n := len(buf) / indexEntrySize
	entries := make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		off := i * indexEntrySize
		entries[i] = IndexEntry{
			Fingerprint: getU64(buf[off:]),
			Offset:      int64(getU64(buf[off+8:])),
		}
	}
	return entries
}

func putU64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// findEntry returns the index of the last entry whose Fingerprint is <=
// fp, mirroring IndexPage::Find's "largest key not greater than" binary
// search over a directory/root page, or -1 if fp is smaller than every
// entry (empty page, or fp precedes the first key).
func findEntry(entries []IndexEntry, fp uint64) int {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Fingerprint > fp
	})
	return i - 1
}

// findExact returns the index of the entry with Fingerprint == fp in a
// leaf page, or -1 if absent.
func findExact(entries []IndexEntry, fp uint64) int {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Fingerprint >= fp
	})
	if i < len(entries) && entries[i].Fingerprint == fp {
		return i
	}
	return -1
}

// RecordIndex walks the 3-level index embedded in a record file to
// resolve a fingerprint to a data-record offset, caching recently
// touched pages (spec §4.F: "LRU-cached page walker").
type RecordIndex struct {
	reader *Reader
	info   FileHeader
	cache  *pageCache
}

// OpenIndex builds a RecordIndex view over an already-open Reader whose
// file header reports an embedded index.
func OpenIndex(reader *Reader, cacheSize int) *RecordIndex {
	return &RecordIndex{
		reader: reader,
		info:   reader.Info(),
		cache:  newPageCache(cacheSize),
	}
}

// Lookup resolves fp to the offset of its data record, or ok=false if no
// such entry exists in this file's index.
func (ix *RecordIndex) Lookup(fp uint64) (offset int64, ok bool, err error) {
	if !ix.info.Indexed() {
		return 0, false, nil
	}

	// IndexDepth counts the tree's total levels (leaf, directory, root —
	// always 3 when an index is present, spec §3/§4.D). Walk the
	// IndexDepth-1 levels above the leaf (root, then each directory
	// level) before the final exact lookup in the leaf page itself.
	pos := int64(ix.info.IndexRoot)
	for depth := uint32(1); depth < ix.info.IndexDepth; depth++ {
		page, err := ix.page(pos)
		if err != nil {
			return 0, false, err
		}
		i := findEntry(page, fp)
		if i < 0 {
			return 0, false, nil
		}
		pos = page[i].Offset
	}

	page, err := ix.page(pos)
	if err != nil {
		return 0, false, err
	}
	i := findExact(page, fp)
	if i < 0 {
		return 0, false, nil
	}
	return page[i].Offset, true, nil
}

func (ix *RecordIndex) page(pos int64) ([]IndexEntry, error) {
	if entries, ok := ix.cache.get(pos); ok {
		return entries, nil
	}
	entries, err := ix.reader.ReadIndexPage(pos)
	if err != nil {
		return nil, err
	}
	ix.cache.put(pos, entries)
	return entries, nil
}

// pageCache is a small LRU keyed by file offset, sized per
// Options.IndexCacheSize. An epoch counter breaks access-order ties
// without needing a full doubly linked list, mirroring the lightweight
// "bump a counter on access" eviction folio's scan-result caching uses
// rather than pulling in a generic LRU dependency.
type pageCache struct {
	capacity int
	epoch    int64
	entries  map[int64]*cacheEntry
}

type cacheEntry struct {
	page    []IndexEntry
	touched int64
}

func newPageCache(capacity int) *pageCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &pageCache{capacity: capacity, entries: make(map[int64]*cacheEntry, capacity)}
}

func (c *pageCache) get(pos int64) ([]IndexEntry, bool) {
	e, ok := c.entries[pos]
	if !ok {
		return nil, false
	}
	c.epoch++
	e.touched = c.epoch
	return e.page, true
}

func (c *pageCache) put(pos int64, page []IndexEntry) {
	if len(c.entries) >= c.capacity {
		c.evictOne()
	}
	c.epoch++
	c.entries[pos] = &cacheEntry{page: page, touched: c.epoch}
}

func (c *pageCache) evictOne() {
	var oldestPos int64
	var oldest int64 = -1
	for pos, e := range c.entries {
		if oldest == -1 || e.touched < oldest {
			oldest = e.touched
			oldestPos = pos
		}
	}
	if oldest != -1 {
		delete(c.entries, oldestPos)
	}
}
