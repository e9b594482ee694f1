// Package dbindex implements the file-mapped open-addressed hash table
// that maps key fingerprints to data-file offsets (spec §4.G). It plays
// the role jpl-au-folio's bloom.go + sorted-section binary search play
// together — a fast existence/position check that avoids touching the
// (much larger) data file — but as a persistent, resizable table instead
// of an in-memory bloom filter, since spec §4.G requires durability and
// exact lookup, not a probabilistic filter.
package dbindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/aurorakv/recdb/internal/errs"
)

// Magic identifies an index file. NPOS/NVAL mirror the sentinel values
// spec §4.G assigns to "no position" and "no value".
const (
	Magic   uint32 = 0x46584449 // "IDXF"
	version uint32 = 1

	NPOS int64 = -1
	NVAL int64 = -1
)

// Reserved hash-field values. EMPTY marks a never-used slot; DELETED
// marks a tombstone. Fingerprint() (recfile.Fingerprint) guarantees it
// never returns either value.
const (
	empty   uint64 = 0
	deleted uint64 = ^uint64(0)
)

const (
	headerSize = 64
	entrySize  = 16 // hash(8) + value(8)

	// loadFactor bounds size+deletions/capacity before a resize is
	// triggered, matching the original's "resize when almost full"
	// policy described in spec §4.G.
	loadFactor = 0.7
)

// header is the fixed leading structure of an index file.
type header struct {
	magic      uint32
	version    uint32
	dataSize   uint64 // size of the data file this index was last synced to (spec §4.N)
	epoch      uint64
	size       uint64
	capacity   uint64
	deletions  uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint64(buf[8:16], h.dataSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.epoch)
	binary.LittleEndian.PutUint64(buf[24:32], h.size)
	binary.LittleEndian.PutUint64(buf[32:40], h.capacity)
	binary.LittleEndian.PutUint64(buf[40:48], h.deletions)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("dbindex: %w: short header", errs.ErrCorruptIndex)
	}
	var h header
	h.magic = binary.LittleEndian.Uint32(buf[0:4])
	h.version = binary.LittleEndian.Uint32(buf[4:8])
	h.dataSize = binary.LittleEndian.Uint64(buf[8:16])
	h.epoch = binary.LittleEndian.Uint64(buf[16:24])
	h.size = binary.LittleEndian.Uint64(buf[24:32])
	h.capacity = binary.LittleEndian.Uint64(buf[32:40])
	h.deletions = binary.LittleEndian.Uint64(buf[40:48])
	if h.magic != Magic {
		return header{}, fmt.Errorf("dbindex: %w: bad magic", errs.ErrCorruptIndex)
	}
	return h, nil
}

func entryOffset(i uint64) int { return headerSize + int(i)*entrySize }

func readEntry(data []byte, i uint64) (hash uint64, value int64) {
	off := entryOffset(i)
	hash = binary.LittleEndian.Uint64(data[off : off+8])
	value = int64(binary.LittleEndian.Uint64(data[off+8 : off+16]))
	return
}

func writeEntry(data []byte, i uint64, hash uint64, value int64) {
	off := entryOffset(i)
	binary.LittleEndian.PutUint64(data[off:off+8], hash)
	binary.LittleEndian.PutUint64(data[off+8:off+16], uint64(value))
}

// Index is a file-mapped open-addressed hash table from fingerprint to
// an opaque int64 value (almost always a data-file offset).
type Index struct {
	path string
	file *os.File
	lock fileLock
	mp   *mapping
	hdr  header
	log  *zap.Logger
}

// Create allocates a fresh index file with the given initial capacity
// (rounded up to a power of two).
func Create(path string, capacity uint64, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	capacity = nextPow2(capacity)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(headerSize) + int64(capacity)*entrySize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	hdr := header{magic: Magic, version: version, capacity: capacity}
	if _, err := f.WriteAt(encodeHeader(hdr), 0); err != nil {
		f.Close()
		return nil, err
	}
	mp, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	ix := &Index{path: path, file: f, mp: mp, hdr: hdr, log: log}
	ix.lock.setFile(f)
	return ix, nil
}

// Open maps an existing index file.
func Open(path string, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	hbuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := decodeHeader(hbuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	mp, err := mapFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ix := &Index{path: path, file: f, mp: mp, hdr: hdr, log: log}
	ix.lock.setFile(f)
	return ix, nil
}

// Close unmaps and closes the index file.
func (ix *Index) Close() error {
	ix.lock.setFile(nil)
	if err := ix.mp.unmap(); err != nil {
		return err
	}
	return ix.file.Close()
}

// Size returns the number of live entries.
func (ix *Index) Size() uint64 { return ix.hdr.size }

// Epoch returns the current epoch.
func (ix *Index) Epoch() uint64 { return ix.hdr.epoch }

// Capacity returns the table's slot count.
func (ix *Index) Capacity() uint64 { return ix.hdr.capacity }

// Deletions returns the number of tombstoned slots.
func (ix *Index) Deletions() uint64 { return ix.hdr.deletions }

// DataSize returns the data-file size this index was last synced
// against, used by kvdb's recovery tail-scan (spec §4.N).
func (ix *Index) DataSize() int64 { return int64(ix.hdr.dataSize) }

// SetDataSize records the data-file size covered by this index, called
// after a successful recovery scan or a normal mutation append.
func (ix *Index) SetDataSize(n int64) { ix.hdr.dataSize = uint64(n) }

// BumpEpoch increments and returns the epoch, called on every successful
// mutation (spec §8 property 6: epoch strictly increases).
func (ix *Index) BumpEpoch() uint64 {
	ix.hdr.epoch++
	return ix.hdr.epoch
}

func (ix *Index) mask() uint64 { return ix.hdr.capacity - 1 }

// Add inserts fp -> value, reusing the first tombstoned slot encountered
// during the probe and otherwise stopping at the first EMPTY slot (spec
// §4.G). Triggers a resize first if the table is over its load factor.
func (ix *Index) Add(fp uint64, value int64) (int64, error) {
	if float64(ix.hdr.size+ix.hdr.deletions+1) > loadFactor*float64(ix.hdr.capacity) {
		if err := ix.resize(ix.hdr.capacity * 2); err != nil {
			return 0, fmt.Errorf("dbindex: %w", errs.ErrIndexFull)
		}
	}

	data := ix.mp.bytes()
	i := fp & ix.mask()
	reuse := int64(-1)
	for {
		hash, _ := readEntry(data, i)
		if hash == empty {
			slot := i
			if reuse >= 0 {
				slot = uint64(reuse)
				ix.hdr.deletions--
			}
			writeEntry(data, slot, fp, value)
			ix.hdr.size++
			return int64(slot), nil
		}
		if hash == deleted && reuse < 0 {
			reuse = int64(i)
		}
		i = (i + 1) & ix.mask()
	}
}

// Get probes for fp starting after pos (NPOS starts fresh), returning the
// value of the first matching slot after pos. Callers iterate
// collisions by passing back the returned position. found is false once
// the probe reaches an EMPTY slot.
func (ix *Index) Get(fp uint64, pos int64) (value int64, next int64, found bool) {
	data := ix.mp.bytes()
	var i uint64
	if pos == NPOS {
		i = fp & ix.mask()
	} else {
		i = (uint64(pos) + 1) & ix.mask()
	}
	for n := uint64(0); n <= ix.hdr.capacity; n++ {
		hash, val := readEntry(data, i)
		if hash == empty {
			return NVAL, NPOS, false
		}
		if hash == fp {
			return val, int64(i), true
		}
		i = (i + 1) & ix.mask()
	}
	return NVAL, NPOS, false
}

// Update overwrites the value at pos (as returned by Get/Add), returning
// NPOS if pos does not currently hold a live entry with hash == fp.
func (ix *Index) Update(fp uint64, value int64, pos int64) int64 {
	if pos < 0 {
		return NPOS
	}
	data := ix.mp.bytes()
	hash, _ := readEntry(data, uint64(pos))
	if hash != fp {
		return NPOS
	}
	writeEntry(data, uint64(pos), fp, value)
	return pos
}

// Delete tombstones the slot at pos, returning the value that was there.
func (ix *Index) Delete(fp uint64, pos int64) (int64, bool) {
	if pos < 0 {
		return NVAL, false
	}
	data := ix.mp.bytes()
	hash, val := readEntry(data, uint64(pos))
	if hash != fp {
		return NVAL, false
	}
	writeEntry(data, uint64(pos), deleted, 0)
	ix.hdr.deletions++
	ix.hdr.size--
	return val, true
}

// Sync flushes the header and mapped pages to disk.
func (ix *Index) Sync() error {
	if _, err := ix.file.WriteAt(encodeHeader(ix.hdr), 0); err != nil {
		return err
	}
	return ix.mp.sync()
}

// resize rebuilds the table at newCapacity, writing the new table to a
// temp file and swapping it in with github.com/natefinch/atomic so a
// crash mid-resize leaves either the old or the new file intact, never a
// half-written one (spec §4.G: "resize... atomically swap"). The OS
// advisory lock held by ix.lock guards the write-tmp/swap/unmap/close
// span against another process observing or racing the replacement; it
// is released before the old file descriptor is discarded, and the
// freshly remapped file starts its own, separate lock lifetime.
func (ix *Index) resize(newCapacity uint64) error {
	newCapacity = nextPow2(newCapacity)
	size := int64(headerSize) + int64(newCapacity)*entrySize
	buf := make([]byte, size)

	newHdr := header{
		magic:     Magic,
		version:   version,
		dataSize:  ix.hdr.dataSize,
		epoch:     ix.hdr.epoch,
		capacity:  newCapacity,
		deletions: 0,
	}

	oldData := ix.mp.bytes()
	mask := newCapacity - 1
	var live uint64
	for i := uint64(0); i < ix.hdr.capacity; i++ {
		hash, val := readEntry(oldData, i)
		if hash == empty || hash == deleted {
			continue
		}
		j := hash & mask
		for {
			h, _ := readEntry(buf[headerSize:], j)
			if h == empty {
				writeEntry(buf[headerSize:], j, hash, val)
				break
			}
			j = (j + 1) & mask
		}
		live++
	}
	newHdr.size = live
	copy(buf[:headerSize], encodeHeader(newHdr))

	if err := ix.lock.Lock(LockExclusive); err != nil {
		return err
	}

	tmp := ix.path + ".resize"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		ix.lock.Unlock()
		return err
	}
	if err := atomic.ReplaceFile(tmp, ix.path); err != nil {
		os.Remove(tmp)
		ix.lock.Unlock()
		return err
	}

	if err := ix.mp.unmap(); err != nil {
		ix.lock.Unlock()
		return err
	}
	ix.lock.Unlock()
	if err := ix.file.Close(); err != nil {
		return err
	}
	ix.lock.setFile(nil)

	f, err := os.OpenFile(ix.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	mp, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return err
	}
	ix.file = f
	ix.mp = mp
	ix.hdr = newHdr
	ix.lock.setFile(f)
	ix.log.Info("dbindex: resized", zap.Uint64("capacity", newCapacity), zap.Uint64("size", live))
	return nil
}

func nextPow2(n uint64) uint64 {
	if n < 16 {
		n = 16
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
