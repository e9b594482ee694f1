package kvdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aurorakv/recdb/internal/dbindex"
	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/recfile"
)

// lookup walks index collisions for fp, reading each candidate record's
// key to disambiguate (spec §4.H step 2). It returns the index position
// (for Update/Delete), the record, and whether a live (non-tombstone)
// match was found.
func (db *Database) lookup(key []byte, fp uint64) (pos int64, rec recfile.Record, found bool, err error) {
	reader, err := recfile.NewReader(db.data, recfile.Options{ChunkSize: db.cfg.ChunkSize, Compression: db.cfg.Compression}, false)
	if err != nil {
		return 0, recfile.Record{}, false, err
	}
	defer reader.Close()

	p := dbindex.NPOS
	for {
		offset, next, ok := db.index.Get(fp, p)
		if !ok {
			return 0, recfile.Record{}, false, nil
		}
		p = next
		if err := reader.Seek(offset); err != nil {
			return 0, recfile.Record{}, false, err
		}
		r, err := reader.Read()
		if err != nil {
			return 0, recfile.Record{}, false, err
		}
		if bytes.Equal(r.Key, key) {
			if len(r.Value) > 0 && r.Value[0] == tombstoneFlag {
				return p, r, false, nil
			}
			return p, r, true, nil
		}
	}
}

// Put inserts or updates key according to mode (spec §4.H).
// Put's second return value is the new record's byte offset (the HTTP
// admin surface's "RecordID" header), 0 when no new record was written
// (UNCHANGED/EXISTS/STALE/FAULT).
func (db *Database) Put(key, value []byte, version uint64, mode Mode) (Outcome, int64, error) {
	if db.cfg.ReadOnly {
		return Fault, 0, fmt.Errorf("kvdb: put: %w", errs.ErrReadOnly)
	}
	if db.cfg.Timestamped && version == 0 {
		version = uint64(time.Now().Unix())
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	fp := recfile.Fingerprint(key, db.cfg.HashAlgorithm)
	pos, existing, found, err := db.lookup(key, fp)
	if err != nil {
		return Fault, 0, err
	}

	switch mode {
	case ModeAdd:
		if found {
			return Exists, 0, nil
		}
	case ModeOrdered:
		if found && existing.Version > version {
			return Stale, 0, nil
		}
	case ModeNewer:
		if found && existing.Version >= version {
			return Unchanged, 0, nil
		}
	}

	wire := append([]byte{liveFlag}, value...)
	writer, err := recfile.NewWriter(db.data, recfile.Options{ChunkSize: db.cfg.ChunkSize, Compression: db.cfg.Compression, Append: true}, false)
	if err != nil {
		return Fault, 0, err
	}
	offset, err := writer.Write(recfile.Record{Key: key, Value: wire, Version: version})
	if err != nil {
		return Fault, 0, err
	}

	if found {
		db.index.Update(fp, offset, pos)
	} else if existing.Key != nil {
		// a tombstoned slot for this key exists; reuse it rather than
		// growing the table with a duplicate fingerprint entry.
		db.index.Update(fp, offset, pos)
	} else {
		if _, err := db.index.Add(fp, offset); err != nil {
			return Fault, 0, err
		}
	}

	db.index.SetDataSize(writer.Tell())
	db.index.BumpEpoch()
	db.dirty.Store(true)
	db.lastWrite.Store(time.Now().UnixNano())

	if found {
		return Updated, offset, nil
	}
	return New, offset, nil
}

// Get returns the live value for key.
func (db *Database) Get(key []byte) (value []byte, version uint64, found bool, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	fp := recfile.Fingerprint(key, db.cfg.HashAlgorithm)
	_, rec, ok, err := db.lookup(key, fp)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return rec.Value[1:], rec.Version, true, nil
}

// Head returns a key's version and logical value size without reading
// the value payload (spec §4.H: "Head is Get without materializing the
// value").
func (db *Database) Head(key []byte) (version uint64, size int, found bool, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	fp := recfile.Fingerprint(key, db.cfg.HashAlgorithm)
	_, rec, ok, err := db.lookup(key, fp)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return rec.Version, len(rec.Value) - 1, true, nil
}

// Delete tombstones key by appending a deletion marker record and
// removing its live index entry.
func (db *Database) Delete(key []byte) (bool, error) {
	if db.cfg.ReadOnly {
		return false, fmt.Errorf("kvdb: delete: %w", errs.ErrReadOnly)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	fp := recfile.Fingerprint(key, db.cfg.HashAlgorithm)
	pos, _, found, err := db.lookup(key, fp)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	writer, err := recfile.NewWriter(db.data, recfile.Options{ChunkSize: db.cfg.ChunkSize, Compression: db.cfg.Compression, Append: true}, false)
	if err != nil {
		return false, err
	}
	if _, err := writer.Write(recfile.Record{Key: key, Value: []byte{tombstoneFlag}}); err != nil {
		return false, err
	}

	db.index.Delete(fp, pos)
	db.index.SetDataSize(writer.Tell())
	db.index.BumpEpoch()
	db.dirty.Store(true)
	db.lastWrite.Store(time.Now().UnixNano())
	return true, nil
}

// Cursor walks the data file sequentially for the Next verb (spec §4.H,
// §4.J NEXT2). A zero-value Cursor starts at the first record.
type Cursor struct {
	Offset            int64
	IncludeDeletions  bool
}

// Next returns up to limit records starting at (or after) cursor.Offset,
// skipping FILLERs, records superseded by a later Put or Delete of the
// same key, and, unless IncludeDeletions is set, tombstones. It returns
// the advanced cursor and whether the end of file was reached.
func (db *Database) Next(cursor Cursor, limit int) ([]recfile.Record, Cursor, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	reader, err := recfile.NewReader(db.data, recfile.Options{ChunkSize: db.cfg.ChunkSize, Compression: db.cfg.Compression}, false)
	if err != nil {
		return nil, cursor, false, err
	}
	defer reader.Close()

	if err := reader.Seek(cursor.Offset); err != nil {
		return nil, cursor, false, err
	}

	var out []recfile.Record
	for (limit <= 0 || len(out) < limit) && !reader.Done() {
		rec, err := reader.Read()
		if err != nil {
			return out, Cursor{Offset: reader.Tell()}, false, fmt.Errorf("kvdb: next: %w", err)
		}
		isTombstone := len(rec.Value) > 0 && rec.Value[0] == tombstoneFlag
		if isTombstone && !cursor.IncludeDeletions {
			continue
		}
		if !isTombstone {
			_, cur, live, err := db.lookup(rec.Key, recfile.Fingerprint(rec.Key, db.cfg.HashAlgorithm))
			if err != nil {
				return out, Cursor{Offset: reader.Tell()}, false, fmt.Errorf("kvdb: next: %w", err)
			}
			if !live || cur.Position != rec.Position {
				continue
			}
		}
		if len(rec.Value) > 0 {
			rec.Value = rec.Value[1:]
		}
		out = append(out, rec)
	}
	done := reader.Done()
	return out, Cursor{Offset: reader.Tell(), IncludeDeletions: cursor.IncludeDeletions}, done, nil
}

var _ = errs.ErrNotFound
