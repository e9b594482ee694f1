package kvdb

import (
	"fmt"

	"github.com/aurorakv/recdb/internal/recfile"
)

// recover implements spec §4.N: if the index lags the data file (an
// unclean shutdown left mutations on disk that were never reflected in
// the index), tail-scan from the index's recorded data size to EOF and
// replay every record's effect into the index, rather than rebuilding
// the whole index from scratch (jpl-au-folio's Repair() rebuilds
// everything; this generalizes it to "catch up only the missing tail",
// the precise semantics spec §9's open question calls for).
func (db *Database) recover() error {
	st, err := db.data.Stat()
	if err != nil {
		return err
	}
	if st.Size() <= db.index.DataSize() {
		return nil
	}

	reader, err := recfile.NewReader(db.data, recfile.Options{ChunkSize: db.cfg.ChunkSize, Compression: db.cfg.Compression}, false)
	if err != nil {
		return fmt.Errorf("kvdb: recover: %w", err)
	}
	defer reader.Close()

	if err := reader.Seek(db.index.DataSize()); err != nil {
		return fmt.Errorf("kvdb: recover: %w", err)
	}

	for !reader.Done() {
		rec, err := reader.Read()
		if err != nil {
			break // tail is a torn write from the crash; stop at the last intact record
		}
		if len(rec.Key) == 0 {
			continue
		}

		isTombstone := len(rec.Value) > 0 && rec.Value[0] == tombstoneFlag
		fp := recfile.Fingerprint(rec.Key, db.cfg.HashAlgorithm)
		pos, existing, found, err := db.lookup(rec.Key, fp)
		if err != nil {
			return fmt.Errorf("kvdb: recover: %w", err)
		}

		switch {
		case isTombstone && found:
			db.index.Delete(fp, pos)
		case isTombstone:
			// already absent or already tombstoned, nothing to do
		case found:
			db.index.Update(fp, rec.Position, pos)
		case existing.Key != nil:
			db.index.Update(fp, rec.Position, pos)
		default:
			if _, err := db.index.Add(fp, rec.Position); err != nil {
				return fmt.Errorf("kvdb: recover: %w", err)
			}
		}
	}

	db.index.SetDataSize(st.Size())
	db.dirty.Store(true)
	return nil
}
