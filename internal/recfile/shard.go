// RecordDatabase (spec §4.F): a fixed set of indexed RecordFile shards
// addressed by key fingerprint, read-only. This is the layer above
// RecordIndex that jpl-au-folio has no direct analogue for (folio mounts
// exactly one data file); grounded on original_source's sharded
// recordio.cc lookup ("shard = Fingerprint(key) mod num_shards") plus
// folio's own multi-file scan idiom in scan.go for the cursor walk.
package recfile

import (
	"bytes"

	"github.com/aurorakv/recdb/internal/errs"
)

// ShardedDatabase is a read-only view over a fixed set of indexed
// RecordFiles, keyed by fingerprint modulo shard count.
type ShardedDatabase struct {
	shards []*shardEntry
}

type shardEntry struct {
	reader *Reader
	index  *RecordIndex
}

// OpenSharded opens every path in paths as an indexed RecordFile shard.
// The shard for a given key is Fingerprint(key) mod len(paths); paths
// must therefore be supplied in the same order every time a given
// database is mounted.
func OpenSharded(paths []string, opts Options, cacheSize int) (*ShardedDatabase, error) {
	if len(paths) == 0 {
		return nil, errs.ErrNoShards
	}
	db := &ShardedDatabase{shards: make([]*shardEntry, 0, len(paths))}
	for _, p := range paths {
		r, err := Open(p, opts)
		if err != nil {
			db.Close()
			return nil, err
		}
		db.shards = append(db.shards, &shardEntry{reader: r, index: OpenIndex(r, cacheSize)})
	}
	return db, nil
}

// Close releases every shard's underlying reader.
func (db *ShardedDatabase) Close() error {
	var first error
	for _, s := range db.shards {
		if s.reader == nil {
			continue
		}
		if err := s.reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NumShards reports how many RecordFiles back this database.
func (db *ShardedDatabase) NumShards() int { return len(db.shards) }

// shardFor returns the shard index owning fp (spec §4.F: "shard =
// Fingerprint(key) mod num_shards").
func (db *ShardedDatabase) shardFor(fp uint64) int {
	return int(fp % uint64(len(db.shards)))
}

// Lookup resolves key to its record, delegating to the owning shard's
// RecordIndex; ok is false when the indexed record's key differs from key.
func (db *ShardedDatabase) Lookup(key []byte, fp uint64) (Record, bool, error) {
	shard := db.shards[db.shardFor(fp)]
	offset, ok, err := shard.index.Lookup(fp)
	if err != nil || !ok {
		return Record{}, false, err
	}
	if err := shard.reader.Seek(offset); err != nil {
		return Record{}, false, err
	}
	rec, err := shard.reader.Read()
	if err != nil {
		return Record{}, false, err
	}
	if !bytes.Equal(rec.Key, key) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Cursor walks all shards in order, auto-advancing to the next
// non-empty shard on EOF (spec §4.F: "Done means all shards are
// exhausted").
type Cursor struct {
	shard  int
	offset int64
}

// NewCursor returns a cursor positioned at the start of shard 0.
func (db *ShardedDatabase) NewCursor() Cursor { return Cursor{} }

// Next returns the next record under the cursor, advancing it in place.
// ok is false once every shard has been exhausted.
func (db *ShardedDatabase) Next(c *Cursor) (Record, bool, error) {
	for c.shard < len(db.shards) {
		s := db.shards[c.shard]
		if err := s.reader.Seek(c.offset); err != nil {
			return Record{}, false, err
		}
		if s.reader.Done() {
			c.shard++
			c.offset = 0
			continue
		}
		rec, err := s.reader.Read()
		if err != nil {
			return Record{}, false, err
		}
		c.offset = s.reader.Tell()
		return rec, true, nil
	}
	return Record{}, false, nil
}

// Done reports whether the cursor has exhausted every shard.
func (db *ShardedDatabase) Done(c Cursor) bool { return c.shard >= len(db.shards) }
