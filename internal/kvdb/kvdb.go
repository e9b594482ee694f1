// Package kvdb implements the mutable keyed record database (spec
// §4.H): a RecordFile used purely as an append log, backed by a
// dbindex.Index fingerprint table for O(1) lookup, with OVERWRITE/ADD/
// ORDERED/NEWER put semantics and a background checkpoint thread. It is
// the generalization of jpl-au-folio's db.go/get.go/set.go/delete.go
// lifecycle (Open/Close/state machine, Get/Set/Delete operations) from
// folio's sorted-JSON-lines-plus-bloom-filter storage onto the binary
// RecordFile + DatabaseIndex pair spec §3 requires.
package kvdb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aurorakv/recdb/internal/dbindex"
	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/recfile"
)

// Mode selects Put's conflict-resolution policy (spec §4.H).
type Mode int

const (
	ModeOverwrite Mode = iota
	ModeAdd
	ModeOrdered
	ModeNewer
)

// Outcome reports what Put actually did.
type Outcome int

const (
	New Outcome = iota
	Updated
	Unchanged
	Exists
	Stale
	Fault
)

func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Exists:
		return "exists"
	case Stale:
		return "stale"
	default:
		return "fault"
	}
}

// Config configures a Database. The zero value is filled with defaults
// by Open, mirroring folio.Open's default-filling block (spec §3.2).
type Config struct {
	ChunkSize      int64
	IndexPageSize  int
	IndexCacheSize int
	ReadBuffer     int
	MaxRecordSize  int64
	HashAlgorithm  int
	Compression    uint8
	InitialSlots   uint64

	// ReadOnly rejects Put/Delete outright (spec §3 "Database modes").
	ReadOnly bool
	// Timestamped marks version as a Unix-timestamp column: Put fills in
	// the current time when the caller passes version 0, and the HTTP
	// surface reports it via Last-Modified instead of a bare Version
	// header (spec §3, §6).
	Timestamped bool

	// CheckpointMaxAge is the "dirty for too long" flush trigger (default
	// 60s). CheckpointIdleAge is the "quiet since last write" trigger
	// (default 10s). Either firing causes a checkpoint (spec §4.H).
	CheckpointMaxAge  time.Duration
	CheckpointIdleAge time.Duration

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = 64 * (1 << 20)
	}
	if c.IndexPageSize == 0 {
		c.IndexPageSize = 1024
	}
	if c.IndexCacheSize == 0 {
		c.IndexCacheSize = 256
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = 4096
	}
	if c.HashAlgorithm == 0 {
		c.HashAlgorithm = recfile.AlgXXHash3
	}
	if c.InitialSlots == 0 {
		c.InitialSlots = 1024
	}
	if c.CheckpointMaxAge == 0 {
		c.CheckpointMaxAge = 60 * time.Second
	}
	if c.CheckpointIdleAge == 0 {
		c.CheckpointIdleAge = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// tombstoneFlag/liveFlag prefix every stored value by one byte so Next
// can distinguish deleted from live records while walking the data file
// directly, without recfile needing a dedicated on-disk record type for
// it — a layering choice local to kvdb, documented in DESIGN.md.
const (
	liveFlag      byte = 0
	tombstoneFlag byte = 1
)

// Database is a mutable, single-shard, Put/Get/Head/Delete/Next keyed
// store: a RecordFile used as an append log plus a dbindex.Index mapping
// fingerprint -> data offset.
type Database struct {
	name string
	dir  string
	cfg  Config

	mu    sync.RWMutex
	data  *os.File
	index *dbindex.Index

	state    atomic.Int32 // 0 = open, 1 = closed
	dirty    atomic.Bool
	bulk     atomic.Bool
	lastWrite  atomic.Int64 // unix nano of last mutation
	lastFlush  atomic.Int64

	stopCheckpoint chan struct{}
	checkpointDone chan struct{}
}

const (
	stateOpen int32 = iota
	stateClosed
)

// dataFileName / indexFileName are the two files a mount owns.
func dataFileName(dir, name string) string  { return filepath.Join(dir, name+".rec") }
func indexFileName(dir, name string) string { return filepath.Join(dir, name+".idx") }

// Open opens (creating if needed) the database named name under dir.
func Open(dir, name string, cfg Config) (*Database, error) {
	cfg = cfg.withDefaults()
	if err := validName(name); err != nil {
		return nil, err
	}

	dataPath := dataFileName(dir, name)
	indexPath := indexFileName(dir, name)

	data, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := data.Stat()
	if err != nil {
		data.Close()
		return nil, err
	}
	if st.Size() == 0 {
		if err := writeEmptyFile(data, cfg); err != nil {
			data.Close()
			return nil, err
		}
	}

	var idx *dbindex.Index
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		idx, err = dbindex.Create(indexPath, cfg.InitialSlots, cfg.Logger)
		if err != nil {
			data.Close()
			return nil, err
		}
	} else {
		idx, err = dbindex.Open(indexPath, cfg.Logger)
		if err != nil {
			data.Close()
			return nil, err
		}
	}

	db := &Database{
		name:           name,
		dir:            dir,
		cfg:            cfg,
		data:           data,
		index:          idx,
		stopCheckpoint: make(chan struct{}),
		checkpointDone: make(chan struct{}),
	}
	db.lastFlush.Store(time.Now().UnixNano())

	if err := db.recover(); err != nil {
		data.Close()
		idx.Close()
		return nil, err
	}

	go db.checkpointLoop()
	return db, nil
}

func validName(name string) error {
	if len(name) == 0 || len(name) > 127 {
		return fmt.Errorf("kvdb: %w", errs.ErrInvalidName)
	}
	if name[0] == '_' || name[0] == '-' {
		return fmt.Errorf("kvdb: %w", errs.ErrInvalidName)
	}
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if !ok {
			return fmt.Errorf("kvdb: %w", errs.ErrInvalidName)
		}
	}
	return nil
}

// writeEmptyFile writes a bare file header (no records yet) for a new
// data file.
func writeEmptyFile(f *os.File, cfg Config) error {
	w, err := recfile.Create(f.Name(), recfile.Options{
		ChunkSize:   cfg.ChunkSize,
		Compression: cfg.Compression,
		Append:      true,
	})
	if err != nil {
		return err
	}
	return w.Close()
}

// Name returns the database's mount name.
func (db *Database) Name() string { return db.name }

// Dirty reports whether the index has unflushed mutations.
func (db *Database) Dirty() bool { return db.dirty.Load() }

// Epoch returns the current mutation epoch.
func (db *Database) Epoch() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.index.Epoch()
}

// ReadOnly reports whether this database rejects Put/Delete.
func (db *Database) ReadOnly() bool { return db.cfg.ReadOnly }

// Timestamped reports whether this database's version column is a Unix
// timestamp (spec §3 "Database modes").
func (db *Database) Timestamped() bool { return db.cfg.Timestamped }

// Dir returns the filesystem directory this mount's files live under
// (spec §6 OPTIONS "dbdir").
func (db *Database) Dir() string { return db.dir }

// Size returns the index's live record count and tombstone count, for
// the OPTIONS/statusz "records"/"deletions"/"index_capacity" fields.
func (db *Database) Size() (records, deletions, capacity uint64) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.index.Size(), db.index.Deletions(), db.index.Capacity()
}

// SetBulk toggles bulk-load mode, which suppresses checkpoint flushing
// (spec §4.H: "Bulk mode suppresses both [triggers]").
func (db *Database) SetBulk(on bool) { db.bulk.Store(on) }

// Close stops the checkpoint thread, flushes, and releases both files.
func (db *Database) Close() error {
	if !db.state.CompareAndSwap(stateOpen, stateClosed) {
		return nil
	}
	close(db.stopCheckpoint)
	<-db.checkpointDone

	db.mu.Lock()
	defer db.mu.Unlock()

	var err error
	if ferr := db.flushLocked(); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	if ierr := db.index.Close(); ierr != nil {
		err = multierr.Append(err, ierr)
	}
	if derr := db.data.Close(); derr != nil {
		err = multierr.Append(err, derr)
	}
	if err != nil {
		return fmt.Errorf("kvdb: close: %w", err)
	}
	return nil
}

func (db *Database) flushLocked() error {
	if err := db.index.Sync(); err != nil {
		return err
	}
	db.dirty.Store(false)
	db.lastFlush.Store(time.Now().UnixNano())
	return nil
}

// Flush forces an index checkpoint now, regardless of dirty/age
// thresholds.
func (db *Database) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flushLocked()
}

// WriteSnapshot streams the current data file contents to w, the HTTP
// admin surface's backup operation (spec §4.M). Callers must hold the
// mount's lock (and have just Flush()ed) so the snapshot is consistent.
func (db *Database) WriteSnapshot(w io.Writer) error {
	st, err := db.data.Stat()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, io.NewSectionReader(db.data, 0, st.Size()))
	return err
}
