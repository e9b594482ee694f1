package kvdb

import (
	"time"

	"go.uber.org/zap"
)

// checkpointLoop is the background flush thread described in spec §4.H:
// flush the index if the database is dirty and either at least
// CheckpointMaxAge has passed since the last flush, or CheckpointIdleAge
// has passed since the last mutation. Bulk mode suppresses both
// triggers. Mirrors folio's lack of a background thread (folio flushes
// synchronously on every write) generalized to the spec's deferred,
// age-triggered checkpoint policy.
func (db *Database) checkpointLoop() {
	defer close(db.checkpointDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-db.stopCheckpoint:
			return
		case <-ticker.C:
			db.maybeCheckpoint()
		}
	}
}

func (db *Database) maybeCheckpoint() {
	if db.bulk.Load() || !db.dirty.Load() {
		return
	}
	now := time.Now()
	sinceFlush := now.Sub(time.Unix(0, db.lastFlush.Load()))
	sinceWrite := now.Sub(time.Unix(0, db.lastWrite.Load()))
	if sinceFlush < db.cfg.CheckpointMaxAge && sinceWrite < db.cfg.CheckpointIdleAge {
		return
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.flushLocked(); err != nil {
		db.cfg.Logger.Warn("kvdb: checkpoint failed", zap.Error(err))
	}
}
