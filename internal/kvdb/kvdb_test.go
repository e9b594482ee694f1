package kvdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, cfg Config) *Database {
	t.Helper()
	db, err := Open(t.TempDir(), "test", cfg)
	require.NoError(t, err, "Open")
	t.Cleanup(func() { db.Close() })
	return db
}

// S3: ADD/EXISTS.
func TestPutAddExists(t *testing.T) {
	db := openTest(t, Config{})

	outcome, _, err := db.Put([]byte("k"), []byte("one"), 0, ModeAdd)
	require.NoError(t, err)
	assert.Equal(t, New, outcome, "first ADD")

	outcome, _, err = db.Put([]byte("k"), []byte("two"), 0, ModeAdd)
	require.NoError(t, err)
	assert.Equal(t, Exists, outcome, "second ADD")

	value, _, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "one", string(value), "ADD must not overwrite an existing key")
}

// S4: NEWER.
func TestPutNewer(t *testing.T) {
	db := openTest(t, Config{})

	outcome, _, err := db.Put([]byte("k"), []byte("a"), 5, ModeOverwrite)
	require.NoError(t, err)
	require.Equal(t, New, outcome, "OVERWRITE seed")

	outcome, _, err = db.Put([]byte("k"), []byte("b"), 4, ModeNewer)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome, "NEWER with a stale version")

	outcome, _, err = db.Put([]byte("k"), []byte("c"), 6, ModeNewer)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome, "NEWER with a fresher version")

	value, _, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c", string(value))
}

// S4 sibling: ORDERED rejects a stale version.
func TestPutOrderedStale(t *testing.T) {
	db := openTest(t, Config{})

	_, _, err := db.Put([]byte("k"), []byte("a"), 5, ModeOverwrite)
	require.NoError(t, err, "seed Put")

	outcome, _, err := db.Put([]byte("k"), []byte("b"), 4, ModeOrdered)
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome, "ORDERED with v=4 against a stored v=5")

	outcome, _, err = db.Put([]byte("k"), []byte("c"), 5, ModeOrdered)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome, "ORDERED accepts an equal-or-newer version")
}

// S5: delete + readd.
func TestDeleteThenReadd(t *testing.T) {
	db := openTest(t, Config{})

	_, _, err := db.Put([]byte("k"), []byte("v1"), 0, ModeOverwrite)
	require.NoError(t, err)

	ok, err := db.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	_, _, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found, "Get after Delete")

	outcome, _, err := db.Put([]byte("k"), []byte("v2"), 0, ModeOverwrite)
	require.NoError(t, err)
	assert.Equal(t, New, outcome, "re-Put after Delete")

	value, _, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", string(value))
}

// S6: cursor scan across deletions visits every live record exactly
// once and skips tombstones unless asked for.
func TestCursorSkipsDeletionsByDefault(t *testing.T) {
	db := openTest(t, Config{})

	const n = 30
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{'k', byte('a' + i)}
		_, _, err := db.Put(keys[i], []byte("v"), 0, ModeOverwrite)
		require.NoErrorf(t, err, "Put(%d)", i)
	}
	wantDeleted := 0
	for i, k := range keys {
		if i%3 == 0 {
			_, err := db.Delete(k)
			require.NoErrorf(t, err, "Delete(%d)", i)
			wantDeleted++
		}
	}

	var cursor Cursor
	seen := map[string]bool{}
	for {
		recs, next, done, err := db.Next(cursor, 5)
		require.NoError(t, err)
		for _, r := range recs {
			require.Falsef(t, seen[string(r.Key)], "duplicate key %q from cursor scan", r.Key)
			seen[string(r.Key)] = true
		}
		cursor = next
		if done {
			break
		}
	}
	assert.Equal(t, n-wantDeleted, len(seen), "cursor should visit every live record exactly once")
}

func TestCursorIncludesDeletionsWhenAsked(t *testing.T) {
	db := openTest(t, Config{})

	_, _, err := db.Put([]byte("a"), []byte("1"), 0, ModeOverwrite)
	require.NoError(t, err)
	_, err = db.Delete([]byte("a"))
	require.NoError(t, err)

	cursor := Cursor{IncludeDeletions: true}
	recs, _, done, err := db.Next(cursor, 10)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, recs, 1, "IncludeDeletions should surface the tombstone")
}

func TestReadOnlyRejectsPutAndDelete(t *testing.T) {
	db := openTest(t, Config{ReadOnly: true})

	_, _, err := db.Put([]byte("k"), []byte("v"), 0, ModeOverwrite)
	assert.Error(t, err, "Put on a read-only database")

	_, err = db.Delete([]byte("k"))
	assert.Error(t, err, "Delete on a read-only database")
}

func TestTimestampedFillsVersionFromClock(t *testing.T) {
	db := openTest(t, Config{Timestamped: true})

	_, _, err := db.Put([]byte("k"), []byte("v"), 0, ModeOverwrite)
	require.NoError(t, err)

	_, version, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotZero(t, version, "timestamped Put with version=0 should stamp the wall clock")
}

// Epoch monotonicity (spec testable property 6).
func TestEpochStrictlyIncreasesOnMutation(t *testing.T) {
	db := openTest(t, Config{})

	before := db.Epoch()
	_, _, err := db.Put([]byte("k"), []byte("v"), 0, ModeOverwrite)
	require.NoError(t, err)
	after := db.Epoch()
	assert.Greater(t, after, before)
}
