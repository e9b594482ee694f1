package recfile

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeIndexedShard(t *testing.T, path string, recs []Record) {
	t.Helper()
	w, err := Create(path, Options{Indexed: true, HashAlgorithm: AlgXXHash3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, rec := range recs {
		if _, err := w.Write(rec); err != nil {
			w.Close()
			t.Fatalf("Write(%q): %v", rec.Key, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestShardedDatabaseLookup(t *testing.T) {
	dir := t.TempDir()
	shardA := filepath.Join(dir, "a.rec")
	shardB := filepath.Join(dir, "b.rec")
	writeIndexedShard(t, shardA, []Record{{Key: []byte("alpha"), Value: []byte("1")}})
	writeIndexedShard(t, shardB, []Record{{Key: []byte("beta"), Value: []byte("2")}})

	db, err := OpenSharded([]string{shardA, shardB}, Options{}, 16)
	if err != nil {
		t.Fatalf("OpenSharded: %v", err)
	}
	defer db.Close()

	want := map[string]Record{
		"alpha": {Key: []byte("alpha"), Value: []byte("1")},
		"beta":  {Key: []byte("beta"), Value: []byte("2")},
	}
	ignoreComputed := cmpopts.IgnoreFields(Record{}, "Type", "Version", "Position", "ValueLen")
	for _, key := range []string{"alpha", "beta"} {
		fp := Fingerprint([]byte(key), AlgXXHash3)
		rec, ok, err := db.Lookup([]byte(key), fp)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", key, err)
		}
		if !ok {
			t.Fatalf("Lookup(%q) = not found, want found", key)
		}
		if diff := cmp.Diff(want[key], rec, ignoreComputed); diff != "" {
			t.Fatalf("Lookup(%q) mismatch (-want +got):\n%s", key, diff)
		}
	}

	fp := Fingerprint([]byte("missing"), AlgXXHash3)
	if _, ok, err := db.Lookup([]byte("missing"), fp); err != nil || ok {
		t.Fatalf("Lookup(missing) = (ok=%v, err=%v), want not found", ok, err)
	}
}

func TestShardedDatabaseCursorVisitsEveryRecord(t *testing.T) {
	dir := t.TempDir()
	shardA := filepath.Join(dir, "a.rec")
	shardB := filepath.Join(dir, "b.rec")
	writeIndexedShard(t, shardA, []Record{
		{Key: []byte("a1"), Value: []byte("1")},
		{Key: []byte("a2"), Value: []byte("2")},
	})
	writeIndexedShard(t, shardB, []Record{{Key: []byte("b1"), Value: []byte("3")}})

	db, err := OpenSharded([]string{shardA, shardB}, Options{}, 16)
	if err != nil {
		t.Fatalf("OpenSharded: %v", err)
	}
	defer db.Close()

	c := db.NewCursor()
	seen := map[string]bool{}
	for {
		rec, ok, err := db.Next(&c)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen[string(rec.Key)] = true
	}
	if !db.Done(c) {
		t.Fatal("Done() = false after cursor exhausted every shard")
	}
	for _, key := range []string{"a1", "a2", "b1"} {
		if !seen[key] {
			t.Fatalf("cursor never visited %q", key)
		}
	}
}

func TestOpenShardedRejectsEmpty(t *testing.T) {
	if _, err := OpenSharded(nil, Options{}, 16); err == nil {
		t.Fatal("OpenSharded(nil) = nil error, want error")
	}
}
