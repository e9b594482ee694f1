package recfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAll(t *testing.T, path string, opts Options, recs []Record) {
	t.Helper()
	w, err := Create(path, opts)
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

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	recs := []Record{
		{Key: []byte("alpha"), Value: []byte("one")},
		{Key: []byte("beta"), Value: []byte("two")},
		{Key: []byte("gamma"), Value: []byte("three")},
	}
	writeAll(t, path, Options{Compression: CompressionSnappy}, recs)

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for _, want := range recs {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(got.Key) != string(want.Key) || string(got.Value) != string(want.Value) {
			t.Fatalf("Read() = %+v, want key/value %q/%q", got, want.Key, want.Value)
		}
	}
	if !r.Done() {
		t.Fatal("Done() = false after reading every record")
	}
}

func TestReadKeyReportsValueLenWithoutValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	writeAll(t, path, Options{Compression: CompressionSnappy}, []Record{
		{Key: []byte("k"), Value: []byte("a fairly compressible value value value")},
	})

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	rec, err := r.ReadKey()
	if err != nil {
		t.Fatalf("ReadKey: %v", err)
	}
	if rec.Value != nil {
		t.Fatalf("ReadKey left Value = %v, want nil", rec.Value)
	}
	if rec.ValueLen != len("a fairly compressible value value value") {
		t.Fatalf("ValueLen = %d, want %d", rec.ValueLen, len("a fairly compressible value value value"))
	}
}

func TestSeekAndRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	recs := []Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	writeAll(t, path, Options{}, recs)

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	first, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := r.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	again, err := r.Read()
	if err != nil {
		t.Fatalf("Read after rewind: %v", err)
	}
	if string(again.Key) != string(first.Key) {
		t.Fatalf("Read after Rewind = %q, want %q", again.Key, first.Key)
	}
}

func TestChunkAlignmentInsertsFillerAndPreservesReadability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	const chunkSize = 64
	var recs []Record
	for i := 0; i < 20; i++ {
		recs = append(recs, Record{Key: []byte{byte(i)}, Value: []byte("0123456789")})
	}
	writeAll(t, path, Options{ChunkSize: chunkSize}, recs)

	r, err := Open(path, Options{ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i, want := range recs {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() record %d: %v", i, err)
		}
		if string(got.Key) != string(want.Key) {
			t.Fatalf("record %d key = %v, want %v", i, got.Key, want.Key)
		}
	}
}

func TestIndexedFileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	opts := Options{Indexed: true, IndexPageSize: 4, HashAlgorithm: AlgXXHash3}

	w, err := Create(path, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	keys := []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}
	offsets := make(map[string]int64, len(keys))
	for _, k := range keys {
		off, err := w.Write(Record{Key: []byte(k), Value: []byte("v-" + k)})
		if err != nil {
			t.Fatalf("Write(%q): %v", k, err)
		}
		offsets[k] = off
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if !r.Info().Indexed() {
		t.Fatal("Info().Indexed() = false for an Indexed write")
	}
	if got := r.Info().IndexDepth; got != 3 {
		t.Fatalf("Info().IndexDepth = %d, want 3 (leaf/directory/root, regardless of actual heights)", got)
	}

	ix := OpenIndex(r, 2)
	for _, k := range keys {
		fp := Fingerprint([]byte(k), AlgXXHash3)
		off, ok, err := ix.Lookup(fp)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", k, err)
		}
		if !ok {
			t.Fatalf("Lookup(%q) ok = false", k)
		}
		if off != offsets[k] {
			t.Fatalf("Lookup(%q) offset = %d, want %d", k, off, offsets[k])
		}
	}

	missing := Fingerprint([]byte("absent"), AlgXXHash3)
	if _, ok, err := ix.Lookup(missing); err != nil || ok {
		t.Fatalf("Lookup(absent) = (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

// TestAppendWriterExtendsPlainFile exercises NewWriter's role in kvdb:
// wrapping an already-open, non-indexed data file (an append log) to add
// records without rewriting the file header, the way kvdb constructs a
// fresh Writer per Put/Delete call against its long-lived data file.
func TestAppendWriterExtendsPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.rec")
	w, err := Create(path, Options{Append: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write(Record{Key: []byte("k1"), Value: []byte("v1")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	aw, err := NewWriter(f, Options{Append: true}, false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := aw.Write(Record{Key: []byte("k2"), Value: []byte("v2")}); err != nil {
		t.Fatalf("Write (append): %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("Close (append): %v", err)
	}

	r, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var keys []string
	for !r.Done() {
		rec, err := r.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		keys = append(keys, string(rec.Key))
	}
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("keys = %v, want [k1 k2]", keys)
	}
}
