package dbindex

import (
	"path/filepath"
	"testing"
)

func TestAddGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := Create(path, 16, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ix.Close()

	pos, err := ix.Add(42, 1000)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ix.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", ix.Size())
	}

	val, next, found := ix.Get(42, NPOS)
	if !found {
		t.Fatal("Get after Add: found = false")
	}
	if val != 1000 {
		t.Fatalf("Get value = %d, want 1000", val)
	}
	if next != pos {
		t.Fatalf("Get position = %d, want %d", next, pos)
	}

	if got := ix.Update(42, 2000, pos); got != pos {
		t.Fatalf("Update returned %d, want %d", got, pos)
	}
	val, _, found = ix.Get(42, NPOS)
	if !found || val != 2000 {
		t.Fatalf("Get after Update = (%d, %v), want (2000, true)", val, found)
	}

	removed, ok := ix.Delete(42, pos)
	if !ok || removed != 2000 {
		t.Fatalf("Delete = (%d, %v), want (2000, true)", removed, ok)
	}
	if ix.Size() != 0 {
		t.Fatalf("Size() after delete = %d, want 0", ix.Size())
	}
	if ix.Deletions() != 1 {
		t.Fatalf("Deletions() = %d, want 1", ix.Deletions())
	}

	if _, _, found := ix.Get(42, NPOS); found {
		t.Fatal("Get after Delete: found = true, want false")
	}
}

func TestGetOnEmptyTableNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := Create(path, 16, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ix.Close()

	if _, _, found := ix.Get(1, NPOS); found {
		t.Fatal("Get on an empty table returned found = true")
	}
}

func TestCollisionChainViaGetNext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := Create(path, 16, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ix.Close()

	// Same fingerprint inserted twice simulates two distinct keys that
	// happen to share a fingerprint (spec §4.G: "disambiguate collisions
	// by re-reading the candidate record").
	p1, err := ix.Add(7, 100)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	p2, err := ix.Add(7, 200)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p1 == p2 {
		t.Fatal("two Adds with the same fingerprint landed in the same slot")
	}

	var got []int64
	pos := NPOS
	for {
		val, next, found := ix.Get(7, pos)
		if !found {
			break
		}
		got = append(got, val)
		pos = next
	}
	if len(got) != 2 {
		t.Fatalf("collision chain length = %d, want 2", len(got))
	}
}

func TestResizeGrowsAndPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := Create(path, 16, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ix.Close()

	const n = 50
	for i := uint64(0); i < n; i++ {
		if _, err := ix.Add(i+1, int64(i)); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if ix.Capacity() <= 16 {
		t.Fatalf("Capacity() = %d, want > 16 after exceeding the load factor", ix.Capacity())
	}
	for i := uint64(0); i < n; i++ {
		val, _, found := ix.Get(i+1, NPOS)
		if !found || val != int64(i) {
			t.Fatalf("Get(%d) after resize = (%d, %v), want (%d, true)", i+1, val, found, i)
		}
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	ix, err := Create(path, 16, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ix.Add(5, 500); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ix.SetDataSize(4096)
	ix.BumpEpoch()
	if err := ix.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.DataSize() != 4096 {
		t.Fatalf("DataSize() = %d, want 4096", reopened.DataSize())
	}
	if reopened.Epoch() != 1 {
		t.Fatalf("Epoch() = %d, want 1", reopened.Epoch())
	}
	val, _, found := reopened.Get(5, NPOS)
	if !found || val != 500 {
		t.Fatalf("Get(5) after reopen = (%d, %v), want (500, true)", val, found)
	}
}
