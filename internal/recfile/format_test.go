package recfile

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		buf := make([]byte, 10)
		n := putVarint(buf, v)
		got, m, ok := getVarint(buf[:n])
		if !ok {
			t.Fatalf("getVarint(%d) ok=false", v)
		}
		if got != v || m != n {
			t.Fatalf("roundtrip(%d) = (%d, %d), want (%d, %d)", v, got, m, v, n)
		}
		if varintLen(v) != n {
			t.Fatalf("varintLen(%d) = %d, want %d", v, varintLen(v), n)
		}
	}
}

func TestGetVarintIncomplete(t *testing.T) {
	buf := []byte{0x80, 0x80} // continuation bit set on every byte, truncated
	if _, _, ok := getVarint(buf); ok {
		t.Fatal("getVarint on truncated varint returned ok=true")
	}
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	cases := []RecordHeader{
		{Type: TypeData, RecordSize: 42, KeySize: 10},
		{Type: TypeVData, RecordSize: 100, KeySize: 20, Version: 7},
		{Type: TypeFiller, RecordSize: 64},
		{Type: TypeIndex, RecordSize: 0, KeySize: 0},
	}
	for _, h := range cases {
		var buf [MaxHeaderLen]byte
		n := WriteHeader(h, buf[:])
		got, m, err := ReadHeader(buf[:n])
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if m != n {
			t.Fatalf("ReadHeader consumed %d bytes, WriteHeader wrote %d", m, n)
		}
		if got != h {
			t.Fatalf("roundtrip(%+v) = %+v", h, got)
		}
		if HeaderLen(h) != n {
			t.Fatalf("HeaderLen(%+v) = %d, want %d", h, HeaderLen(h), n)
		}
	}
}

func TestReadHeaderEmptyBuffer(t *testing.T) {
	_, n, err := ReadHeader(nil)
	if err != nil {
		t.Fatalf("ReadHeader(nil) error = %v, want nil", err)
	}
	if n != -1 {
		t.Fatalf("ReadHeader(nil) n = %d, want -1", n)
	}
}

func TestValidAtBounds(t *testing.T) {
	h := RecordHeader{RecordSize: 90, KeySize: 10}
	const chunkSize = 100

	if !ValidAt(h, 0, 100, chunkSize) {
		t.Fatal("expected header fitting exactly within one chunk to be valid")
	}
	if ValidAt(h, 20, 200, chunkSize) {
		t.Fatal("expected header straddling a chunk boundary to be invalid")
	}
	if ValidAt(h, 0, 99, chunkSize) {
		t.Fatal("expected header exceeding file size to be invalid")
	}

	badKey := RecordHeader{RecordSize: 10, KeySize: 20}
	if ValidAt(badKey, 0, 1000, chunkSize) {
		t.Fatal("expected KeySize > RecordSize to be invalid")
	}

	noChunk := RecordHeader{RecordSize: 5000, KeySize: 0}
	if !ValidAt(noChunk, 0, 10000, 0) {
		t.Fatal("expected chunkSize<=0 to skip the chunk-boundary check")
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{
		Magic:         MagicV2,
		HeaderLen:     fileHeaderMaxLen,
		Compression:   CompressionSnappy,
		ChunkSize:     1 << 20,
		IndexRoot:     4096,
		IndexStart:    2048,
		IndexPageSize: 1024,
		IndexDepth:    2,
	}
	buf := encodeFileHeader(h)
	if len(buf) != fileHeaderMaxLen {
		t.Fatalf("encodeFileHeader length = %d, want %d", len(buf), fileHeaderMaxLen)
	}

	got, err := decodeFileHeader(buf)
	if err != nil {
		t.Fatalf("decodeFileHeader: %v", err)
	}
	if got != h {
		t.Fatalf("roundtrip = %+v, want %+v", got, h)
	}
	if !got.Indexed() {
		t.Fatal("Indexed() = false for a MagicV2 header with a non-zero IndexStart")
	}
}

func TestFileHeaderBadMagic(t *testing.T) {
	h := FileHeader{Magic: 0xdeadbeef}
	buf := encodeFileHeader(h)
	if _, err := decodeFileHeader(buf); err == nil {
		t.Fatal("decodeFileHeader accepted an unrecognized magic")
	}
}
