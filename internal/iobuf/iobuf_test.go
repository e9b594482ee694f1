package iobuf

import "testing"

func TestAppendConsume(t *testing.T) {
	b := New()
	dst := b.Append(5)
	copy(dst, []byte("hello"))

	if got := string(b.Bytes()); got != "hello" {
		t.Fatalf("Bytes() = %q, want %q", got, "hello")
	}

	got := b.Consume(3)
	if string(got) != "hel" {
		t.Fatalf("Consume(3) = %q, want %q", got, "hel")
	}
	if got := string(b.Bytes()); got != "lo" {
		t.Fatalf("Bytes() after consume = %q, want %q", got, "lo")
	}
}

func TestConsumeClampsToLen(t *testing.T) {
	b := New()
	copy(b.Append(2), []byte("ab"))

	got := b.Consume(10)
	if string(got) != "ab" {
		t.Fatalf("Consume(10) = %q, want %q", got, "ab")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestFlushRepacks(t *testing.T) {
	b := New()
	copy(b.Append(6), []byte("abcdef"))
	b.Consume(3)

	b.Flush()
	if string(b.Bytes()) != "def" {
		t.Fatalf("Bytes() after flush = %q, want %q", b.Bytes(), "def")
	}

	dst := b.Append(3)
	copy(dst, []byte("ghi"))
	if string(b.Bytes()) != "defghi" {
		t.Fatalf("Bytes() = %q, want %q", b.Bytes(), "defghi")
	}
}

func TestShrinkAfterShortRead(t *testing.T) {
	b := New()
	dst := b.Append(8)
	copy(dst, []byte("123"))
	b.Shrink(5)

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	if string(b.Bytes()) != "123" {
		t.Fatalf("Bytes() = %q, want %q", b.Bytes(), "123")
	}
}

func TestEnsureGrowsWithoutLosingData(t *testing.T) {
	b := New()
	copy(b.Append(4), []byte("data"))

	b.Ensure(1 << 20)
	if b.Cap() < 1<<20 {
		t.Fatalf("Cap() = %d, want >= %d", b.Cap(), 1<<20)
	}
	if string(b.Bytes()) != "data" {
		t.Fatalf("Bytes() after grow = %q, want %q", b.Bytes(), "data")
	}
}

func TestResetDiscardsData(t *testing.T) {
	b := New()
	copy(b.Append(4), []byte("data"))
	b.Reset()

	if b.Len() != 0 {
		t.Fatalf("Len() after reset = %d, want 0", b.Len())
	}
}

func TestReadInt(t *testing.T) {
	b := New()
	dst := b.Append(4)
	dst[0], dst[1], dst[2], dst[3] = 0x01, 0x00, 0x00, 0x00

	v, ok := b.ReadInt(4)
	if !ok {
		t.Fatal("ReadInt(4) ok = false, want true")
	}
	if v != 1 {
		t.Fatalf("ReadInt(4) = %d, want 1", v)
	}
	if b.Len() != 4 {
		t.Fatalf("ReadInt must not consume; Len() = %d, want 4", b.Len())
	}
}

func TestReadIntShortBuffer(t *testing.T) {
	b := New()
	copy(b.Append(2), []byte{0x01, 0x02})

	if _, ok := b.ReadInt(4); ok {
		t.Fatal("ReadInt(4) ok = true on a 2-byte buffer, want false")
	}
}
