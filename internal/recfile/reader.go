package recfile

import (
	"fmt"
	"io"
	"os"

	"github.com/aurorakv/recdb/internal/errs"
	"github.com/aurorakv/recdb/internal/iobuf"
	"github.com/klauspost/compress/s2"
)

// Reader sequentially reads records from a record file, skipping FILLERs
// transparently. It keeps a single owned input buffer plus a scratch
// buffer for decompressed values (spec §4.C).
type Reader struct {
	file      *os.File
	owned     bool
	opts      Options
	info      FileHeader
	size      int64
	position  int64
	input     *iobuf.Buffer
	scratch   []byte
	readahead bool
}

// Open opens filename for sequential record reading.
func Open(filename string, opts Options) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, opts, true)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader wraps an already-open file. owned controls whether Close also
// closes file.
func NewReader(file *os.File, opts Options, owned bool) (*Reader, error) {
	opts = opts.withDefaults()
	r := &Reader{
		file:      file,
		owned:     owned,
		opts:      opts,
		input:     iobuf.New(),
		readahead: true,
	}

	if err := r.fill(fileHeaderMaxLen); err != nil {
		return nil, fmt.Errorf("recfile: read file header: %w", err)
	}
	if r.input.Len() < fileHeaderMaxLen {
		return nil, fmt.Errorf("recfile: %w: truncated file header", errs.ErrCorruptHeader)
	}
	hdr, err := decodeFileHeader(r.input.Bytes())
	if err != nil {
		return nil, fmt.Errorf("recfile: %w", errs.ErrCorruptHeader)
	}
	r.input.Consume(fileHeaderMaxLen)
	r.info = hdr
	r.position = fileHeaderMaxLen

	if hdr.IndexStart != 0 {
		r.size = int64(hdr.IndexStart)
	} else {
		st, err := file.Stat()
		if err != nil {
			return nil, err
		}
		r.size = st.Size()
	}
	return r, nil
}

// Info returns the file header.
func (r *Reader) Info() FileHeader { return r.info }

// Size returns the data-region size (excludes the trailing index region).
func (r *Reader) Size() int64 { return r.size }

// Tell returns the current read position.
func (r *Reader) Tell() int64 { return r.position }

// Done reports whether every data record has been read.
func (r *Reader) Done() bool { return r.position >= r.size }

// Close releases the reader. If owned, the underlying file is closed too.
func (r *Reader) Close() error {
	if r.owned && r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// fill reads more bytes from the file into the input buffer. In readahead
// mode it tops the buffer up to its full capacity; otherwise it reads
// exactly enough to satisfy need.
func (r *Reader) fill(need int) error {
	r.input.Flush()
	r.input.Ensure(need)

	var want int
	if r.readahead {
		want = r.input.Cap()
	} else {
		want = need - r.input.Len()
	}
	if want <= 0 {
		return nil
	}

	fileOff := r.position + int64(r.input.Len())
	// Cap at the real file size, not r.size: the file on disk extends past
	// r.size when a trailing index region follows the data region, and
	// reading those bytes into the buffer is harmless since Read/ReadKey
	// validate every header against r.size before trusting it.
	st, err := r.file.Stat()
	if err != nil {
		return err
	}
	remaining := st.Size() - fileOff
	if int64(want) > remaining {
		want = int(remaining)
	}
	if want <= 0 {
		return nil
	}

	dst := r.input.Append(want)
	n, err := r.file.ReadAt(dst, fileOff)
	if n < want {
		r.input.Shrink(want - n)
	}
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// valid checks header h against the chunk and bounds invariants, using the
// reader's current position as the header's file offset (matching the
// original implementation's check, which measures from the header start
// rather than the body start — see format.go's ValidAt doc comment).
func (r *Reader) valid(h RecordHeader) error {
	if !ValidAt(h, r.position, r.size, r.info.ChunkSize) {
		return fmt.Errorf("recfile: %w", errs.ErrTruncatedData)
	}
	return nil
}

// Read returns the next non-FILLER record, decompressing its value if
// needed. The returned Key/Value slices alias the reader's internal
// buffers and are valid only until the next Read/ReadKey/Seek/Skip call.
func (r *Reader) Read() (Record, error) {
	for {
		if r.input.Len() < MaxHeaderLen {
			if err := r.fill(MaxHeaderLen); err != nil {
				return Record{}, err
			}
		}

		hdr, n, err := ReadHeader(r.input.Bytes())
		if err != nil {
			return Record{}, fmt.Errorf("recfile: %w", errs.ErrCorruptHeader)
		}
		if n < 0 {
			return Record{}, fmt.Errorf("recfile: %w", errs.ErrCorruptHeader)
		}
		if err := r.valid(hdr); err != nil {
			return Record{}, err
		}

		if hdr.Type == TypeFiller {
			if err := r.Skip(int64(hdr.RecordSize)); err != nil {
				return Record{}, err
			}
			continue
		}

		r.input.Consume(n)
		rec := Record{
			Type:     hdr.Type,
			Version:  hdr.Version,
			Position: r.position,
		}
		r.position += int64(n)

		if err := r.ensure(int(hdr.RecordSize)); err != nil {
			return Record{}, err
		}

		if hdr.KeySize > 0 {
			rec.Key = append([]byte(nil), r.input.Consume(int(hdr.KeySize))...)
		}

		valueSize := int(hdr.RecordSize) - int(hdr.KeySize)
		raw := r.input.Consume(valueSize)
		switch r.info.Compression {
		case CompressionNone:
			rec.Value = append([]byte(nil), raw...)
		case CompressionSnappy:
			out, err := decompressValue(r.scratch[:0], raw, CompressionSnappy)
			if err != nil {
				return Record{}, fmt.Errorf("recfile: decompress: %w", err)
			}
			r.scratch = out
			rec.Value = out
		default:
			return Record{}, fmt.Errorf("recfile: %w", errs.ErrUnknownCompression)
		}

		rec.ValueLen = len(rec.Value)
		r.position += int64(hdr.RecordSize)
		r.readahead = true
		return rec, nil
	}
}

// ReadKey returns the next non-FILLER record with Key populated but Value
// left nil; ValueLen carries the logical (decompressed) value length so
// callers like HEAD can report a size without paying for decompression.
// Unlike the reader's C++ ancestor, which hands back a pointer that
// crashes on access, Go leaves Value nil rather than fabricate an unsafe
// pointer — callers that need the length use ValueLen instead.
func (r *Reader) ReadKey() (Record, error) {
	for {
		if r.input.Len() < MaxHeaderLen {
			if err := r.fill(MaxHeaderLen); err != nil {
				return Record{}, err
			}
		}

		hdr, n, err := ReadHeader(r.input.Bytes())
		if err != nil || n < 0 {
			return Record{}, fmt.Errorf("recfile: %w", errs.ErrCorruptHeader)
		}
		if err := r.valid(hdr); err != nil {
			return Record{}, err
		}

		if hdr.Type == TypeFiller {
			if err := r.Skip(int64(hdr.RecordSize)); err != nil {
				return Record{}, err
			}
			continue
		}

		r.input.Consume(n)
		rec := Record{Type: hdr.Type, Version: hdr.Version, Position: r.position}
		r.position += int64(n)

		if hdr.KeySize > 0 {
			if err := r.ensure(int(hdr.KeySize)); err != nil {
				return Record{}, err
			}
			rec.Key = append([]byte(nil), r.input.Consume(int(hdr.KeySize))...)
			r.position += int64(hdr.KeySize)
		}

		valueSize := int(hdr.RecordSize) - int(hdr.KeySize)
		if valueSize > 0 {
			switch r.info.Compression {
			case CompressionSnappy:
				peek := min(valueSize, 5)
				if err := r.ensure(peek); err != nil {
					return Record{}, err
				}
				dlen, _ := s2.DecodedLen(r.input.Bytes()[:peek])
				rec.ValueLen = dlen
			case CompressionNone:
				rec.ValueLen = valueSize
			default:
				return Record{}, fmt.Errorf("recfile: %w", errs.ErrUnknownCompression)
			}
			if err := r.Skip(int64(valueSize)); err != nil {
				return Record{}, err
			}
		}
		return rec, nil
	}
}

// ensure guarantees the input buffer holds at least n available bytes,
// flushing and refilling from the file as needed.
func (r *Reader) ensure(n int) error {
	if r.input.Len() >= n {
		return nil
	}
	if err := r.fill(n); err != nil {
		return err
	}
	if r.input.Len() < n {
		return fmt.Errorf("recfile: %w", errs.ErrTruncatedData)
	}
	return nil
}

// Seek moves the read position. Position 0 means the first record (right
// after the file header).
func (r *Reader) Seek(pos int64) error {
	if pos == 0 {
		pos = fileHeaderMaxLen
	}
	if pos == r.position {
		return nil
	}
	offset := pos - r.position
	r.position = pos
	if offset > 0 && offset <= int64(r.input.Len()) {
		r.input.Consume(int(offset))
		return nil
	}
	r.input.Reset()
	r.readahead = false
	return nil
}

// Rewind seeks to the first record.
func (r *Reader) Rewind() error { return r.Seek(0) }

// Skip advances n bytes without materializing a record.
func (r *Reader) Skip(n int64) error { return r.Seek(r.position + n) }

// ReadIndexPage reads the INDEX record at position and parses it into a
// slice of fingerprint/offset entries. Index pages lie past the data
// region, so the bounds check uses the whole file size while the page
// is read.
func (r *Reader) ReadIndexPage(position int64) ([]IndexEntry, error) {
	st, err := r.file.Stat()
	if err != nil {
		return nil, err
	}
	dataSize := r.size
	r.size = st.Size()
	defer func() { r.size = dataSize }()
	if err := r.Seek(position); err != nil {
		return nil, err
	}
	rec, err := r.Read()
	if err != nil {
		return nil, err
	}
	return decodeIndexEntries(rec.Value), nil
}

