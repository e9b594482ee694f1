// Package dbproto implements the binary wire protocol spoken over an
// HTTP-upgraded TCP socket (spec §4.J): an 8-byte little-endian
// {verb,size} header framing a body of exactly size bytes, plus the
// per-verb record encodings (PUT/GET/HEAD/NEXT2). There is no library in
// the reference corpus for a fixed binary frame like this one —
// encoding/binary is the idiomatic, zero-dependency tool for a format
// this simple, the same choice jpl-au-folio makes for its own 128-byte
// JSON header's length-prefixing (header.go) even though the payload
// encoding differs.
package dbproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aurorakv/recdb/internal/errs"
)

// Verb identifies a request frame's operation.
type Verb uint32

const (
	DBUSE    Verb = 0
	DBGET    Verb = 1
	DBPUT    Verb = 2
	DBDELETE Verb = 3
	DBNEXT   Verb = 4
	DBBULK   Verb = 5
	DBEPOCH  Verb = 6
	DBHEAD   Verb = 7
	DBNEXT2  Verb = 8
)

// Reply identifies a response frame's kind.
type Reply uint32

const (
	DBOK     Reply = 128
	DBERROR  Reply = 129
	DBRECORD Reply = 130
	DBRESULT Reply = 131
	DBDONE   Reply = 132
	DBRECID  Reply = 133
	DBRECINFO Reply = 134
)

// Mode mirrors kvdb.Mode over the wire (spec §4.J PUT framing, "Mode"
// header on the HTTP surface).
type Mode uint32

const (
	DBOVERWRITE Mode = 0
	DBADD       Mode = 1
	DBORDERED   Mode = 2
	DBNEWER     Mode = 3
)

// Result mirrors kvdb.Outcome over the wire.
type Result uint32

const (
	DBNEW       Result = 0
	DBUPDATED   Result = 1
	DBUNCHANGED Result = 2
	DBEXISTS    Result = 3
	DBSTALE     Result = 4
	DBFAULT     Result = 5
)

// Next2 flag bits (spec §4.J: "NEXT2 adds a flags byte").
const (
	Next2IncludeDeletions = 1 << 0
	Next2HonorLimit       = 1 << 1
	Next2ExcludeValue     = 1 << 2
)

// headerSize is the fixed {verb uint32; size uint32} wire header.
const headerSize = 8

// Header is one frame's verb + body size, spec §4.J's "uint32 verb;
// uint32 size".
type Header struct {
	Verb uint32
	Size uint32
}

// MaxFrameSize bounds a single frame body, guarding against a
// misbehaving peer claiming an enormous size and exhausting memory.
const MaxFrameSize = 64 << 20

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Verb)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads a frame header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Verb: binary.LittleEndian.Uint32(buf[0:4]),
		Size: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Size > MaxFrameSize {
		return Header{}, fmt.Errorf("dbproto: %w", errs.ErrOversized)
	}
	return h, nil
}

// WriteFrame writes a complete verb/reply frame.
func WriteFrame(w io.Writer, verb uint32, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("dbproto: %w", errs.ErrOversized)
	}
	if err := WriteHeader(w, Header{Verb: verb, Size: uint32(len(body))}); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	n, err := w.Write(body)
	if err != nil {
		return err
	}
	if n != len(body) {
		return fmt.Errorf("dbproto: %w", errs.ErrShortWrite)
	}
	return nil
}

// ReadFrame reads a complete frame, returning its header and body.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	body := make([]byte, h.Size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	return h, body, nil
}
