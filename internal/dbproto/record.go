package dbproto

import (
	"encoding/binary"
	"fmt"

	"github.com/aurorakv/recdb/internal/errs"
)

// WireRecord is one key/value/version triple as it travels in a PUT or
// GET frame body (spec §4.J): "uint32 ksize where bit 0 = has version,
// key bytes, optional uint64 version, uint32 vsize, value bytes".
type WireRecord struct {
	Key        []byte
	Value      []byte
	Version    uint64
	HasVersion bool
}

// EncodeRecord appends rec's wire encoding to dst and returns the result.
func EncodeRecord(dst []byte, rec WireRecord) []byte {
	ksize := uint32(len(rec.Key)) << 1
	if rec.HasVersion {
		ksize |= 1
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], ksize)
	dst = append(dst, hdr[:]...)
	dst = append(dst, rec.Key...)
	if rec.HasVersion {
		var vbuf [8]byte
		binary.LittleEndian.PutUint64(vbuf[:], rec.Version)
		dst = append(dst, vbuf[:]...)
	}
	var vsize [4]byte
	binary.LittleEndian.PutUint32(vsize[:], uint32(len(rec.Value)))
	dst = append(dst, vsize[:]...)
	dst = append(dst, rec.Value...)
	return dst
}

// DecodeRecord parses one wire record from buf, returning the record and
// the number of bytes consumed.
func DecodeRecord(buf []byte) (WireRecord, int, error) {
	if len(buf) < 4 {
		return WireRecord{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	hasVersion := raw&1 != 0
	ksize := int(raw >> 1)
	n := 4

	if len(buf) < n+ksize {
		return WireRecord{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	rec := WireRecord{Key: buf[n : n+ksize], HasVersion: hasVersion}
	n += ksize

	if hasVersion {
		if len(buf) < n+8 {
			return WireRecord{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
		}
		rec.Version = binary.LittleEndian.Uint64(buf[n : n+8])
		n += 8
	}

	if len(buf) < n+4 {
		return WireRecord{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	vsize := int(binary.LittleEndian.Uint32(buf[n : n+4]))
	n += 4
	if len(buf) < n+vsize {
		return WireRecord{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	rec.Value = buf[n : n+vsize]
	n += vsize

	return rec, n, nil
}

// HeadInfo is HEAD's per-key reply: version and logical value size.
// vsize == 0 means the key is absent (spec §4.J).
type HeadInfo struct {
	Version uint64
	VSize   uint32
}

func EncodeHeadInfo(dst []byte, info HeadInfo) []byte {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], info.Version)
	binary.LittleEndian.PutUint32(buf[8:12], info.VSize)
	return append(dst, buf[:]...)
}

func DecodeHeadInfo(buf []byte) (HeadInfo, int, error) {
	if len(buf) < 12 {
		return HeadInfo{}, 0, fmt.Errorf("dbproto: %w", errs.ErrTruncated)
	}
	return HeadInfo{
		Version: binary.LittleEndian.Uint64(buf[0:8]),
		VSize:   binary.LittleEndian.Uint32(buf[8:12]),
	}, 12, nil
}
