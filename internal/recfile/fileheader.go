package recfile

import "encoding/binary"

// fileHeaderMaxLen is the fixed on-disk size reserved for the file
// header. Spec §3 bounds it at <=40 bytes; we round up to a clean 40 so
// the header never needs to grow into the first record's space.
const fileHeaderMaxLen = 40

// encodeFileHeader serializes h into a fileHeaderMaxLen-byte little-endian
// buffer. Layout: magic(4) hdrlen(1) compression(1) flags(2) chunk_size(8)
// index_root(8) index_start(8) index_page_size(4) index_depth(4) = 40.
func encodeFileHeader(h FileHeader) []byte {
	buf := make([]byte, fileHeaderMaxLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = fileHeaderMaxLen
	buf[5] = h.Compression
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.ChunkSize)
	binary.LittleEndian.PutUint64(buf[16:24], h.IndexRoot)
	binary.LittleEndian.PutUint64(buf[24:32], h.IndexStart)
	binary.LittleEndian.PutUint32(buf[32:36], h.IndexPageSize)
	binary.LittleEndian.PutUint32(buf[36:40], h.IndexDepth)
	return buf
}

// decodeFileHeader parses a file header from buf, which must contain at
// least fileHeaderMaxLen bytes.
func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < fileHeaderMaxLen {
		return FileHeader{}, errHeaderTooShort
	}
	var h FileHeader
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.HeaderLen = buf[4]
	h.Compression = buf[5]
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.ChunkSize = binary.LittleEndian.Uint64(buf[8:16])
	h.IndexRoot = binary.LittleEndian.Uint64(buf[16:24])
	h.IndexStart = binary.LittleEndian.Uint64(buf[24:32])
	h.IndexPageSize = binary.LittleEndian.Uint32(buf[32:36])
	h.IndexDepth = binary.LittleEndian.Uint32(buf[36:40])
	if h.Magic != MagicV1 && h.Magic != MagicV2 {
		return FileHeader{}, errHeaderTooShort
	}
	return h, nil
}
