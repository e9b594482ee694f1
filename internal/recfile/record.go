package recfile

import "go.uber.org/zap"

// Record is a logical (key, version, value) triple read from or written
// to a record file. Version is 0 for plain DATA records; VDATA records
// carry a non-zero version.
type Record struct {
	Type     int
	Key      []byte
	Value    []byte
	Version  uint64
	Position int64 // -1 if unknown

	// ValueLen is the logical (decompressed) value length. ReadKey sets
	// this while leaving Value nil; Read sets both.
	ValueLen int
}

// Options configures a RecordReader, RecordWriter, or RecordIndex. The
// zero value is filled in with the same defaults jpl-au-folio/db.go
// applies in Open: a non-zero buffer size, chunk size, and page size.
type Options struct {
	BufferSize     int
	ChunkSize      int64
	Compression    uint8
	Indexed        bool
	Append         bool
	IndexPageSize  int
	IndexCacheSize int
	HashAlgorithm  int
	Logger         *zap.Logger
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o Options) withDefaults() Options {
	if o.BufferSize == 0 {
		o.BufferSize = 4096
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 64 * (1 << 20)
	}
	if o.IndexPageSize == 0 {
		o.IndexPageSize = 1024
	}
	if o.IndexCacheSize == 0 {
		o.IndexCacheSize = 256
	}
	if o.HashAlgorithm == 0 {
		o.HashAlgorithm = AlgXXHash3
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
