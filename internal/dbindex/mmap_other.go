//go:build !unix && !linux && !darwin

// Fallback file mapping for platforms without a vetted mmap path in the
// corpus (the pack's golang.org/x/sys usage is Unix-first). Loads the
// whole index into memory and writes it back on sync; semantically
// equivalent to the mmap path for the DatabaseIndex's access pattern
// (whole-file read at open, explicit sync points at checkpoint/resize),
// just without the kernel-shared pages.
package dbindex

import "os"

type mapping struct {
	file *os.File
	data []byte
}

func mapFile(f *os.File, size int64) (*mapping, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && size > 0 {
		return nil, err
	}
	return &mapping{file: f, data: data}, nil
}

func (m *mapping) bytes() []byte { return m.data }

func (m *mapping) sync() error {
	if m.data == nil {
		return nil
	}
	_, err := m.file.WriteAt(m.data, 0)
	return err
}

func (m *mapping) unmap() error {
	return m.sync()
}
