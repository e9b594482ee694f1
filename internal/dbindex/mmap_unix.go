//go:build unix || linux || darwin

// File mapping for the DatabaseIndex backing file, via
// golang.org/x/sys/unix — the same corpus dependency calvinalkan-agent-task
// reaches for directly instead of a higher-level mmap wrapper.
package dbindex

import (
	"os"

	"golang.org/x/sys/unix"
)

type mapping struct {
	data []byte
}

func mapFile(f *os.File, size int64) (*mapping, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mapping{data: data}, nil
}

func (m *mapping) bytes() []byte { return m.data }

func (m *mapping) sync() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mapping) unmap() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
