// Package imagefile memory-maps a fixed-size backing file into the
// process address space. It is the one concrete primitive the rest of
// the engine treats as opaque: a contiguous, mutable byte region of
// known size, durable for as long as the host's mapping lives.
package imagefile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Image is a memory-mapped backing file.
type Image struct {
	f    *os.File
	data []byte
}

// Open maps the file at path into memory, creating and sizing it to
// size if it does not already exist. A pre-existing file of the right
// size is accepted as-is, whatever bits it carries — this is what lets
// pages.Open/inode.Open resume state across restarts.
func Open(path string, size int64) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("imagefile: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("imagefile: stat %s: %w", path, err)
	}

	switch {
	case fi.Size() == 0:
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("imagefile: truncate %s to %d: %w", path, size, err)
		}
	case fi.Size() != size:
		_ = f.Close()
		return nil, fmt.Errorf("imagefile: %s has size %d, expected %d", path, fi.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("imagefile: mmap %s: %w", path, err)
	}

	return &Image{f: f, data: data}, nil
}

// Bytes returns the raw, mutable backing region. Callers index into it
// directly; there is no copy, and writes are visible immediately.
func (i *Image) Bytes() []byte {
	return i.data
}

// Sync flushes the mapping to the backing file. Nothing in this
// repository calls it — neither the engine nor cmd/nufsctl;
// durability is whatever the host's mmap lifetime provides (spec §5).
func (i *Image) Sync() error {
	if err := unix.Msync(i.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("imagefile: msync: %w", err)
	}
	return nil
}

// Close unmaps the image and closes the backing file descriptor.
func (i *Image) Close() error {
	if err := unix.Munmap(i.data); err != nil {
		return fmt.Errorf("imagefile: munmap: %w", err)
	}
	return i.f.Close()
}
