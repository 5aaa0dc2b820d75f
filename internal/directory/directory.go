// Package directory implements name-to-inode lookup, insertion, and
// deletion within a directory inode's data pages (and its indirect
// chain), using fixed-size 64-byte entries.
package directory

import (
	"bytes"

	"github.com/nufsimage/nufs/internal/inode"
	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/pages"
	"github.com/nufsimage/nufs/internal/pathutil"
)

// NameLen is the maximum stored length of a directory entry's name.
const NameLen = 48

// entrySize is the fixed on-disk stride of one directory entry:
// NameLen bytes of name, a 4-byte inode number, and 12 reserved bytes.
const entrySize = 64

// entriesPerPage is the true number of entries that fit in one page —
// the corrected count the original C source miscalculated by dividing
// PAGE_SIZE by the size of a small integer instead of the entry size.
const entriesPerPage = pages.Size / entrySize

// RootInum is the inode number of the filesystem root.
const RootInum = 0

// Entry is a directory entry resolved during a lookup.
type Entry struct {
	Name string
	Inum int32
}

func decodeEntry(buf []byte) (name [NameLen]byte, inum int32) {
	copy(name[:], buf[:NameLen])
	inum = int32(buf[NameLen]) | int32(buf[NameLen+1])<<8 | int32(buf[NameLen+2])<<16 | int32(buf[NameLen+3])<<24
	return
}

func encodeEntry(buf []byte, name string, inum int32) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[:NameLen], name)
	buf[NameLen] = byte(inum)
	buf[NameLen+1] = byte(inum >> 8)
	buf[NameLen+2] = byte(inum >> 16)
	buf[NameLen+3] = byte(inum >> 24)
}

func slotName(name [NameLen]byte) string {
	n := bytes.IndexByte(name[:], 0)
	if n < 0 {
		n = NameLen
	}
	return string(name[:n])
}

// Init creates the root directory (inode 0) if it does not already
// exist: allocates its first data page (expected to land on
// pages.RootDataPage for a fresh image), sets directory mode, and
// inserts the self-referencing "." and ".." entries.
func Init(t *inode.Table) error {
	if _, ok := t.Get(RootInum); ok {
		return nil
	}

	rootPage, err := t.AllocPage()
	if err != nil {
		return err
	}

	rootIdx, err := t.Alloc()
	if err != nil {
		return err
	}
	if rootIdx != RootInum {
		// The inode bitmap's lowest clear bit wasn't 0; something else
		// already consumed inode 0 without going through Init.
		t.Free(rootIdx)
		return nil
	}

	root, _ := t.Get(rootIdx)
	root.Mode = modebits.Dir | 0o755
	root.Ptrs[0] = int32(rootPage)
	root.Size = pages.Size
	t.Put(rootIdx, root)

	if err := Put(t, rootIdx, ".", int32(rootIdx)); err != nil {
		return err
	}
	return Put(t, rootIdx, "..", int32(rootIdx))
}

// eachPage walks the direct pages and indirect chain of the directory
// inode dirInum, invoking fn with the page data for every allocated
// direct page. Stops early if fn returns false.
func eachPage(t *inode.Table, dirInum int, fn func(page []byte) bool) {
	cur := dirInum
	for {
		rec, ok := t.Get(cur)
		if !ok || !modebits.IsDir(rec.Mode) {
			return
		}

		for i := 0; i < inode.DirectPtrs; i++ {
			if rec.Ptrs[i] == 0 {
				continue
			}
			if !fn(t.Page(int(rec.Ptrs[i]))) {
				return
			}
		}

		if rec.IPtr == 0 {
			return
		}
		cur = int(rec.IPtr)
	}
}

// Lookup scans dirInum's chain for name, returning its entry.
func Lookup(t *inode.Table, dirInum int, name string) (Entry, bool) {
	var found Entry
	ok := false

	eachPage(t, dirInum, func(page []byte) bool {
		for j := 0; j < entriesPerPage; j++ {
			slot := page[j*entrySize : (j+1)*entrySize]
			n, inum := decodeEntry(slot)
			if n[0] == 0 {
				continue
			}
			if slotName(n) == name {
				found = Entry{Name: slotName(n), Inum: inum}
				ok = true
				return false
			}
		}
		return true
	})

	return found, ok
}

// Put inserts a directory entry (name, inum) into dirInum's chain,
// allocating data pages or an indirect overflow inode as needed. name
// longer than NameLen is truncated to exactly NameLen bytes (no
// terminator guaranteed, matching the fixed on-disk layout).
func Put(t *inode.Table, dirInum int, name string, inum int32) error {
	cur := dirInum
	for {
		rec, ok := t.Get(cur)
		if !ok {
			return pages.ErrNoSpace
		}

		for i := 0; i < inode.DirectPtrs; i++ {
			if rec.Ptrs[i] == 0 {
				idx, err := t.AllocPage()
				if err != nil {
					return err
				}
				rec.Ptrs[i] = int32(idx)
				rec.Size += pages.Size
				t.Put(cur, rec)
			}

			page := t.Page(int(rec.Ptrs[i]))
			for j := 0; j < entriesPerPage; j++ {
				slot := page[j*entrySize : (j+1)*entrySize]
				if slot[0] == 0 {
					encodeEntry(slot, name, inum)
					return nil
				}
			}
		}

		if rec.IPtr == 0 {
			if err := t.Grow(cur, rec.Size+pages.Size); err != nil {
				return err
			}
			rec, _ = t.Get(cur)
		}

		cur = int(rec.IPtr)
	}
}

// Delete removes name from dirInum's chain, zeroing its slot without
// compacting the page.
func Delete(t *inode.Table, dirInum int, name string) error {
	found := false

	eachPage(t, dirInum, func(page []byte) bool {
		for j := 0; j < entriesPerPage; j++ {
			slot := page[j*entrySize : (j+1)*entrySize]
			n, _ := decodeEntry(slot)
			if n[0] == 0 {
				continue
			}
			if slotName(n) == name {
				for k := range slot {
					slot[k] = 0
				}
				found = true
				return false
			}
		}
		return true
	})

	if !found {
		return errNotFound
	}
	return nil
}

// Rename overwrites the name of the entry matching oldName with
// newName in place, preserving its slot and inum — a plain byte
// rewrite, so unlike Put it cannot fail with ErrNoSpace.
func Rename(t *inode.Table, dirInum int, oldName, newName string) error {
	found := false

	eachPage(t, dirInum, func(page []byte) bool {
		for j := 0; j < entriesPerPage; j++ {
			slot := page[j*entrySize : (j+1)*entrySize]
			n, inum := decodeEntry(slot)
			if n[0] == 0 {
				continue
			}
			if slotName(n) == oldName {
				encodeEntry(slot, newName, inum)
				found = true
				return false
			}
		}
		return true
	})

	if !found {
		return errNotFound
	}
	return nil
}

var errNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "directory: entry not found" }

// List returns every non-free entry name in dirInum's chain, in
// on-disk order.
func List(t *inode.Table, dirInum int) []string {
	var names []string

	eachPage(t, dirInum, func(page []byte) bool {
		for j := 0; j < entriesPerPage; j++ {
			slot := page[j*entrySize : (j+1)*entrySize]
			n, _ := decodeEntry(slot)
			if n[0] != 0 {
				names = append(names, slotName(n))
			}
		}
		return true
	})

	return names
}

// TreeLookup resolves path (an absolute, "/"-separated path) to an
// inode number by walking components from the root.
func TreeLookup(t *inode.Table, path string) (int32, error) {
	if path == "/" || path == "" {
		return RootInum, nil
	}

	cur := RootInum
	for _, comp := range pathutil.Split(path) {
		entry, ok := Lookup(t, cur, comp)
		if !ok {
			return 0, errNotFound
		}
		cur = int(entry.Inum)
	}

	return int32(cur), nil
}

// ErrNotFound is returned by Delete and TreeLookup when the requested
// entry or path does not resolve.
var ErrNotFound = errNotFound
