// Package inode implements the fixed-count inode table: allocation,
// destruction, and growth/shrinkage including single-indirect chaining
// through an overflow inode.
package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nufsimage/nufs/internal/bitmap"
	"github.com/nufsimage/nufs/internal/pages"
)

// Count is the fixed number of inode table slots.
const Count = 256

// DirectPtrs is the number of direct page pointers per inode.
const DirectPtrs = 5

// MaxDirectSize is the number of bytes addressable directly by one
// inode, before chaining through IPtr.
const MaxDirectSize = DirectPtrs * pages.Size

// recordSize is the on-disk stride of one inode record. 256 records of
// this size fill exactly pages.InodeTablePages pages.
const recordSize = 64

// Record is the fixed-layout, on-disk inode record. It is marshalled
// with encoding/binary directly over the inode table's backing pages:
// mutations through the accessor methods below write straight into the
// mapped image, there is no separate in-memory copy to flush.
type Record struct {
	Refs  int32
	Mode  int32
	Size  int64
	Ptrs  [DirectPtrs]int32
	IPtr  int32
	Atime int64
	Mtime int64
	Ctime int64
}

// Table is the fixed-count inode table backed by a page allocator.
type Table struct {
	pages *pages.Allocator
}

// Open reserves pages 1..pages.InodeTablePages as the inode table on
// first use; on a reused image the table is accepted as-is.
func Open(p *pages.Allocator) (*Table, error) {
	pb := p.PageBitmap()
	if bitmap.Get(pb, 1) == 0 {
		for i := 1; i <= pages.InodeTablePages; i++ {
			idx, err := p.AllocPage()
			if err != nil {
				return nil, fmt.Errorf("inode: reserving inode table page %d: %w", i, err)
			}
			if idx != i {
				return nil, fmt.Errorf("inode: inode table pages are not contiguous: got %d, want %d", idx, i)
			}
		}
	}

	return &Table{pages: p}, nil
}

// recordBytes returns the raw 64-byte slot for inum, which must be in
// [0, Count).
func (t *Table) recordBytes(inum int) []byte {
	off := inum * recordSize
	page := 1 + off/pages.Size
	pageOff := off % pages.Size
	return t.pages.Page(page)[pageOff : pageOff+recordSize]
}

func (t *Table) readRecord(inum int) *Record {
	var rec Record
	if err := binary.Read(bytes.NewReader(t.recordBytes(inum)), binary.LittleEndian, &rec); err != nil {
		panic(fmt.Sprintf("inode: corrupt record %d: %v", inum, err))
	}
	return &rec
}

func (t *Table) writeRecord(inum int, rec *Record) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		panic(fmt.Sprintf("inode: marshal record %d: %v", inum, err))
	}
	copy(t.recordBytes(inum), buf.Bytes())
}

// Get returns the inode record for inum, and whether it is currently
// allocated. The returned Record is a detached copy; call Put to write
// mutations back.
func (t *Table) Get(inum int) (*Record, bool) {
	if inum < 0 || inum >= Count {
		return nil, false
	}
	if bitmap.Get(t.pages.InodeBitmap(), inum) == 0 {
		return nil, false
	}
	return t.readRecord(inum), true
}

// Put writes rec back into inum's slot.
func (t *Table) Put(inum int, rec *Record) {
	t.writeRecord(inum, rec)
}

// AllocPage reserves and returns a free data page, for use by callers
// (the directory layer) that manage page assignment themselves instead
// of going through Grow.
func (t *Table) AllocPage() (int, error) {
	return t.pages.AllocPage()
}

// FreePage releases a data page previously obtained from AllocPage.
func (t *Table) FreePage(i int) {
	t.pages.FreePage(i)
}

// Page returns the raw bytes of data page i.
func (t *Table) Page(i int) []byte {
	return t.pages.Page(i)
}

// Alloc reserves and returns the lowest-indexed free inode number.
func (t *Table) Alloc() (int, error) {
	ibm := t.pages.InodeBitmap()

	idx := bitmap.FirstClear(ibm, Count)
	if idx < 0 {
		return 0, pages.ErrNoSpace
	}

	bitmap.Put(ibm, idx, 1)
	t.writeRecord(idx, &Record{})

	return idx, nil
}

// Free releases inum: every direct page, the indirect chain, and
// finally the inode bitmap bit. A no-op for the root inode (0) and for
// already-free inodes.
func (t *Table) Free(inum int) {
	if inum == 0 {
		return
	}

	rec, ok := t.Get(inum)
	if !ok {
		return
	}

	for i := 0; i < DirectPtrs; i++ {
		if rec.Ptrs[i] != 0 {
			t.pages.FreePage(int(rec.Ptrs[i]))
			rec.Ptrs[i] = 0
		}
	}

	if rec.IPtr != 0 {
		t.Free(int(rec.IPtr))
	}

	rec.Size = 0
	rec.Mode = 0
	rec.IPtr = 0
	t.writeRecord(inum, rec)

	bitmap.Put(t.pages.InodeBitmap(), inum, 0)
}

func pagesNeeded(size int64) int {
	return int((size + pages.Size - 1) / pages.Size)
}

// Grow extends the inode identified by inum to newSize, allocating
// direct pages and, beyond MaxDirectSize, an indirect overflow inode
// whose direct pointers extend the range. Precondition: the inode's
// current size <= newSize.
func (t *Table) Grow(inum int, newSize int64) error {
	node, ok := t.Get(inum)
	if !ok {
		return fmt.Errorf("inode: grow: %d is not allocated", inum)
	}

	if newSize > MaxDirectSize {
		for i := 0; i < DirectPtrs; i++ {
			if node.Ptrs[i] == 0 {
				idx, err := t.pages.AllocPage()
				if err != nil {
					return err
				}
				node.Ptrs[i] = int32(idx)
			}
		}

		if node.IPtr == 0 {
			overflow, err := t.Alloc()
			if err != nil {
				return err
			}

			overflowRec, _ := t.Get(overflow)
			overflowRec.Mode = node.Mode
			t.writeRecord(overflow, overflowRec)

			node.IPtr = int32(overflow)
		}

		node.Size = newSize
		t.writeRecord(inum, node)

		return t.Grow(int(node.IPtr), newSize-MaxDirectSize)
	}

	need := pagesNeeded(newSize)
	for i := 0; i < need; i++ {
		if node.Ptrs[i] == 0 {
			idx, err := t.pages.AllocPage()
			if err != nil {
				return err
			}
			node.Ptrs[i] = int32(idx)
		}
	}

	node.Size = newSize
	t.writeRecord(inum, node)

	return nil
}

// Shrink reduces the inode identified by inum to newSize, freeing
// now-unused direct pages and, if newSize no longer needs it, the
// whole indirect chain. Precondition: the inode's current size >= newSize.
func (t *Table) Shrink(inum int, newSize int64) {
	node, ok := t.Get(inum)
	if !ok {
		return
	}

	node.Size = newSize

	if newSize > MaxDirectSize {
		t.writeRecord(inum, node)
		t.Shrink(int(node.IPtr), newSize-MaxDirectSize)
		return
	}

	need := pagesNeeded(newSize)
	for i := DirectPtrs - 1; i >= need; i-- {
		if node.Ptrs[i] != 0 {
			t.pages.FreePage(int(node.Ptrs[i]))
			node.Ptrs[i] = 0
		}
	}

	if node.IPtr != 0 {
		t.Free(int(node.IPtr))
		node.IPtr = 0
	}

	t.writeRecord(inum, node)
}
