// Package pages implements the fixed-size page allocator over the
// memory-mapped image. It owns page 0 (the page bitmap and, contiguous
// with it, the inode bitmap) and defines the page range 1-4 that
// inode.Open reserves for the inode table.
package pages

import (
	"errors"
	"fmt"

	"github.com/nufsimage/nufs/internal/bitmap"
	"github.com/nufsimage/nufs/internal/imagefile"
)

const (
	// Size is the size in bytes of a single page.
	Size = 4096

	// Count is the total number of pages in an image.
	Count = 256

	// NufsSize is the required size in bytes of a backing image.
	NufsSize = Count * Size

	// InodeTablePages is the number of pages (1-4) reserved for the
	// fixed-count inode table.
	InodeTablePages = 4

	// RootDataPage is the root directory's first data page.
	RootDataPage = 1 + InodeTablePages

	// inodeBitmapBits is one bit per inode table slot.
	inodeBitmapBits = 256

	pageBitmapBytes  = (Count + 7) / 8
	inodeBitmapBytes = (inodeBitmapBits + 7) / 8
)

// ErrNoSpace is returned when the page bitmap has no clear bits left.
var ErrNoSpace = errors.New("nufs: no space left on device")

// Allocator serves page-granular storage over a mapped image.
type Allocator struct {
	data []byte
}

// Open initializes the allocator over img, which must be exactly
// NufsSize bytes. Idempotent: an image carrying prior bitmap bits is
// accepted as-is.
func Open(img *imagefile.Image) (*Allocator, error) {
	data := img.Bytes()
	if len(data) != NufsSize {
		return nil, fmt.Errorf("pages: image is %d bytes, expected %d", len(data), NufsSize)
	}

	a := &Allocator{data: data}

	// Page 0 (the bitmaps themselves) is always reserved.
	pb := a.PageBitmap()
	if bitmap.Get(pb, 0) == 0 {
		bitmap.Put(pb, 0, 1)
	}

	return a, nil
}

// PageBitmap returns the page-allocation bitmap, the first region of
// page 0.
func (a *Allocator) PageBitmap() []byte {
	return a.data[0:pageBitmapBytes]
}

// InodeBitmap returns the inode-allocation bitmap, immediately
// following the page bitmap within page 0.
func (a *Allocator) InodeBitmap() []byte {
	start := pageBitmapBytes
	return a.data[start : start+inodeBitmapBytes]
}

// Page returns the raw bytes of page i, a window directly into the
// mapped image.
func (a *Allocator) Page(i int) []byte {
	off := i * Size
	return a.data[off : off+Size]
}

// AllocPage reserves and returns the lowest-indexed free page.
func (a *Allocator) AllocPage() (int, error) {
	pb := a.PageBitmap()

	idx := bitmap.FirstClear(pb, Count)
	if idx < 0 {
		return 0, ErrNoSpace
	}

	bitmap.Put(pb, idx, 1)
	return idx, nil
}

// FreePage releases page i. Page contents are left as-is.
func (a *Allocator) FreePage(i int) {
	bitmap.Put(a.PageBitmap(), i, 0)
}
