// Package storage is the thin, path-keyed translation layer over the
// inode and directory components: stat, mknod, mkdir, rmdir, unlink,
// link, symlink, readlink, rename, read, write, truncate, chmod,
// set_time, list, access.
package storage

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/nufsimage/nufs/internal/directory"
	"github.com/nufsimage/nufs/internal/imagefile"
	"github.com/nufsimage/nufs/internal/inode"
	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/pages"
	"github.com/nufsimage/nufs/internal/pathutil"
)

// Info is the result of Stat: the subset of POSIX stat(2) fields the
// engine tracks.
type Info struct {
	Mode  int32
	Size  int64
	UID   int
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Nlink int32
}

// Engine is the single process-wide handle onto a mapped image: the
// page allocator, inode table, and directory layer, plus the ambient
// clock and logger. There is no hidden global state; callers own one
// Engine for the lifetime of the mapping.
type Engine struct {
	img    *imagefile.Image
	pages  *pages.Allocator
	inodes *inode.Table
	log    *slog.Logger
	clock  timeutil.Clock
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the default real-time clock, for deterministic
// tests.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Open maps (creating if absent) the image at path, initializes the
// page allocator, inode table, and root directory, and returns a ready
// Engine. Reopening an existing image resumes its prior state.
func Open(path string, opts ...Option) (*Engine, error) {
	img, err := imagefile.Open(path, pages.NufsSize)
	if err != nil {
		return nil, err
	}

	p, err := pages.Open(img)
	if err != nil {
		_ = img.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	t, err := inode.Open(p)
	if err != nil {
		_ = img.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := directory.Init(t); err != nil {
		_ = img.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	e := &Engine{
		img:    img,
		pages:  p,
		inodes: t,
		log:    slog.Default(),
		clock:  timeutil.RealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Close unmaps the backing image.
func (e *Engine) Close() error {
	return e.img.Close()
}

// SplitPath splits path into its parent directory path and final
// component, the filepath-tuple of spec.md §3.
func SplitPath(path string) (parent, name string) {
	return pathutil.SplitParent(path)
}

func (e *Engine) lookup(path string) (int32, error) {
	inum, err := directory.TreeLookup(e.inodes, path)
	if err != nil {
		return 0, ErrNotExist
	}
	return inum, nil
}

// Stat populates Info for path.
func (e *Engine) Stat(path string) (Info, error) {
	inum, err := e.lookup(path)
	if err != nil {
		return Info{}, err
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return Info{}, ErrNotExist
	}

	return Info{
		Mode:  rec.Mode,
		Size:  rec.Size,
		UID:   os.Getuid(),
		Atime: time.Unix(rec.Atime, 0),
		Mtime: time.Unix(rec.Mtime, 0),
		Ctime: time.Unix(rec.Ctime, 0),
		Nlink: rec.Refs + 1,
	}, nil
}

// Mknod creates a new inode of the given mode as a directory entry of
// path's parent. Inode and data-page allocation are attempted together
// and rolled back together on partial failure.
func (e *Engine) Mknod(path string, mode int32) error {
	parent, name := pathutil.SplitParent(path)
	if name == "" {
		return ErrNotExist
	}

	dirInum, err := e.lookup(parent)
	if err != nil {
		return err
	}

	newInum, inumErr := e.inodes.Alloc()
	newPage, pageErr := e.inodes.AllocPage()
	if inumErr != nil || pageErr != nil {
		if inumErr == nil {
			e.inodes.Free(newInum)
		}
		if pageErr == nil {
			e.inodes.FreePage(newPage)
		}
		e.log.Warn("nufs: mknod out of space", "path", path)
		return ErrNoSpace
	}

	rec, _ := e.inodes.Get(newInum)
	rec.Ptrs[0] = int32(newPage)
	rec.Mode = mode
	now := e.clock.Now().Unix()
	rec.Atime, rec.Mtime, rec.Ctime = now, now, now
	if modebits.IsDir(mode) || modebits.IsSymlink(mode) {
		rec.Size = pages.Size
	}
	e.inodes.Put(newInum, rec)

	if err := directory.Put(e.inodes, int(dirInum), name, int32(newInum)); err != nil {
		e.inodes.Free(newInum)
		return err
	}

	return nil
}

// Mkdir creates path as a directory and populates its "." and ".."
// entries. Mirrors the original's (lossy) translation of any Mknod
// failure to ErrNoSpace — see SPEC_FULL.md §10.3.
func (e *Engine) Mkdir(path string, mode int32) error {
	if err := e.Mknod(path, modebits.Dir|mode); err != nil {
		return ErrNoSpace
	}

	parent, _ := pathutil.SplitParent(path)

	dirInum, err := e.lookup(path)
	if err != nil {
		return err
	}
	parentInum, err := e.lookup(parent)
	if err != nil {
		return err
	}

	if err := directory.Put(e.inodes, int(dirInum), ".", dirInum); err != nil {
		return err
	}
	return directory.Put(e.inodes, int(dirInum), "..", parentInum)
}

// freeEntry applies unlink semantics to one (dirInum, name) pair that
// resolves to inum: decrement refs, or — on the last link — free the
// inode (recursing through a directory's own contents first), then
// always remove the directory entry.
func (e *Engine) freeEntry(dirInum int, name string, inum int32) error {
	rec, ok := e.inodes.Get(int(inum))
	if ok {
		if rec.Refs == 0 {
			if modebits.IsDir(rec.Mode) {
				e.log.Debug("nufs: rmdir recursing into directory", "inum", inum)
				if err := e.freeDirTree(int(inum)); err != nil {
					return err
				}
			} else {
				e.inodes.Free(int(inum))
			}
		} else {
			rec.Refs--
			e.inodes.Put(int(inum), rec)
		}
	}

	if err := directory.Delete(e.inodes, dirInum, name); err != nil {
		return ErrNotExist
	}
	return nil
}

// freeDirTree recursively frees every entry in dirInum other than "."
// and "..", then the directory inode itself (a no-op for root).
func (e *Engine) freeDirTree(dirInum int) error {
	for _, child := range directory.List(e.inodes, dirInum) {
		if child == "." || child == ".." {
			continue
		}
		entry, ok := directory.Lookup(e.inodes, dirInum, child)
		if !ok {
			continue
		}
		if err := e.freeEntry(dirInum, child, entry.Inum); err != nil {
			return err
		}
	}

	e.inodes.Free(dirInum)
	return nil
}

// Unlink removes path's directory entry, freeing its inode (and, for
// a directory with no outstanding links, everything beneath it) when
// no other hard links remain.
func (e *Engine) Unlink(path string) error {
	parent, name := pathutil.SplitParent(path)
	parentInum, err := e.lookup(parent)
	if err != nil {
		return ErrNotExist
	}

	entry, ok := directory.Lookup(e.inodes, int(parentInum), name)
	if !ok {
		return ErrNotExist
	}

	return e.freeEntry(int(parentInum), name, entry.Inum)
}

// Rmdir recursively unlinks every entry other than "." and ".." from
// path, frees the directory inode, then removes path's own entry from
// its parent.
func (e *Engine) Rmdir(path string) error {
	dirInum, err := e.lookup(path)
	if err != nil {
		return err
	}

	rec, ok := e.inodes.Get(int(dirInum))
	if !ok || !modebits.IsDir(rec.Mode) {
		return ErrNotDir
	}

	parent, name := pathutil.SplitParent(path)
	parentInum, err := e.lookup(parent)
	if err != nil {
		return err
	}

	if err := e.freeDirTree(int(dirInum)); err != nil {
		return err
	}

	if err := directory.Delete(e.inodes, int(parentInum), name); err != nil {
		return ErrNotExist
	}
	return nil
}

// Link inserts a new directory entry at to, pointing at the same
// inode as the non-directory file from, and increments its ref count.
func (e *Engine) Link(from, to string) error {
	fromInum, err := e.lookup(from)
	if err != nil {
		return ErrNotExist
	}

	if _, err := e.lookup(to); err == nil {
		return ErrExist
	}

	parent, name := pathutil.SplitParent(to)
	parentInum, err := e.lookup(parent)
	if err != nil {
		return ErrNotExist
	}

	rec, ok := e.inodes.Get(int(fromInum))
	if !ok {
		return ErrNotExist
	}
	if modebits.IsDir(rec.Mode) {
		return ErrIsDir
	}

	if err := directory.Put(e.inodes, int(parentInum), name, fromInum); err != nil {
		return err
	}

	rec.Refs++
	e.inodes.Put(int(fromInum), rec)
	return nil
}

// Symlink creates linkpath as a symbolic link whose target is the
// given (possibly truncated to one page) string.
func (e *Engine) Symlink(target, linkpath string) error {
	if _, err := e.lookup(linkpath); err == nil {
		return ErrExist
	}

	if err := e.Mknod(linkpath, modebits.Symlink|0o777); err != nil {
		return err
	}

	inum, err := e.lookup(linkpath)
	if err != nil {
		return err
	}
	rec, _ := e.inodes.Get(int(inum))

	page := e.inodes.Page(int(rec.Ptrs[0]))
	for i := range page {
		page[i] = 0
	}
	copy(page, target)

	return nil
}

// Readlink returns up to min(maxSize, pages.Size) bytes of path's
// stored symlink target; maxSize <= 0 yields an empty string.
func (e *Engine) Readlink(path string, maxSize int) (string, error) {
	inum, err := e.lookup(path)
	if err != nil {
		return "", ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok || !modebits.IsSymlink(rec.Mode) {
		return "", ErrPermission
	}

	if maxSize <= 0 {
		return "", nil
	}
	if maxSize > pages.Size {
		maxSize = pages.Size
	}

	data := e.inodes.Page(int(rec.Ptrs[0]))[:maxSize]
	if n := bytes.IndexByte(data, 0); n >= 0 {
		data = data[:n]
	}

	return string(data), nil
}

// Rename rewrites from's directory entry to carry to's final name.
// Only in-directory renames are supported: a rename across two
// different parent directories returns ErrCrossDevice (the spec's
// unspecified "-1" case).
func (e *Engine) Rename(from, to string) error {
	fromParent, fromName := pathutil.SplitParent(from)
	toParent, toName := pathutil.SplitParent(to)

	if fromParent != toParent {
		return ErrCrossDevice
	}

	parentInum, err := e.lookup(fromParent)
	if err != nil {
		return ErrNotExist
	}

	if err := directory.Rename(e.inodes, int(parentInum), fromName, toName); err != nil {
		return ErrNotExist
	}
	return nil
}

// copyChain stitches a byte range across the direct pages and indirect
// chain of inum, copying into buf (read) or out of buf (write) at the
// given in-file offset. Returns the number of bytes transferred.
func (e *Engine) copyChain(inum int, buf []byte, offset int64, write bool) int {
	cur := inum
	for offset >= int64(inode.MaxDirectSize) {
		rec, ok := e.inodes.Get(cur)
		if !ok || rec.IPtr == 0 {
			return 0
		}
		cur = int(rec.IPtr)
		offset -= int64(inode.MaxDirectSize)
	}

	bytesLeft := len(buf)
	bufOff := 0

	for bytesLeft > 0 {
		rec, ok := e.inodes.Get(cur)
		if !ok {
			break
		}

		for i := 0; i < inode.DirectPtrs; i++ {
			if bytesLeft == 0 {
				break
			}
			if offset >= pages.Size {
				offset -= pages.Size
				continue
			}

			page := e.inodes.Page(int(rec.Ptrs[i]))
			maxBytes := pages.Size - int(offset)
			n := bytesLeft
			if n > maxBytes {
				n = maxBytes
			}

			if write {
				copy(page[offset:], buf[bufOff:bufOff+n])
			} else {
				copy(buf[bufOff:bufOff+n], page[offset:])
			}

			offset = 0
			bufOff += n
			bytesLeft -= n
		}

		if bytesLeft == 0 || rec.IPtr == 0 {
			break
		}
		cur = int(rec.IPtr)
	}

	return bufOff
}

// Read copies up to len(buf) bytes of path starting at offset,
// clamped to the file's current size. Returns 0, nil once offset is
// at or past end-of-file.
func (e *Engine) Read(path string, buf []byte, offset int64) (int, error) {
	inum, err := e.lookup(path)
	if err != nil {
		return 0, ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return 0, ErrNotExist
	}
	if modebits.IsDir(rec.Mode) {
		return 0, ErrIsDir
	}

	if offset >= rec.Size {
		return 0, nil
	}

	size := int64(len(buf))
	if size > rec.Size-offset {
		size = rec.Size - offset
	}

	return e.copyChain(int(inum), buf[:size], offset, false), nil
}

// Write copies buf into path at offset, growing the file first if the
// write extends past its current size.
func (e *Engine) Write(path string, buf []byte, offset int64) (int, error) {
	inum, err := e.lookup(path)
	if err != nil {
		return 0, ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return 0, ErrNotExist
	}
	if modebits.IsDir(rec.Mode) {
		return 0, ErrIsDir
	}

	end := offset + int64(len(buf))
	if end > rec.Size {
		if err := e.inodes.Grow(int(inum), end); err != nil {
			e.log.Warn("nufs: write out of space", "path", path)
			return 0, ErrNoSpace
		}
	}

	n := e.copyChain(int(inum), buf, offset, true)

	rec, _ = e.inodes.Get(int(inum))
	rec.Mtime = e.clock.Now().Unix()
	e.inodes.Put(int(inum), rec)

	return n, nil
}

// Truncate grows or shrinks path's inode to exactly size.
func (e *Engine) Truncate(path string, size int64) error {
	inum, err := e.lookup(path)
	if err != nil {
		return ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return ErrNotExist
	}

	if size > rec.Size {
		if err := e.inodes.Grow(int(inum), size); err != nil {
			return ErrNoSpace
		}
		return nil
	}

	e.inodes.Shrink(int(inum), size)
	return nil
}

// Chmod ORs mode into path's mode word and refreshes ctime.
func (e *Engine) Chmod(path string, mode int32) error {
	inum, err := e.lookup(path)
	if err != nil {
		return ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return ErrNotExist
	}

	rec.Mode |= mode
	rec.Ctime = e.clock.Now().Unix()
	e.inodes.Put(int(inum), rec)
	return nil
}

// SetTime overwrites path's access and modification times. ts[0] is
// atime, ts[1] is mtime, matching struct timespec ts[2] of the
// original interface.
func (e *Engine) SetTime(path string, ts [2]time.Time) error {
	inum, err := e.lookup(path)
	if err != nil {
		return ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return ErrNotExist
	}

	rec.Atime = ts[0].Unix()
	rec.Mtime = ts[1].Unix()
	e.inodes.Put(int(inum), rec)
	return nil
}

// Access reports whether path resolves. Mask bits beyond existence are
// accepted but never enforced (permission checking is a non-goal).
func (e *Engine) Access(path string, mask int) error {
	_, err := e.lookup(path)
	return err
}

// List returns path's directory entries (including "." and "..").
func (e *Engine) List(path string) ([]string, error) {
	inum, err := e.lookup(path)
	if err != nil {
		return nil, ErrNotExist
	}

	rec, ok := e.inodes.Get(int(inum))
	if !ok {
		return nil, ErrNotExist
	}
	if !modebits.IsDir(rec.Mode) {
		return nil, ErrNotDir
	}

	return directory.List(e.inodes, int(inum)), nil
}
