// Package nufs adapts the storage engine to the standard io/fs
// interfaces, the same shape the teacher package (erofs) uses to
// expose its own archive format read-only.
package nufs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/storage"
)

var (
	_ fs.FS        = (*FS)(nil)
	_ fs.ReadDirFS = (*FS)(nil)
	_ fs.StatFS    = (*FS)(nil)
	_ ReadLinkFS   = (*FS)(nil)
)

// ReadLinkFS is the experimental read-only symlink extension to io/fs
// proposed in https://github.com/golang/go/issues/49580, the same
// interface the teacher package exposes over its own archive format.
type ReadLinkFS interface {
	fs.FS

	// ReadLink returns the destination of the named symbolic link.
	ReadLink(name string) (string, error)

	// StatLink describes the named file without following a trailing
	// symbolic link.
	StatLink(name string) (fs.FileInfo, error)
}

// FS is a read-only io/fs view over a nufs image.
type FS struct {
	engine *storage.Engine
}

// Open maps the image at imagePath and returns an FS backed by it.
// The caller must call Close when done.
func Open(imagePath string, opts ...storage.Option) (*FS, error) {
	e, err := storage.Open(imagePath, opts...)
	if err != nil {
		return nil, err
	}
	return &FS{engine: e}, nil
}

// Close unmaps the underlying image.
func (fsys *FS) Close() error {
	return fsys.engine.Close()
}

func toAbs(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + strings.TrimPrefix(path.Clean(name), "/")
}

func mapErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case storage.ErrNotExist:
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	case storage.ErrNotDir:
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	case storage.ErrIsDir:
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	case storage.ErrPermission:
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrPermission}
	default:
		return &fs.PathError{Op: op, Path: name, Err: err}
	}
}

// Open implements fs.FS.
func (fsys *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	abs := toAbs(name)
	info, err := fsys.engine.Stat(abs)
	if err != nil {
		return nil, mapErr("open", name, err)
	}

	return &openFile{fsys: fsys, name: name, abs: abs, info: info}, nil
}

// ReadDir implements fs.ReadDirFS.
func (fsys *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	abs := toAbs(name)
	names, err := fsys.engine.List(abs)
	if err != nil {
		return nil, mapErr("readdir", name, err)
	}

	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}

		childInfo, err := fsys.engine.Stat(path.Join(abs, n))
		if err != nil {
			continue
		}
		entries = append(entries, dirEntry{name: n, info: childInfo})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Stat implements fs.StatFS. A trailing symlink is followed.
func (fsys *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	abs := toAbs(name)
	info, err := fsys.resolve(abs, false)
	if err != nil {
		return nil, mapErr("stat", name, err)
	}
	return fileInfo{name: path.Base(abs), info: info}, nil
}

// StatLink describes name without following a trailing symlink.
func (fsys *FS) StatLink(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}

	abs := toAbs(name)
	info, err := fsys.engine.Stat(abs)
	if err != nil {
		return nil, mapErr("lstat", name, err)
	}
	return fileInfo{name: path.Base(abs), info: info}, nil
}

// ReadLink returns the destination stored at name, which must be a
// symbolic link.
func (fsys *FS) ReadLink(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}

	abs := toAbs(name)
	target, err := fsys.engine.Readlink(abs, 4096)
	if err != nil {
		return "", mapErr("readlink", name, err)
	}
	return target, nil
}

// resolve follows at most one level of symlink at the leaf of abs —
// nested intermediate symlinks are not supported (a non-goal).
func (fsys *FS) resolve(abs string, noFollow bool) (storage.Info, error) {
	info, err := fsys.engine.Stat(abs)
	if err != nil {
		return storage.Info{}, err
	}

	if noFollow || !modebits.IsSymlink(info.Mode) {
		return info, nil
	}

	target, err := fsys.engine.Readlink(abs, 4096)
	if err != nil {
		return storage.Info{}, err
	}
	if !strings.HasPrefix(target, "/") {
		target = path.Join(path.Dir(abs), target)
	}

	return fsys.engine.Stat(target)
}

type openFile struct {
	fsys   *FS
	name   string
	abs    string
	info   storage.Info
	offset int64
}

func (f *openFile) Stat() (fs.FileInfo, error) {
	return fileInfo{name: path.Base(f.abs), info: f.info}, nil
}

func (f *openFile) Read(p []byte) (int, error) {
	if modebits.IsDir(f.info.Mode) {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}

	n, err := f.fsys.engine.Read(f.abs, p, f.offset)
	if err != nil {
		return 0, mapErr("read", f.name, err)
	}
	f.offset += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *openFile) Close() error { return nil }

type fileInfo struct {
	name string
	info storage.Info
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.info.Size }
func (fi fileInfo) Mode() fs.FileMode  { return toFileMode(fi.info.Mode) }
func (fi fileInfo) ModTime() time.Time { return fi.info.Mtime }
func (fi fileInfo) IsDir() bool        { return modebits.IsDir(fi.info.Mode) }
func (fi fileInfo) Sys() any           { return fi.info }

type dirEntry struct {
	name string
	info storage.Info
}

func (de dirEntry) Name() string { return de.name }
func (de dirEntry) IsDir() bool  { return modebits.IsDir(de.info.Mode) }
func (de dirEntry) Type() fs.FileMode {
	return toFileMode(de.info.Mode).Type()
}
func (de dirEntry) Info() (fs.FileInfo, error) {
	return fileInfo{name: de.name, info: de.info}, nil
}

func toFileMode(mode int32) fs.FileMode {
	m := fs.FileMode(mode & 0o777)
	switch {
	case modebits.IsDir(mode):
		m |= fs.ModeDir
	case modebits.IsSymlink(mode):
		m |= fs.ModeSymlink
	}
	return m
}
