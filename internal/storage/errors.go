package storage

import (
	"errors"

	"github.com/nufsimage/nufs/internal/pages"
)

// The engine's typed error taxonomy, the Go-native rendering of
// spec.md §7 (Absent / Exhausted / Wrong-type / Conflict /
// Unspecified). The path-keyed operations return these values as-is,
// without wrapping them in path context — callers compare with
// errors.Is (or ==), the way the teacher compares against
// fs.ErrNotExist / fs.ErrInvalid.
var (
	// ErrNotExist: path does not resolve, or a named directory entry
	// is missing.
	ErrNotExist = errors.New("nufs: no such file or directory")

	// ErrNoSpace: the page or inode allocator is exhausted. Aliases
	// pages.ErrNoSpace so lower-layer allocation failures compare
	// equal without re-wrapping.
	ErrNoSpace = pages.ErrNoSpace

	// ErrIsDir: operation requires a non-directory but found one.
	ErrIsDir = errors.New("nufs: is a directory")

	// ErrNotDir: operation requires a directory but found something
	// else.
	ErrNotDir = errors.New("nufs: not a directory")

	// ErrExist: destination path already exists where uniqueness is
	// required.
	ErrExist = errors.New("nufs: file exists")

	// ErrPermission: operation applied to an inode whose mode forbids
	// it (e.g. readlink on a non-symlink).
	ErrPermission = errors.New("nufs: operation not permitted")

	// ErrCrossDevice: the spec's "-1 unspecified" case — currently
	// only produced by Rename across two different parent
	// directories, which this engine does not support.
	ErrCrossDevice = errors.New("nufs: invalid cross-device link")
)
