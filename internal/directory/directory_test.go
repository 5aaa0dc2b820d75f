package directory_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nufsimage/nufs/internal/directory"
	"github.com/nufsimage/nufs/internal/imagefile"
	"github.com/nufsimage/nufs/internal/inode"
	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/pages"
)

func newTable(t *testing.T) *inode.Table {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.nufs")
	img, err := imagefile.Open(path, pages.NufsSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, img.Close())
	})

	p, err := pages.Open(img)
	require.NoError(t, err)

	tbl, err := inode.Open(p)
	require.NoError(t, err)

	require.NoError(t, directory.Init(tbl))

	return tbl
}

func TestInitCreatesRootWithDotEntries(t *testing.T) {
	tbl := newTable(t)

	root, ok := tbl.Get(directory.RootInum)
	require.True(t, ok)
	require.True(t, modebits.IsDir(root.Mode))
	require.EqualValues(t, pages.RootDataPage, root.Ptrs[0])

	names := directory.List(tbl, directory.RootInum)
	require.ElementsMatch(t, []string{".", ".."}, names)
}

func TestPutAndLookup(t *testing.T) {
	tbl := newTable(t)

	inum, err := tbl.Alloc()
	require.NoError(t, err)

	require.NoError(t, directory.Put(tbl, directory.RootInum, "hello.txt", int32(inum)))

	entry, ok := directory.Lookup(tbl, directory.RootInum, "hello.txt")
	require.True(t, ok)
	require.EqualValues(t, inum, entry.Inum)

	_, ok = directory.Lookup(tbl, directory.RootInum, "missing")
	require.False(t, ok)
}

func TestDeleteDoesNotCompact(t *testing.T) {
	tbl := newTable(t)

	inum, err := tbl.Alloc()
	require.NoError(t, err)
	require.NoError(t, directory.Put(tbl, directory.RootInum, "a", int32(inum)))

	require.NoError(t, directory.Delete(tbl, directory.RootInum, "a"))

	_, ok := directory.Lookup(tbl, directory.RootInum, "a")
	require.False(t, ok)

	require.Error(t, directory.Delete(tbl, directory.RootInum, "a"))
}

func TestLongNameTruncatedTo48Bytes(t *testing.T) {
	tbl := newTable(t)

	inum, err := tbl.Alloc()
	require.NoError(t, err)

	long := ""
	for i := 0; i < 49; i++ {
		long += "x"
	}
	require.Len(t, long, 49)

	require.NoError(t, directory.Put(tbl, directory.RootInum, long, int32(inum)))

	truncated := long[:directory.NameLen]
	entry, ok := directory.Lookup(tbl, directory.RootInum, truncated)
	require.True(t, ok)
	require.EqualValues(t, inum, entry.Inum)
}

func TestTreeLookup(t *testing.T) {
	tbl := newTable(t)

	dirInum, err := tbl.Alloc()
	require.NoError(t, err)
	dirRec, _ := tbl.Get(dirInum)
	dirRec.Mode = modebits.Dir | 0o755
	tbl.Put(dirInum, dirRec)
	require.NoError(t, directory.Put(tbl, directory.RootInum, "sub", int32(dirInum)))

	fileInum, err := tbl.Alloc()
	require.NoError(t, err)
	require.NoError(t, directory.Put(tbl, dirInum, "leaf", int32(fileInum)))

	got, err := directory.TreeLookup(tbl, "/sub/leaf")
	require.NoError(t, err)
	require.EqualValues(t, fileInum, got)

	_, err = directory.TreeLookup(tbl, "/sub/missing")
	require.Error(t, err)

	root, err := directory.TreeLookup(tbl, "/")
	require.NoError(t, err)
	require.EqualValues(t, directory.RootInum, root)
}

func TestPutChainsIntoIndirectInodeWhenDirectSlotsFull(t *testing.T) {
	tbl := newTable(t)

	dirInum, err := tbl.Alloc()
	require.NoError(t, err)
	dirRec, _ := tbl.Get(dirInum)
	dirRec.Mode = modebits.Dir | 0o755
	tbl.Put(dirInum, dirRec)

	// Fill every direct page's entries (5 pages * 64 entries) plus one
	// more, to force an overflow inode. All entries alias the same
	// inode (as a hard-link directory would) so the test stays well
	// within the 256-slot inode table.
	fileInum, err := tbl.Alloc()
	require.NoError(t, err)

	const perPage = pages.Size / 64
	total := 5*perPage + 1

	for i := 0; i < total; i++ {
		require.NoError(t, directory.Put(tbl, dirInum, fmt.Sprintf("f%d", i), int32(fileInum)))
	}

	dirRec, _ = tbl.Get(dirInum)
	require.NotZero(t, dirRec.IPtr)

	names := directory.List(tbl, dirInum)
	require.Len(t, names, total)
}
