package pages_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nufsimage/nufs/internal/imagefile"
	"github.com/nufsimage/nufs/internal/pages"
)

func newAllocator(t *testing.T) *pages.Allocator {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.nufs")
	img, err := imagefile.Open(path, pages.NufsSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, img.Close())
	})

	a, err := pages.Open(img)
	require.NoError(t, err)
	return a
}

func TestPage0IsReserved(t *testing.T) {
	a := newAllocator(t)

	idx, err := a.AllocPage()
	require.NoError(t, err)
	require.NotEqual(t, 0, idx)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newAllocator(t)

	idx, err := a.AllocPage()
	require.NoError(t, err)

	a.FreePage(idx)

	idx2, err := a.AllocPage()
	require.NoError(t, err)
	require.Equal(t, idx, idx2, "freed page should be reused first (lowest clear bit)")
}

func TestAllocExhaustion(t *testing.T) {
	a := newAllocator(t)

	var last error
	count := 0
	for {
		_, err := a.AllocPage()
		if err != nil {
			last = err
			break
		}
		count++
		if count > pages.Count+1 {
			t.Fatal("allocator never exhausted")
		}
	}
	require.ErrorIs(t, last, pages.ErrNoSpace)
	// Page 0 is reserved up front, so Count-1 further pages are
	// available.
	require.Equal(t, pages.Count-1, count)
}

func TestPageWindowIsLiveOverImage(t *testing.T) {
	a := newAllocator(t)

	idx, err := a.AllocPage()
	require.NoError(t, err)

	page := a.Page(idx)
	page[0] = 0x42

	require.Equal(t, byte(0x42), a.Page(idx)[0])
}
