package imagefile_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nufsimage/nufs/internal/imagefile"
)

func TestOpenCreatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.nufs")

	img, err := imagefile.Open(path, 4096*16)
	require.NoError(t, err)

	data := img.Bytes()
	require.Len(t, data, 4096*16)

	data[0] = 0xAB
	require.NoError(t, img.Close())

	img2, err := imagefile.Open(path, 4096*16)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, img2.Close())
	})

	require.Equal(t, byte(0xAB), img2.Bytes()[0])
}

func TestOpenRejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.nufs")

	img, err := imagefile.Open(path, 4096*16)
	require.NoError(t, err)
	require.NoError(t, img.Close())

	_, err = imagefile.Open(path, 4096*32)
	require.Error(t, err)
}
