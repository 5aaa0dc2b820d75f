package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nufsimage/nufs/internal/bitmap"
)

func TestGetPut(t *testing.T) {
	region := make([]byte, 4)

	require.Equal(t, 0, bitmap.Get(region, 0))

	bitmap.Put(region, 0, 1)
	require.Equal(t, 1, bitmap.Get(region, 0))
	require.Equal(t, byte(0x01), region[0])

	bitmap.Put(region, 9, 1)
	require.Equal(t, 1, bitmap.Get(region, 9))
	require.Equal(t, byte(0x02), region[1])

	bitmap.Put(region, 0, 0)
	require.Equal(t, 0, bitmap.Get(region, 0))
}

func TestFirstClear(t *testing.T) {
	region := make([]byte, 2)

	require.Equal(t, 0, bitmap.FirstClear(region, 16))

	for i := 0; i < 8; i++ {
		bitmap.Put(region, i, 1)
	}
	require.Equal(t, 8, bitmap.FirstClear(region, 16))

	for i := 0; i < 16; i++ {
		bitmap.Put(region, i, 1)
	}
	require.Equal(t, -1, bitmap.FirstClear(region, 16))
}
