package pathutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nufsimage/nufs/internal/pathutil"
)

func TestSplit(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, pathutil.Split("/a/b"))
	require.Empty(t, pathutil.Split("/"))
}

func TestSplitParent(t *testing.T) {
	parent, name := pathutil.SplitParent("/a/b")
	require.Equal(t, "/a", parent)
	require.Equal(t, "b", name)

	parent, name = pathutil.SplitParent("/a")
	require.Equal(t, "/", parent)
	require.Equal(t, "a", name)

	parent, name = pathutil.SplitParent("/")
	require.Equal(t, "/", parent)
	require.Equal(t, "", name)
}

func TestJoin(t *testing.T) {
	require.Equal(t, "/a", pathutil.Join("/", "a"))
	require.Equal(t, "/a/b", pathutil.Join("/a", "b"))
}
