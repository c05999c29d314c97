package combivox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelCache(t *testing.T) {
	cache := NewLabelCache(t.TempDir(), "192.168.1.10:80")

	_, ok, err := cache.Load()
	require.NoError(t, err)
	require.False(t, ok)

	labels := Labels{
		Zones:   map[int]string{1: "Portoncino"},
		Areas:   map[int]string{1: "Casa"},
		Macros:  map[int]string{3: "Notte"},
		Outputs: map[int]Output{2: {Name: "Luci", Kind: OutputSwitch}},
	}
	require.NoError(t, cache.Save(labels))

	got, ok, err := cache.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, labels, got)

	require.NoError(t, cache.Delete())
	_, ok, err = cache.Load()
	require.NoError(t, err)
	require.False(t, ok)

	// deleting again is not an error
	require.NoError(t, cache.Delete())
}

func TestLabelCacheCorrupt(t *testing.T) {
	dir := t.TempDir()
	cache := NewLabelCache(dir, "panel")
	path, err := cache.path()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, _, err = cache.Load()
	require.Error(t, err)
}
