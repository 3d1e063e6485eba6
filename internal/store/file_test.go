package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()

	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := f.Get(ctx, "harvest/progress")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.Put(ctx, "harvest/progress", []byte(`{"a":1}`)))

	got, ok, err := f.Get(ctx, "harvest/progress")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"a":1}`, string(got))

	require.NoError(t, f.Delete(ctx, "harvest/progress"))
	_, ok, err = f.Get(ctx, "harvest/progress")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFile_DeleteMissingKeyIsNotAnError(t *testing.T) {
	t.Parallel()

	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, f.Delete(context.Background(), "never-written"))
}

func TestFile_SanitizesKeysIntoFilenames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, f.Put(context.Background(), "harvest/candidates/abc", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "harvest_candidates_abc.json", filepath.Base(entries[0].Name()))
}

func TestFile_RequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := NewFile("  ")
	require.Error(t, err)
}

func TestMemory_RoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "k", []byte("v")))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	// Mutating the returned slice must not corrupt the stored value.
	got[0] = 'x'
	again, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), again)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
