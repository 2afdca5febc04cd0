package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	l, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestLocalStorage_PutGetDelete(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	objectPath := "snapshots/ks/v1.json.sz"

	require.NoError(t, l.Put(ctx, objectPath, []byte("first")))
	require.NoError(t, l.Put(ctx, objectPath, []byte("second")))

	got, err := l.Get(ctx, objectPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, l.Delete(ctx, objectPath))
	_, err = l.Get(ctx, objectPath)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// deleting again is fine
	assert.NoError(t, l.Delete(ctx, objectPath))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"", "../outside", "a/../../b", "/abs"} {
		assert.ErrorIs(t, l.Put(ctx, p, []byte("x")), ErrInvalidPath, p)
		_, err := l.Get(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestLocalStorage_List(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"snapshots/b/v2", "snapshots/a/v1", "other/x"} {
		require.NoError(t, l.Put(ctx, p, []byte(p)))
	}
	// an interrupted write leaves a temp file behind
	require.NoError(t, os.WriteFile(filepath.Join(l.root, "snapshots", "a", tempPrefix+"123"), []byte("partial"), 0644))

	objects, err := l.List(ctx, "snapshots/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "snapshots/a/v1", objects[0].Path)
	assert.Equal(t, "snapshots/b/v2", objects[1].Path)
	assert.Equal(t, int64(len("snapshots/a/v1")), objects[0].Size)
	assert.False(t, objects[0].ModTime.IsZero())

	all, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := l.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalStorage_ContextCancelled(t *testing.T) {
	l := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Put(ctx, "x", []byte("y")), context.Canceled)
	_, err := l.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchAll(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	var paths []string
	for i := 0; i < 10; i++ {
		p := fmt.Sprintf("obj%d", i)
		require.NoError(t, l.Put(ctx, p, []byte(p)))
		paths = append(paths, p)
	}
	paths = append(paths, "missing")

	result, err := FetchAll(ctx, l, paths, 3)
	require.NoError(t, err)
	assert.Len(t, result.Objects, 10)
	assert.Equal(t, "obj7", string(result.Objects["obj7"]))
	assert.ErrorIs(t, result.Errors["missing"], ErrObjectNotFound)
}

func TestFetchAllCancelled(t *testing.T) {
	l := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchAll(ctx, l, []string{"a", "b"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
