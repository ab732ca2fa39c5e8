package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-objectstore/pkg/objectstore"
	fsstorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/fs"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

func newBackend(t *testing.T) *fsstorage.Backend {
	backend, err := fsstorage.New(fsstorage.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return backend
}

func TestFSBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) objectstore.Backend {
		return newBackend(t)
	})
}

func TestFSBackendRequiresBaseDir(t *testing.T) {
	_, err := fsstorage.New(fsstorage.Config{})
	assert.Error(t, err)
}

func TestFSBackendLayout(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	_, err := backend.CreateContainer(ctx, "layout")
	require.NoError(t, err)

	_, err = backend.PutObject(ctx, "layout", "docs/readme.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	t.Run("FilesOnDisk", func(t *testing.T) {
		assert.FileExists(t, filepath.Join(backend.BaseDir(), "layout", "container.json"))
		data, err := os.ReadFile(filepath.Join(backend.BaseDir(), "layout", "objects", "docs%2Freadme.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		tmp, err := os.ReadDir(filepath.Join(backend.BaseDir(), "layout", "tmp"))
		require.NoError(t, err)
		assert.Empty(t, tmp, "no upload leftovers")
	})

	t.Run("MetadataSurvivesReopen", func(t *testing.T) {
		require.NoError(t, backend.SetContainerMetadata(ctx, "layout", map[string]string{"docType": "text"}))
		require.NoError(t, backend.SetPublicAccess(ctx, "layout", objectstore.PublicAccessContainer))

		reopened, err := fsstorage.New(fsstorage.Config{BaseDir: backend.BaseDir()})
		require.NoError(t, err)

		md, err := reopened.GetContainerMetadata(ctx, "layout")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"docType": "text"}, md)

		props, err := reopened.GetContainerProperties(ctx, "layout")
		require.NoError(t, err)
		assert.Equal(t, objectstore.PublicAccessContainer, props.PublicAccess)
		assert.False(t, props.LastModified.Before(props.CreatedAt))
	})

	t.Run("DeleteRemovesFile", func(t *testing.T) {
		require.NoError(t, backend.DeleteObject(ctx, "layout", "docs/readme.txt"))
		assert.NoFileExists(t, filepath.Join(backend.BaseDir(), "layout", "objects", "docs%2Freadme.txt"))
		assert.DirExists(t, filepath.Join(backend.BaseDir(), "layout", "objects"))
	})

	t.Run("NestedNamesCoexist", func(t *testing.T) {
		_, err := backend.PutObject(ctx, "layout", "dir/child", strings.NewReader("x"))
		require.NoError(t, err)
		_, err = backend.PutObject(ctx, "layout", "dir", strings.NewReader("y"))
		require.NoError(t, err)
		_, err = backend.PutObject(ctx, "layout", "100%/done", strings.NewReader("z"))
		require.NoError(t, err)

		page, err := backend.ListObjects(ctx, "layout", objectstore.ListOptions{})
		require.NoError(t, err)
		var names []string
		for _, entry := range page.Entries {
			names = append(names, entry.Name)
		}
		assert.Equal(t, []string{"100%/done", "dir", "dir/child"}, names)

		rc, _, err := backend.GetObject(ctx, "layout", "100%/done")
		require.NoError(t, err)
		assert.Equal(t, "z", storagetest.ReadAll(t, rc))
	})

	t.Run("NameTooLongForFilesystem", func(t *testing.T) {
		_, err := backend.PutObject(ctx, "layout", strings.Repeat("n", 300), strings.NewReader("x"))
		assert.ErrorIs(t, err, objectstore.ErrValidation)

		tmp, err := os.ReadDir(filepath.Join(backend.BaseDir(), "layout", "tmp"))
		require.NoError(t, err)
		assert.Empty(t, tmp)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := backend.PutObject(ctx, "layout", "../escape", strings.NewReader("x"))
		assert.ErrorIs(t, err, objectstore.ErrValidation)

		_, err = backend.CreateContainer(ctx, "../up")
		assert.ErrorIs(t, err, objectstore.ErrValidation)
	})

	t.Run("DeleteContainerRemovesData", func(t *testing.T) {
		require.NoError(t, backend.DeleteContainer(ctx, "layout"))
		assert.NoDirExists(t, filepath.Join(backend.BaseDir(), "layout"))

		entries, err := os.ReadDir(filepath.Join(backend.BaseDir(), ".trash"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
