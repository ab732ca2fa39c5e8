package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-objectstore/pkg/objectstore"
	memorystorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/memory"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) objectstore.Backend {
		return memorystorage.New()
	})
}

func TestMemoryBackendDirect(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	_, err := backend.CreateContainer(ctx, "direct")
	require.NoError(t, err)

	t.Run("MetadataIsCopied", func(t *testing.T) {
		md := map[string]string{"key": "value"}
		require.NoError(t, backend.SetContainerMetadata(ctx, "direct", md))
		md["key"] = "changed"

		got, err := backend.GetContainerMetadata(ctx, "direct")
		require.NoError(t, err)
		assert.Equal(t, "value", got["key"])

		got["key"] = "mutated"
		again, err := backend.GetContainerMetadata(ctx, "direct")
		require.NoError(t, err)
		assert.Equal(t, "value", again["key"])
	})

	t.Run("SetPublicAccess", func(t *testing.T) {
		require.NoError(t, backend.SetPublicAccess(ctx, "direct", objectstore.PublicAccessBlob))
		props, err := backend.GetContainerProperties(ctx, "direct")
		require.NoError(t, err)
		assert.Equal(t, objectstore.PublicAccessBlob, props.PublicAccess)
	})

	t.Run("ListMarker", func(t *testing.T) {
		for _, name := range []string{"c", "a", "b"} {
			_, err := backend.PutObject(ctx, "direct", name, strings.NewReader(name))
			require.NoError(t, err)
		}

		page, err := backend.ListObjects(ctx, "direct", objectstore.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Entries, 2)
		assert.Equal(t, "a", page.Entries[0].Name)
		assert.Equal(t, "b", page.NextMarker)

		page, err = backend.ListObjects(ctx, "direct", objectstore.ListOptions{Marker: page.NextMarker, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "c", page.Entries[0].Name)
		assert.Empty(t, page.NextMarker)
	})

	t.Run("MissingContainer", func(t *testing.T) {
		_, err := backend.GetContainerProperties(ctx, "missing")
		assert.ErrorIs(t, err, objectstore.ErrNotFound)

		_, _, err = backend.GetObject(ctx, "direct", "missing")
		assert.ErrorIs(t, err, objectstore.ErrNotFound)
	})
}
