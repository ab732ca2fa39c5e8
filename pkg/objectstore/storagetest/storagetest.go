// Package storagetest holds the behaviour every objectstore backend must
// share. Backend packages run it from their own tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/naming"
)

// Factory returns a ready backend. It is called once per subtest.
type Factory func(t *testing.T) objectstore.Backend

// Buffer is an io.WriteCloser over a bytes.Buffer that records Close.
type Buffer struct {
	bytes.Buffer
	Closed bool
}

func (b *Buffer) Close() error {
	b.Closed = true
	return nil
}

// Source is an io.ReadCloser over a string that records Close.
type Source struct {
	*strings.Reader
	mu     sync.Mutex
	closed bool
}

// NewSource returns a Source over s
func NewSource(s string) *Source {
	return &Source{Reader: strings.NewReader(s)}
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IsClosed reports whether Close was called
func (s *Source) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// cancelingReader cancels its context after handing out the first chunk
type cancelingReader struct {
	cancel context.CancelFunc
	sent   bool
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, context.Canceled
	}
	r.sent = true
	n := copy(p, "partial payload")
	r.cancel()
	return n, nil
}

func (r *cancelingReader) Close() error { return nil }

// NewContainer creates a uniquely named container and removes it when the
// test ends.
func NewContainer(t *testing.T, client *objectstore.Client) string {
	t.Helper()
	name, err := naming.ContainerName("ct-")
	require.NoError(t, err)

	_, err = client.CreateContainer(context.Background(), name)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := client.DeleteContainer(context.Background(), name)
		if err != nil && !objectstore.IsNotFound(err) {
			t.Errorf("cleanup of container %s: %v", name, err)
		}
	})
	return name
}

func upload(t *testing.T, client *objectstore.Client, container, name, payload string) *objectstore.ObjectEntry {
	t.Helper()
	entry, err := client.UploadObject(context.Background(), container, name, NewSource(payload))
	require.NoError(t, err)
	return entry
}

func download(t *testing.T, client *objectstore.Client, container, name string) string {
	t.Helper()
	var buf Buffer
	_, err := client.DownloadObject(context.Background(), container, name, &buf)
	require.NoError(t, err)
	assert.True(t, buf.Closed)
	return buf.String()
}

// Run executes the shared backend behaviour against backends built by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	newClient := func(t *testing.T, options ...objectstore.Option) *objectstore.Client {
		client, err := objectstore.New(factory(t), options...)
		require.NoError(t, err)
		return client
	}

	t.Run("FreshContainer", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		props, err := client.GetProperties(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, objectstore.PublicAccessNone, props.PublicAccess)
		assert.False(t, props.LastModified.IsZero())

		md, err := client.GetMetadata(ctx, name)
		require.NoError(t, err)
		assert.NotNil(t, md)
		assert.Empty(t, md)

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		_, err := client.CreateContainer(ctx, name)
		require.Error(t, err)
		assert.True(t, objectstore.IsConflict(err), "got %v", err)
	})

	t.Run("MetadataReplace", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		require.NoError(t, client.SetMetadata(ctx, name, map[string]string{"docType": "textDocuments", "category": "guidance"}))
		md, err := client.GetMetadata(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"docType": "textDocuments", "category": "guidance"}, md)

		require.NoError(t, client.SetMetadata(ctx, name, map[string]string{"category": "reference"}))
		md, err = client.GetMetadata(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"category": "reference"}, md)

		require.NoError(t, client.SetMetadata(ctx, name, map[string]string{}))
		md, err = client.GetMetadata(ctx, name)
		require.NoError(t, err)
		assert.Empty(t, md)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		entry := upload(t, client, name, "hello.txt", "Hello, World!")
		assert.Equal(t, "hello.txt", entry.Name)
		assert.Equal(t, int64(len("Hello, World!")), entry.Size)
		assert.Equal(t, "Hello, World!", download(t, client, name, "hello.txt"))

		upload(t, client, name, "empty.bin", "")
		assert.Equal(t, "", download(t, client, name, "empty.bin"))

		upload(t, client, name, "docs/2024/report.txt", "nested")
		assert.Equal(t, "nested", download(t, client, name, "docs/2024/report.txt"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		upload(t, client, name, "a", "first version")
		upload(t, client, name, "a", "second")
		assert.Equal(t, "second", download(t, client, name, "a"))

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names)
	})

	t.Run("NestedNamesCoexist", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		for _, obj := range []string{"a", "a/b", "x/y", "x"} {
			upload(t, client, name, obj, "payload of "+obj)
		}

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "a/b", "x", "x/y"}, names)
		for _, obj := range names {
			assert.Equal(t, "payload of "+obj, download(t, client, name, obj))
		}
	})

	t.Run("ListExactlyUploaded", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.Empty(t, names)

		upload(t, client, name, "b", "2")
		upload(t, client, name, "a", "1")

		names, err = client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		sort.Strings(names)
		assert.Equal(t, []string{"a", "b"}, names)
	})

	t.Run("ListPaginates", func(t *testing.T) {
		client := newClient(t, objectstore.WithPageSize(2))
		name := NewContainer(t, client)

		var want []string
		for i := 0; i < 7; i++ {
			obj := fmt.Sprintf("obj-%02d", i)
			upload(t, client, name, obj, obj)
			want = append(want, obj)
		}

		// ranging twice restarts the enumeration
		for pass := 0; pass < 2; pass++ {
			var got []string
			for entry, err := range client.ListObjects(ctx, name) {
				require.NoError(t, err)
				assert.Equal(t, name, entry.Container)
				assert.Equal(t, int64(len(entry.Name)), entry.Size)
				got = append(got, entry.Name)
			}
			assert.Equal(t, want, got)
		}
	})

	t.Run("ListStopsEarly", func(t *testing.T) {
		client := newClient(t, objectstore.WithPageSize(1))
		name := NewContainer(t, client)
		upload(t, client, name, "a", "1")
		upload(t, client, name, "b", "2")

		count := 0
		for _, err := range client.ListObjects(ctx, name) {
			require.NoError(t, err)
			count++
			break
		}
		assert.Equal(t, 1, count)
	})

	t.Run("DeleteObject", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)
		upload(t, client, name, "a", "1")

		require.NoError(t, client.DeleteObject(ctx, name, "a"))
		err := client.DeleteObject(ctx, name, "a")
		assert.True(t, objectstore.IsNotFound(err), "got %v", err)

		var buf Buffer
		_, err = client.DownloadObject(ctx, name, "a", &buf)
		assert.True(t, objectstore.IsNotFound(err), "got %v", err)
		assert.True(t, buf.Closed)
	})

	t.Run("DeleteContainerTwice", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)
		upload(t, client, name, "a", "1")

		require.NoError(t, client.DeleteContainer(ctx, name))
		err := client.DeleteContainer(ctx, name)
		assert.True(t, objectstore.IsNotFound(err), "got %v", err)
	})

	t.Run("DeletedContainerIsGone", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)
		require.NoError(t, client.DeleteContainer(ctx, name))

		_, err := client.GetProperties(ctx, name)
		assert.True(t, objectstore.IsNotFound(err), "get properties: %v", err)
		_, err = client.GetMetadata(ctx, name)
		assert.True(t, objectstore.IsNotFound(err), "get metadata: %v", err)
		err = client.SetMetadata(ctx, name, map[string]string{"k": "v"})
		assert.True(t, objectstore.IsNotFound(err), "set metadata: %v", err)
		_, err = client.ListObjectNames(ctx, name)
		assert.True(t, objectstore.IsNotFound(err), "list: %v", err)

		src := NewSource("data")
		_, err = client.UploadObject(ctx, name, "a", src)
		assert.True(t, objectstore.IsNotFound(err), "upload: %v", err)
		assert.True(t, src.IsClosed())

		var sink Buffer
		_, err = client.DownloadObject(ctx, name, "a", &sink)
		assert.True(t, objectstore.IsNotFound(err), "download: %v", err)
		assert.True(t, sink.Closed)

		err = client.DeleteObject(ctx, name, "a")
		assert.True(t, objectstore.IsNotFound(err), "delete object: %v", err)
	})

	t.Run("CancelledUploadLeavesNothing", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		_, err := client.UploadObject(cctx, name, "partial", &cancelingReader{cancel: cancel})
		require.Error(t, err)
		assert.True(t, objectstore.IsTransient(err), "got %v", err)

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.NotContains(t, names, "partial")
	})

	t.Run("ConcurrentUploads", func(t *testing.T) {
		client := newClient(t)
		name := NewContainer(t, client)

		g, gctx := errgroup.WithContext(ctx)
		want := make([]string, 8)
		for i := range want {
			obj := fmt.Sprintf("worker-%d.txt", i)
			want[i] = obj
			g.Go(func() error {
				_, err := client.UploadObject(gctx, name, obj, NewSource("payload from "+obj))
				return err
			})
		}
		require.NoError(t, g.Wait())

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, names)
		for _, obj := range want {
			assert.Equal(t, "payload from "+obj, download(t, client, name, obj))
		}
	})

	t.Run("EndToEnd", func(t *testing.T) {
		client := newClient(t)
		name, err := naming.ContainerName("t1-")
		require.NoError(t, err)

		_, err = client.CreateContainer(ctx, name)
		require.NoError(t, err)

		upload(t, client, name, "hello.txt", "Hello, World!")

		names, err := client.ListObjectNames(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello.txt"}, names)

		assert.Equal(t, "Hello, World!", download(t, client, name, "hello.txt"))

		require.NoError(t, client.DeleteContainer(ctx, name))
		_, err = client.GetProperties(ctx, name)
		assert.True(t, objectstore.IsNotFound(err), "got %v", err)
	})
}

// ReadAll drains rc and closes it
func ReadAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
