package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/metrics"
	fsstorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/fs"
	memorystorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/memory"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

// flakyBackend wraps the memory backend and fails selected calls.
type flakyBackend struct {
	*memorystorage.Backend
	propsFailures  atomic.Int32
	createFailures atomic.Int32
	propsCalls     atomic.Int32
	createCalls    atomic.Int32
	stuckMarker    bool
	shortBody      bool
}

func (f *flakyBackend) GetContainerProperties(ctx context.Context, name string) (*objectstore.ContainerProperties, error) {
	f.propsCalls.Add(1)
	if f.propsFailures.Add(-1) >= 0 {
		return nil, objectstore.NewError(objectstore.KindTransient, "service busy")
	}
	return f.Backend.GetContainerProperties(ctx, name)
}

func (f *flakyBackend) CreateContainer(ctx context.Context, name string) (*objectstore.Container, error) {
	f.createCalls.Add(1)
	if f.createFailures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.Backend.CreateContainer(ctx, name)
}

func (f *flakyBackend) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) (*objectstore.ObjectPage, error) {
	page, err := f.Backend.ListObjects(ctx, container, opts)
	if err == nil && f.stuckMarker {
		page.NextMarker = opts.Marker
		if page.NextMarker == "" {
			page.NextMarker = "stuck"
		}
	}
	return page, err
}

func (f *flakyBackend) GetObject(ctx context.Context, container, name string) (io.ReadCloser, *objectstore.ObjectEntry, error) {
	rc, entry, err := f.Backend.GetObject(ctx, container, name)
	if err == nil && f.shortBody {
		entry.Size += 10
	}
	return rc, entry, err
}

// bareBackend hides the optional AccessController of the memory backend.
type bareBackend struct {
	objectstore.Backend
}

type failingSink struct {
	bytes.Buffer
}

func (f *failingSink) Close() error { return errors.New("disk full") }

func newFlaky(t *testing.T, options ...objectstore.Option) (*objectstore.Client, *flakyBackend) {
	backend := &flakyBackend{Backend: memorystorage.New()}
	client, err := objectstore.New(backend, append([]objectstore.Option{objectstore.WithBackendName("flaky")}, options...)...)
	require.NoError(t, err)
	return client, backend
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := objectstore.New(nil)
	assert.Error(t, err)

	client, err := objectstore.New(memorystorage.New())
	require.NoError(t, err)
	assert.Equal(t, "memory", client.BackendName())
}

func TestDefaultBackendName(t *testing.T) {
	fsBackend, err := fsstorage.New(fsstorage.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	instrumented, err := metrics.Instrument(memorystorage.New(), "primary", prometheus.NewRegistry())
	require.NoError(t, err)

	tests := []struct {
		name    string
		backend objectstore.Backend
		want    string
	}{
		{name: "memory", backend: memorystorage.New(), want: "memory"},
		{name: "filesystem", backend: fsBackend, want: "fs"},
		{name: "named", backend: instrumented, want: "primary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := objectstore.New(tt.backend)
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.BackendName())

			_, err = client.GetProperties(context.Background(), "missing-container")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "on backend "+tt.want+" ")
		})
	}
}

func TestClientValidatesBeforeCallingBackend(t *testing.T) {
	client, backend := newFlaky(t)
	ctx := context.Background()

	_, err := client.CreateContainer(ctx, "Bad_Name")
	require.Error(t, err)
	assert.True(t, objectstore.IsValidation(err))
	assert.Equal(t, int32(0), backend.createCalls.Load())

	var oe *objectstore.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "create_container", oe.Op)
	assert.Equal(t, "flaky", oe.Backend)
	assert.Equal(t, "Bad_Name", oe.Container)

	err = client.SetMetadata(ctx, "valid-name", map[string]string{"bad key": "v"})
	assert.True(t, objectstore.IsValidation(err))

	src := storagetest.NewSource("data")
	_, err = client.UploadObject(ctx, "valid-name", "/abs", src)
	assert.True(t, objectstore.IsValidation(err))
	assert.True(t, src.IsClosed())

	sink := &storagetest.Buffer{}
	_, err = client.DownloadObject(ctx, "valid-name", "", sink)
	assert.True(t, objectstore.IsValidation(err))
	assert.True(t, sink.Closed)

	_, err = client.UploadObject(ctx, "valid-name", "a", nil)
	assert.True(t, objectstore.IsValidation(err))
	_, err = client.DownloadObject(ctx, "valid-name", "a", nil)
	assert.True(t, objectstore.IsValidation(err))
}

func TestClientRetriesIdempotentReads(t *testing.T) {
	policy := objectstore.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 2}
	client, backend := newFlaky(t, objectstore.WithRetryPolicy(policy))
	ctx := context.Background()

	_, err := client.CreateContainer(ctx, "retry-me")
	require.NoError(t, err)

	backend.propsFailures.Store(2)
	props, err := client.GetProperties(ctx, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, objectstore.PublicAccessNone, props.PublicAccess)
	assert.Equal(t, int32(3), backend.propsCalls.Load())

	backend.propsCalls.Store(0)
	backend.propsFailures.Store(10)
	_, err = client.GetProperties(ctx, "retry-me")
	assert.True(t, objectstore.IsTransient(err))
	assert.Equal(t, int32(4), backend.propsCalls.Load())
}

func TestClientDoesNotRetryCreate(t *testing.T) {
	policy := objectstore.RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond}
	client, backend := newFlaky(t, objectstore.WithRetryPolicy(policy))

	backend.createFailures.Store(1)
	_, err := client.CreateContainer(context.Background(), "once-only")
	require.Error(t, err)
	assert.True(t, objectstore.IsTransient(err), "unclassified errors are transient")
	assert.Equal(t, int32(1), backend.createCalls.Load())
}

func TestClientNoRetryByDefault(t *testing.T) {
	client, backend := newFlaky(t)
	_, err := client.CreateContainer(context.Background(), "no-retry")
	require.NoError(t, err)

	backend.propsFailures.Store(1)
	_, err = client.GetProperties(context.Background(), "no-retry")
	assert.True(t, objectstore.IsTransient(err))
	assert.Equal(t, int32(1), backend.propsCalls.Load())
}

func TestDownloadReportsSinkCloseFailure(t *testing.T) {
	client, _ := newFlaky(t)
	ctx := context.Background()
	_, err := client.CreateContainer(ctx, "sink-test")
	require.NoError(t, err)
	_, err = client.UploadObject(ctx, "sink-test", "a.txt", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)

	sink := &failingSink{}
	entry, err := client.DownloadObject(ctx, "sink-test", "a.txt", sink)
	require.Error(t, err)
	assert.Nil(t, entry)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, "payload", sink.String())
}

func TestDownloadDetectsShortRead(t *testing.T) {
	client, backend := newFlaky(t)
	ctx := context.Background()
	_, err := client.CreateContainer(ctx, "short-read")
	require.NoError(t, err)
	_, err = client.UploadObject(ctx, "short-read", "a.txt", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)

	backend.shortBody = true
	sink := &storagetest.Buffer{}
	_, err = client.DownloadObject(ctx, "short-read", "a.txt", sink)
	assert.True(t, objectstore.IsTransient(err))
	assert.True(t, sink.Closed)
}

func TestDownloadCancelled(t *testing.T) {
	client, _ := newFlaky(t)
	ctx := context.Background()
	_, err := client.CreateContainer(ctx, "cancelled")
	require.NoError(t, err)
	_, err = client.UploadObject(ctx, "cancelled", "a.txt", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	sink := &storagetest.Buffer{}
	_, err = client.DownloadObject(cctx, "cancelled", "a.txt", sink)
	require.Error(t, err)
	assert.True(t, objectstore.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sink.Closed)
}

func TestListDetectsStuckMarker(t *testing.T) {
	client, backend := newFlaky(t, objectstore.WithPageSize(1))
	ctx := context.Background()
	_, err := client.CreateContainer(ctx, "stuck")
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := client.UploadObject(ctx, "stuck", name, io.NopCloser(strings.NewReader(name)))
		require.NoError(t, err)
	}

	backend.stuckMarker = true
	var errs []error
	for _, err := range client.ListObjects(ctx, "stuck") {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.True(t, objectstore.IsTransient(errs[0]))
}

func TestSetPublicAccess(t *testing.T) {
	ctx := context.Background()

	client, err := objectstore.New(memorystorage.New())
	require.NoError(t, err)
	_, err = client.CreateContainer(ctx, "public")
	require.NoError(t, err)

	require.NoError(t, client.SetPublicAccess(ctx, "public", objectstore.PublicAccessContainer))
	props, err := client.GetProperties(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, objectstore.PublicAccessContainer, props.PublicAccess)

	err = client.SetPublicAccess(ctx, "public", objectstore.PublicAccess("everyone"))
	assert.True(t, objectstore.IsValidation(err))

	bare, err := objectstore.New(bareBackend{memorystorage.New()})
	require.NoError(t, err)
	err = bare.SetPublicAccess(ctx, "public", objectstore.PublicAccessBlob)
	assert.True(t, objectstore.IsValidation(err))
}

func TestCreateScopedContainer(t *testing.T) {
	ctx := context.Background()
	client, err := objectstore.New(memorystorage.New())
	require.NoError(t, err)

	scope := objectstore.NewScope()
	_, err = client.CreateScopedContainer(ctx, scope, "scoped")
	require.NoError(t, err)
	assert.Equal(t, 1, scope.Len())

	require.NoError(t, scope.Close(ctx))
	_, err = client.GetProperties(ctx, "scoped")
	assert.True(t, objectstore.IsNotFound(err))
}

func TestCreateScopedContainerAlreadyDeleted(t *testing.T) {
	ctx := context.Background()
	client, err := objectstore.New(memorystorage.New())
	require.NoError(t, err)

	scope := objectstore.NewScope()
	_, err = client.CreateScopedContainer(ctx, scope, "scoped")
	require.NoError(t, err)
	require.NoError(t, client.DeleteContainer(ctx, "scoped"))

	assert.NoError(t, scope.Close(ctx))
}
