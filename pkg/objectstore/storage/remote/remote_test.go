package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/api"
	memorystorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/memory"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storage/remote"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

func newServer(t *testing.T, options ...api.HandlerOption) *httptest.Server {
	client, err := objectstore.New(memorystorage.New(), objectstore.WithBackendName("memory"))
	require.NoError(t, err)

	server := httptest.NewServer(api.NewHandler(client, options...).Routes())
	t.Cleanup(server.Close)
	return server
}

func TestRemoteBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) objectstore.Backend {
		server := newServer(t)
		backend, err := remote.New(remote.Config{BaseURL: server.URL}, remote.WithHTTPClient(server.Client()))
		require.NoError(t, err)
		return backend
	})
}

func TestRemoteBackendRequiresBaseURL(t *testing.T) {
	_, err := remote.New(remote.Config{})
	assert.Error(t, err)
}

func TestRemoteBackendAuth(t *testing.T) {
	const secret = "shared-secret"
	server := newServer(t, api.WithAuth(jwtauth.New("HS256", []byte(secret), nil)))
	ctx := context.Background()

	t.Run("NoToken", func(t *testing.T) {
		backend, err := remote.New(remote.Config{BaseURL: server.URL})
		require.NoError(t, err)
		client, err := objectstore.New(backend)
		require.NoError(t, err)

		_, err = client.CreateContainer(ctx, "secured")
		require.Error(t, err)
		assert.True(t, objectstore.IsAuth(err), "got %v", err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		backend, err := remote.New(remote.Config{BaseURL: server.URL, SigningSecret: "not-the-secret"})
		require.NoError(t, err)
		client, err := objectstore.New(backend)
		require.NoError(t, err)

		_, err = client.GetProperties(ctx, "secured")
		assert.True(t, objectstore.IsAuth(err), "got %v", err)
	})

	t.Run("SignedToken", func(t *testing.T) {
		backend, err := remote.New(remote.Config{BaseURL: server.URL, SigningSecret: secret, Subject: "tester"})
		require.NoError(t, err)
		client, err := objectstore.New(backend)
		require.NoError(t, err)

		_, err = client.CreateContainer(ctx, "secured")
		require.NoError(t, err)
		require.NoError(t, client.SetPublicAccess(ctx, "secured", objectstore.PublicAccessBlob))

		props, err := client.GetProperties(ctx, "secured")
		require.NoError(t, err)
		assert.Equal(t, objectstore.PublicAccessBlob, props.PublicAccess)
		require.NoError(t, client.DeleteContainer(ctx, "secured"))
	})
}

func TestRemoteBackendStatusWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/forbidden"):
			w.WriteHeader(http.StatusForbidden)
		case strings.HasSuffix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	backend, err := remote.New(remote.Config{BaseURL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = backend.GetContainerProperties(ctx, "forbidden")
	assert.ErrorIs(t, err, objectstore.ErrAuth)

	_, err = backend.GetContainerProperties(ctx, "missing")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = backend.GetContainerProperties(ctx, "other")
	assert.ErrorIs(t, err, objectstore.ErrTransient)
}

func TestRemoteBackendUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	backend, err := remote.New(remote.Config{BaseURL: url})
	require.NoError(t, err)

	_, err = backend.GetContainerMetadata(context.Background(), "gone")
	assert.ErrorIs(t, err, objectstore.ErrTransient)
}

func TestIssueToken(t *testing.T) {
	token, err := remote.IssueToken("secret", "tester", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))
}
