package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/config"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storage/remote"
	"github.com/tendant/simple-objectstore/pkg/objectstore/storagetest"
)

func newTestServer(t *testing.T, opts ...config.Option) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg, err := config.Load(append(opts, config.WithMetrics(reg))...)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, release, err := cfg.BuildClient(context.Background(), logger)
	require.NoError(t, err)
	t.Cleanup(release)

	ts := httptest.NewServer(NewRouter(chi.NewRouter(), client, cfg, logger, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRemoteClientAgainstServer(t *testing.T) {
	ts := newTestServer(t)

	backend, err := remote.New(remote.Config{BaseURL: ts.URL + APIPrefix})
	require.NoError(t, err)
	client, err := objectstore.New(backend)
	require.NoError(t, err)

	ctx := context.Background()
	container := storagetest.NewContainer(t, client)
	_, err = client.UploadObject(ctx, container, "hello.txt", storagetest.NewSource("Hello, World!"))
	require.NoError(t, err)

	names, err := client.ListObjectNames(ctx, container)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt"}, names)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `objectstore_operations_total{backend="memory",operation="upload",outcome="ok"} 1`)
}

func TestServerRequiresTokenWhenSecretSet(t *testing.T) {
	ts := newTestServer(t, config.WithServer("8080", "server-secret"))

	resp, err := http.Get(ts.URL + APIPrefix + "/containers/any-name")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	backend, err := remote.New(remote.Config{
		BaseURL:       ts.URL + APIPrefix,
		SigningSecret: "server-secret",
		Subject:       "test",
		Timeout:       time.Minute,
	})
	require.NoError(t, err)
	client, err := objectstore.New(backend)
	require.NoError(t, err)

	_, err = client.GetProperties(context.Background(), "missing-container")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health checks stay public")
}
