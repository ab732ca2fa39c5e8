package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	memorystorage "github.com/tendant/simple-objectstore/pkg/objectstore/storage/memory"
)

func setupHandlerTest(t *testing.T, options ...HandlerOption) http.Handler {
	client, err := objectstore.New(memorystorage.New(), objectstore.WithBackendName("memory"))
	require.NoError(t, err)
	return NewHandler(client, options...).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandler_ContainerLifecycle(t *testing.T) {
	h := setupHandlerTest(t)

	w := do(t, h, http.MethodPut, "/containers/docs", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var container objectstore.Container
	require.NoError(t, json.NewDecoder(w.Body).Decode(&container))
	assert.Equal(t, "docs", container.Name)
	assert.Equal(t, objectstore.PublicAccessNone, container.PublicAccess)

	w = do(t, h, http.MethodPut, "/containers/docs", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, objectstore.KindConflict, decodeError(t, w).Kind)

	w = do(t, h, http.MethodGet, "/containers/docs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var props objectstore.ContainerProperties
	require.NoError(t, json.NewDecoder(w.Body).Decode(&props))
	assert.Equal(t, objectstore.PublicAccessNone, props.PublicAccess)

	w = do(t, h, http.MethodPut, "/containers/docs/metadata", `{"docType":"textDocuments"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/containers/docs/metadata", "")
	require.Equal(t, http.StatusOK, w.Code)
	var md map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&md))
	assert.Equal(t, map[string]string{"docType": "textDocuments"}, md)

	w = do(t, h, http.MethodPut, "/containers/docs/access", `{"public_access":"blob"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodDelete, "/containers/docs", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodDelete, "/containers/docs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, objectstore.KindNotFound, decodeError(t, w).Kind)
}

func TestHandler_Objects(t *testing.T) {
	h := setupHandlerTest(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/containers/files", "").Code)

	w := do(t, h, http.MethodPut, "/containers/files/objects/hello.txt", "Hello, World!")
	require.Equal(t, http.StatusCreated, w.Code)
	var entry objectstore.ObjectEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, "hello.txt", entry.Name)
	assert.Equal(t, int64(13), entry.Size)

	w = do(t, h, http.MethodPut, "/containers/files/objects/dir/nested%20name.txt", "nested")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodGet, "/containers/files/objects/hello.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello, World!", w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	w = do(t, h, http.MethodGet, "/containers/files/objects/dir/nested%20name.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nested", w.Body.String())

	w = do(t, h, http.MethodGet, "/containers/files/objects?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page objectstore.ObjectPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "dir/nested name.txt", page.Entries[0].Name)
	assert.Equal(t, "dir/nested name.txt", page.NextMarker)

	w = do(t, h, http.MethodGet, "/containers/files/objects?limit=1&marker=dir%2Fnested+name.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	page = objectstore.ObjectPage{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "hello.txt", page.Entries[0].Name)
	assert.Empty(t, page.NextMarker)

	w = do(t, h, http.MethodDelete, "/containers/files/objects/hello.txt", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/containers/files/objects/hello.txt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, objectstore.KindNotFound, decodeError(t, w).Kind)
}

func TestHandler_EmptyObject(t *testing.T) {
	h := setupHandlerTest(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/containers/files", "").Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPut, "/containers/files/objects/empty", "").Code)

	w := do(t, h, http.MethodGet, "/containers/files/objects/empty", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestHandler_Validation(t *testing.T) {
	h := setupHandlerTest(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "bad container name", method: http.MethodPut, path: "/containers/Bad_Name"},
		{name: "short container name", method: http.MethodPut, path: "/containers/t1"},
		{name: "bad limit", method: http.MethodGet, path: "/containers/files/objects?limit=abc"},
		{name: "bad metadata body", method: http.MethodPut, path: "/containers/files/metadata", body: "not json"},
		{name: "bad metadata key", method: http.MethodPut, path: "/containers/files/metadata", body: `{"bad key":"v"}`},
		{name: "bad access level", method: http.MethodPut, path: "/containers/files/access", body: `{"public_access":"everyone"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, objectstore.KindValidation, decodeError(t, w).Kind)
		})
	}
}

func TestHandler_Auth(t *testing.T) {
	auth := jwtauth.New("HS256", []byte("test-secret"), nil)
	h := setupHandlerTest(t, WithAuth(auth))

	w := do(t, h, http.MethodPut, "/containers/secured", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, objectstore.KindAuth, decodeError(t, w).Kind)

	_, token, err := auth.Encode(map[string]interface{}{"sub": "tester"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/containers/secured", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	other := jwtauth.New("HS256", []byte("other-secret"), nil)
	_, forged, err := other.Encode(map[string]interface{}{"sub": "tester"})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/containers/secured", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusKindMapping(t *testing.T) {
	for _, kind := range []objectstore.Kind{
		objectstore.KindValidation,
		objectstore.KindAuth,
		objectstore.KindNotFound,
		objectstore.KindConflict,
		objectstore.KindTransient,
	} {
		assert.Equal(t, kind, KindForStatus(StatusForKind(kind)), kind)
	}
	assert.Equal(t, objectstore.KindAuth, KindForStatus(http.StatusForbidden))
	assert.Equal(t, objectstore.KindTransient, KindForStatus(http.StatusInternalServerError))
}
