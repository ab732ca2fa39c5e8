package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

const (
	// DefaultListLimit is used when a listing request has no limit
	DefaultListLimit = 100

	// MaxListLimit caps the limit of a listing request
	MaxListLimit = 1000
)

// Handler exposes an objectstore.Client over HTTP
type Handler struct {
	client *objectstore.Client
	logger *slog.Logger
	auth   *jwtauth.JWTAuth
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger used for request failures
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAuth requires a valid bearer token signed by auth on every route
func WithAuth(auth *jwtauth.JWTAuth) HandlerOption {
	return func(h *Handler) {
		h.auth = auth
	}
}

func NewHandler(client *objectstore.Client, options ...HandlerOption) *Handler {
	h := &Handler{
		client: client,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes returns the router for container and object endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.auth != nil {
		r.Use(jwtauth.Verifier(h.auth))
		r.Use(h.authenticate)
	}

	r.Route("/containers/{container}", func(r chi.Router) {
		r.Put("/", h.CreateContainer)
		r.Get("/", h.GetProperties)
		r.Delete("/", h.DeleteContainer)
		r.Get("/metadata", h.GetMetadata)
		r.Put("/metadata", h.SetMetadata)
		r.Put("/access", h.SetPublicAccess)
		r.Get("/objects", h.ListObjects)
		r.Put("/objects/*", h.UploadObject)
		r.Get("/objects/*", h.DownloadObject)
		r.Delete("/objects/*", h.DeleteObject)
	})
	return r
}

// authenticate rejects requests whose token failed verification
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			if err == nil {
				err = errors.New("missing token")
			}
			h.writeError(w, r, objectstore.WrapError(objectstore.KindAuth, err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccessRequest changes the public access level of a container
type AccessRequest struct {
	PublicAccess objectstore.PublicAccess `json:"public_access"`
}

func containerParam(r *http.Request) string {
	return chi.URLParam(r, "container")
}

// objectParam returns the object name from the wildcard. chi matches on the
// escaped path when one is present, so the name is unescaped here.
func objectParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return name, nil
	}
	unescaped, err := url.PathUnescape(name)
	if err != nil {
		return "", objectstore.WrapError(objectstore.KindValidation, err)
	}
	return unescaped, nil
}

// CreateContainer creates a container
func (h *Handler) CreateContainer(w http.ResponseWriter, r *http.Request) {
	container, err := h.client.CreateContainer(r.Context(), containerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, container)
}

// GetProperties returns the container properties
func (h *Handler) GetProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.client.GetProperties(r.Context(), containerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, props)
}

// DeleteContainer deletes a container with its objects
func (h *Handler) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	if err := h.client.DeleteContainer(r.Context(), containerParam(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// GetMetadata returns the container metadata
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.client.GetMetadata(r.Context(), containerParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, md)
}

// SetMetadata replaces the container metadata with the JSON object in the body
func (h *Handler) SetMetadata(w http.ResponseWriter, r *http.Request) {
	var md map[string]string
	if err := render.DecodeJSON(r.Body, &md); err != nil {
		h.writeError(w, r, objectstore.NewError(objectstore.KindValidation, "invalid metadata body: %v", err))
		return
	}

	if err := h.client.SetMetadata(r.Context(), containerParam(r), md); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// SetPublicAccess changes the container's anonymous access level
func (h *Handler) SetPublicAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.writeError(w, r, objectstore.NewError(objectstore.KindValidation, "invalid access body: %v", err))
		return
	}

	if err := h.client.SetPublicAccess(r.Context(), containerParam(r), req.PublicAccess); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// ListObjects returns one page of objects
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, objectstore.NewError(objectstore.KindValidation, "invalid limit %q", v))
			return
		}
		limit = min(n, MaxListLimit)
	}

	page, err := h.client.ListPage(r.Context(), containerParam(r), objectstore.ListOptions{
		Marker: r.URL.Query().Get("marker"),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, page)
}

// UploadObject stores the request body as an object
func (h *Handler) UploadObject(w http.ResponseWriter, r *http.Request) {
	name, err := objectParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.client.UploadObject(r.Context(), containerParam(r), name, r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entry)
}

// DownloadObject streams an object as the response body
func (h *Handler) DownloadObject(w http.ResponseWriter, r *http.Request) {
	name, err := objectParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sink := &responseSink{w: w}
	if _, err := h.client.DownloadObject(r.Context(), containerParam(r), name, sink); err != nil {
		if sink.started {
			// headers are gone; abort the stream so the client sees a short body
			h.logger.Error("Download interrupted", "container", containerParam(r), "object", name, "error", err)
			panic(http.ErrAbortHandler)
		}
		h.writeError(w, r, err)
		return
	}
	sink.start()
}

// responseSink writes the status line on the first byte so that a failure
// before any data can still be reported as a JSON error.
type responseSink struct {
	w       http.ResponseWriter
	started bool
}

func (s *responseSink) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "application/octet-stream")
	s.w.WriteHeader(http.StatusOK)
}

func (s *responseSink) Write(p []byte) (int, error) {
	s.start()
	return s.w.Write(p)
}

func (s *responseSink) Close() error {
	return nil
}

var _ io.WriteCloser = (*responseSink)(nil)

// DeleteObject removes one object
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	name, err := objectParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.client.DeleteObject(r.Context(), containerParam(r), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
