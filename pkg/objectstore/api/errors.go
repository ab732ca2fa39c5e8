package api

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind    objectstore.Kind `json:"kind"`
	Message string           `json:"message"`
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind objectstore.Kind) int {
	switch kind {
	case objectstore.KindValidation:
		return http.StatusBadRequest
	case objectstore.KindAuth:
		return http.StatusUnauthorized
	case objectstore.KindNotFound:
		return http.StatusNotFound
	case objectstore.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// KindForStatus maps an HTTP status back to an error kind
func KindForStatus(status int) objectstore.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return objectstore.KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return objectstore.KindAuth
	case http.StatusNotFound:
		return objectstore.KindNotFound
	case http.StatusConflict:
		return objectstore.KindConflict
	default:
		return objectstore.KindTransient
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := objectstore.KindOf(err)
	status := StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		h.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Kind: kind, Message: err.Error()})
}
