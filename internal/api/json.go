package api

import (
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/render"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors to status codes. Unclassified errors are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("shapes changed during segmentation"))
	case errors.Is(err, apperr.ErrInvalidImage):
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrMalformedGeometry), errors.Is(err, apperr.ErrUnknownColor):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func writePNG(w http.ResponseWriter, name string, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	if name != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	if err := render.EncodePNG(w, img); err != nil {
		slog.Error("png encode failed", slog.String("error", err.Error()))
	}
}
