package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/session"
)

const maxUploadBytes = 50 << 20 // 50 MB

// ImageFileHandler serves and accepts image files.
type ImageFileHandler struct {
	svc *session.Service
}

// NewImageFileHandler creates a handler backed by the session.
func NewImageFileHandler(svc *session.Service) *ImageFileHandler {
	return &ImageFileHandler{svc: svc}
}

// safeName validates that the filename is a plain image name (no path
// separators, no traversal).
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if !imaging.IsImage(cleaned) {
		return "", fmt.Errorf("unsupported image type: %s", name)
	}
	return cleaned, nil
}

// ServeRaw handles GET /api/images/{id}/raw.
//
//	@Summary		Download the source image file
//	@Tags			images
//	@Produce		image/png
//	@Param			id	path	string	true	"Image id (URL-escaped relative path)"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/raw [get]
func (h *ImageFileHandler) ServeRaw(w http.ResponseWriter, r *http.Request) {
	id := imageID(r)
	abs, err := h.svc.RawPath(r.Context(), id)
	if err != nil {
		writeError(w, "serve image", err)
		return
	}
	if ct := imaging.ContentType(id); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/images (multipart/form-data, field "file").
// An optional "dir" field places the image in a subdirectory.
//
//	@Summary		Upload a new image
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Image file"
//	@Param			dir		formData	string	false	"Target subdirectory"
//	@Success		201		{object}	ImageUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		415		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images [post]
func (h *ImageFileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, err := safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if dir := strings.Trim(r.FormValue("dir"), "/"); dir != "" {
		if strings.Contains(dir, "..") {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid dir: "+dir))
			return
		}
		name = dir + "/" + name
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to read file"))
		return
	}

	img, err := h.svc.AddImage(r.Context(), name, data)
	if err != nil {
		writeError(w, "upload image", err)
		return
	}
	slog.Info("image uploaded", slog.String("id", img.ID), slog.Int("bytes", len(data)))
	writeJSON(w, http.StatusCreated, ImageUploadResponse{
		Image: session.ImageInfo{Image: *img},
		Size:  int64(len(data)),
		URL:   "/api/images/" + url.PathEscape(img.ID) + "/raw",
	})
}
