package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/bundle"
	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/render"
	"github.com/starford/segmark/internal/session"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *session.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *session.Service) *Handler {
	return &Handler{svc: svc}
}

// imageID extracts the image id from the URL. Ids are relative paths, so
// clients escape slashes (e.g. site%2Fstreet.png).
func imageID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func (h *Handler) axis(w http.ResponseWriter, r *http.Request) (descriptor.Axis, bool) {
	axis, err := descriptor.ParseAxis(r.URL.Query().Get("axis"), h.svc.Axis())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return "", false
	}
	return axis, true
}

// ListImages handles GET /api/images.
//
//	@Summary		List catalogued images with their shape counts
//	@Tags			images
//	@Produce		json
//	@Success		200	{object}	ImageListResponse
//	@Security		BearerAuth
//	@Router			/images [get]
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.svc.ListImages(r.Context())
	if err != nil {
		writeError(w, "list images", err)
		return
	}
	writeJSON(w, http.StatusOK, ImageListResponse{Images: images, Total: len(images)})
}

// GetImage handles GET /api/images/{id}.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.svc.Image(r.Context(), imageID(r))
	if err != nil {
		writeError(w, "get image", err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// DeleteImage handles DELETE /api/images/{id}.
//
//	@Summary		Delete an image with its shapes and cached segmentations
//	@Tags			images
//	@Param			id	path	string	true	"Image id"
//	@Success		204	"Image deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id} [delete]
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteImage(r.Context(), imageID(r)); err != nil {
		writeError(w, "delete image", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetShapes handles GET /api/images/{id}/shapes.
//
//	@Summary		Get the shape list of an image
//	@Tags			shapes
//	@Produce		json
//	@Param			id		path		string	true	"Image id"
//	@Param			axis	query		string	false	"Axis convention"	Enums(trace, layout)
//	@Success		200		{object}	ShapesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/shapes [get]
func (h *Handler) GetShapes(w http.ResponseWriter, r *http.Request) {
	axis, ok := h.axis(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Shapes(r.Context(), imageID(r), axis)
	if err != nil {
		writeError(w, "get shapes", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReplaceShapes handles PUT /api/images/{id}/shapes.
//
//	@Summary		Replace the whole shape list of an image
//	@Tags			shapes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Image id"
//	@Param			axis	query		string					false	"Axis convention"	Enums(trace, layout)
//	@Param			body	body		ReplaceShapesRequest	true	"Complete shape list"
//	@Success		200		{object}	ReplaceShapesResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/shapes [put]
func (h *Handler) ReplaceShapes(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	axis, ok := h.axis(w, r)
	if !ok {
		return
	}
	var req ReplaceShapesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.ReplaceShapes(r.Context(), imageID(r), req.Shapes, axis)
	if err != nil {
		writeError(w, "replace shapes", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateShape handles PATCH /api/images/{id}/shapes/{index}.
//
//	@Summary		Apply a partial edit to one shape
//	@Description	An index that no longer exists is dropped and reported as applied=false.
//	@Tags			shapes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string	true	"Image id"
//	@Param			index	path		int		true	"Shape index"
//	@Param			axis	query		string	false	"Axis convention"	Enums(trace, layout)
//	@Success		200		{object}	UpdateShapeResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/shapes/{index} [patch]
func (h *Handler) UpdateShape(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	axis, ok := h.axis(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("index must be an integer"))
		return
	}
	var patch descriptor.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := h.svc.UpdateShape(r.Context(), imageID(r), index, patch, axis)
	if err != nil {
		writeError(w, "update shape", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Segment handles POST /api/images/{id}/segmentation.
//
//	@Summary		Segment an image from its current shapes
//	@Description	Fewer than two label classes give available=false instead of an error.
//	@Tags			segmentation
//	@Produce		json
//	@Param			id	path		string	true	"Image id"
//	@Success		200	{object}	SegmentationResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/segmentation [post]
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	id := imageID(r)
	seg, err := h.svc.Segment(r.Context(), id)
	if errors.Is(err, apperr.ErrInsufficientLabels) {
		writeJSON(w, http.StatusOK, SegmentationResponse{Available: false, Reason: "insufficient labels"})
		return
	}
	if err != nil {
		writeError(w, "segment", err)
		return
	}
	info := seg.Info()
	base := "/api/images/" + url.PathEscape(id) + "/segmentations/" + seg.Key + "/"
	writeJSON(w, http.StatusOK, SegmentationResponse{
		Available:  true,
		ImageID:    info.ImageID,
		Key:        info.Key,
		Shapes:     info.Shapes,
		Labels:     info.Labels,
		CreatedAt:  info.CreatedAt,
		ElapsedMS:  info.ElapsedMS,
		ColorURL:   base + "color.png",
		LabelsURL:  base + "labels.png",
		OverlayURL: base + "overlay.png",
	})
}

// History handles GET /api/images/{id}/segmentations.
//
//	@Summary		List cached segmentations of an image
//	@Tags			segmentation
//	@Produce		json
//	@Param			id	path		string	true	"Image id"
//	@Success		200	{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/segmentations [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := imageID(r)
	if _, err := h.svc.Image(r.Context(), id); err != nil {
		writeError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Segmentations: h.svc.History(id)})
}

// Artifact handles GET /api/images/{id}/segmentations/{key}/{artifact}.
//
//	@Summary		Download a segmentation result as PNG
//	@Tags			segmentation
//	@Produce		image/png
//	@Param			id			path	string	true	"Image id"
//	@Param			key			path	string	true	"Segmentation key"
//	@Param			artifact	path	string	true	"Artifact"	Enums(color.png, labels.png, overlay.png)
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/segmentations/{key}/{artifact} [get]
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	id := imageID(r)
	seg, err := h.svc.Segmentation(id, chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, "segmentation artifact", err)
		return
	}
	switch name := chi.URLParam(r, "artifact"); name {
	case "color.png":
		writePNG(w, name, h.svc.ColorImage(seg))
	case "labels.png":
		writePNG(w, name, render.LabelImage(seg.Labels))
	case "overlay.png":
		img, err := h.svc.OverlayImage(r.Context(), seg)
		if err != nil {
			writeError(w, "overlay", err)
			return
		}
		writePNG(w, name, img)
	default:
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	}
}

// Classifier handles GET /api/images/{id}/classifier.
//
//	@Summary		Download the classifier bundle of a segmentation
//	@Tags			segmentation
//	@Produce		json
//	@Param			id	path	string	true	"Image id"
//	@Param			key	query	string	false	"Segmentation key, latest when empty"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images/{id}/classifier [get]
func (h *Handler) Classifier(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ExportClassifier(imageID(r), r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, "export classifier", err)
		return
	}
	var buf bytes.Buffer
	if err := bundle.Encode(&buf, b); err != nil {
		writeError(w, "export classifier", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="classifier.json"`)
	_, _ = w.Write(buf.Bytes())
}

// ExportAnnotations handles GET /api/annotations.
//
//	@Summary		Download every image's shapes
//	@Tags			annotations
//	@Produce		json
//	@Param			axis	query	string	false	"Axis convention"	Enums(trace, layout)
//	@Success		200
//	@Security		BearerAuth
//	@Router			/annotations [get]
func (h *Handler) ExportAnnotations(w http.ResponseWriter, r *http.Request) {
	axis, ok := h.axis(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ExportAnnotations(r.Context(), axis)
	if err != nil {
		writeError(w, "export annotations", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="annotations.json"`)
	_, _ = w.Write(data)
}

// ImportAnnotations handles POST /api/annotations.
//
//	@Summary		Replace shapes from an annotation export
//	@Tags			annotations
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	ImportResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations [post]
func (h *Handler) ImportAnnotations(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	res, err := h.svc.ImportAnnotations(r.Context(), data)
	if err != nil {
		writeError(w, "import annotations", err)
		return
	}
	slog.Info("annotations imported", slog.Int("applied", len(res.Applied)), slog.Int("skipped", len(res.Skipped)))
	writeJSON(w, http.StatusOK, res)
}

// Palette handles GET /api/palette.
func (h *Handler) Palette(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Palette())
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}
