package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/segmark/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *session.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	fh := NewImageFileHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Images.
	r.Get("/images", h.ListImages)
	r.Post("/images", fh.Upload)
	r.Get("/images/{id}", h.GetImage)
	r.Delete("/images/{id}", h.DeleteImage)
	r.Get("/images/{id}/raw", fh.ServeRaw)

	// Shapes.
	r.Get("/images/{id}/shapes", h.GetShapes)
	r.Put("/images/{id}/shapes", h.ReplaceShapes)
	r.Patch("/images/{id}/shapes/{index}", h.UpdateShape)

	// Segmentation.
	r.Post("/images/{id}/segmentation", h.Segment)
	r.Get("/images/{id}/segmentations", h.History)
	r.Get("/images/{id}/segmentations/{key}/{artifact}", h.Artifact)
	r.Get("/images/{id}/classifier", h.Classifier)

	// Annotation exchange.
	r.Get("/annotations", h.ExportAnnotations)
	r.Post("/annotations", h.ImportAnnotations)

	r.Get("/palette", h.Palette)
	r.Get("/stats", h.Stats)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
