package api

import (
	"time"

	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/session"
)

// ImageItem is one entry of the image listing (aliased from the domain layer).
type ImageItem = session.ImageInfo

// ImageListResponse wraps the image listing.
type ImageListResponse struct {
	Images []ImageItem `json:"images" validate:"required"`
	Total  int         `json:"total" example:"3" validate:"required"`
}

// ReplaceShapesRequest is the request body for a full shape replace.
type ReplaceShapesRequest struct {
	Shapes []descriptor.Descriptor `json:"shapes" validate:"required"`
}

// ShapesResponse is the current shape list (aliased from the domain layer).
type ShapesResponse = session.ShapesResult

// ReplaceShapesResponse reports a full replace.
type ReplaceShapesResponse = session.ReplaceResult

// UpdateShapeResponse reports a partial update.
type UpdateShapeResponse = session.UpdateResult

// SegmentationResponse describes a segmentation attempt. When Available is
// false the other fields are empty and Reason says why.
type SegmentationResponse struct {
	Available  bool      `json:"available" example:"true" validate:"required"`
	Reason     string    `json:"reason,omitempty" example:"insufficient labels"`
	ImageID    string    `json:"image_id,omitempty" example:"site/street.png"`
	Key        string    `json:"key,omitempty" example:"9f2c..."`
	Shapes     int       `json:"shapes,omitempty" example:"4"`
	Labels     []uint16  `json:"labels,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	ElapsedMS  int64     `json:"elapsed_ms,omitempty" example:"840"`
	ColorURL   string    `json:"color_url,omitempty"`
	LabelsURL  string    `json:"labels_url,omitempty"`
	OverlayURL string    `json:"overlay_url,omitempty"`
}

// HistoryResponse lists cached segmentations, most recent first.
type HistoryResponse struct {
	Segmentations []session.SegmentationInfo `json:"segmentations" validate:"required"`
}

// ImageUploadResponse is returned after a successful image upload.
type ImageUploadResponse struct {
	Image session.ImageInfo `json:"image" validate:"required"`
	Size  int64             `json:"size" example:"12345" validate:"required"`
	URL   string            `json:"url" example:"/api/images/street.png/raw" validate:"required"`
}

// ImportResponse reports an annotation import (aliased from the domain layer).
type ImportResponse = session.ImportResult
