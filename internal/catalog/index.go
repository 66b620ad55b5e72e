package catalog

import "github.com/starford/segmark/internal/models"

// ImageCatalog defines the catalog operations used by the session.
// Consumers depend on this interface rather than on *DB.
type ImageCatalog interface {
	UpsertImage(img models.Image) error
	DeleteImage(id string) error
	GetImage(id string) (*models.Image, error)
	ListImages() ([]models.Image, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies ImageCatalog at compile time.
var _ ImageCatalog = (*DB)(nil)
