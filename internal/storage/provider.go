// Package storage defines the image directory abstraction.
package storage

import "github.com/starford/segmark/internal/models"

// Provider is the interface for image file operations. Paths are relative
// to the images root.
type Provider interface {
	// List returns metadata for every supported image under dir.
	List(dir string) ([]models.ImageMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Create writes content to a path that must not exist yet.
	Create(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Abs resolves path to an absolute file name inside the root.
	Abs(path string) (string, error)
}
