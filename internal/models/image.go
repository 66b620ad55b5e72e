package models

import "time"

// ImageMetadata is a lightweight file description returned by storage listings.
type ImageMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Image is a catalogued source image. ID is the path relative to the images root.
type Image struct {
	ID        string    `json:"id"`
	Checksum  string    `json:"checksum"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Format    string    `json:"format"`
	UpdatedAt time.Time `json:"updated_at"`
}
