package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/models"
)

// UpsertImage inserts or replaces an image row.
func (db *DB) UpsertImage(img models.Image) error {
	_, err := db.conn.Exec(`
		INSERT INTO images (id, checksum, width, height, format, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			checksum   = excluded.checksum,
			width      = excluded.width,
			height     = excluded.height,
			format     = excluded.format,
			updated_at = excluded.updated_at
	`, img.ID, img.Checksum, img.Width, img.Height, img.Format, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert image: %w", err)
	}
	return nil
}

// DeleteImage removes an image row. Deleting a missing row is not an error.
func (db *DB) DeleteImage(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM images WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: delete image: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for an image, or "" if unknown.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM images WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: get checksum: %w", err)
	}
	return cs, nil
}

// GetImage returns one image or apperr.ErrNotFound.
func (db *DB) GetImage(id string) (*models.Image, error) {
	var img models.Image
	err := db.conn.QueryRow(`
		SELECT id, checksum, width, height, format, updated_at
		FROM images WHERE id = ?
	`, id).Scan(&img.ID, &img.Checksum, &img.Width, &img.Height, &img.Format, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: image %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get image: %w", err)
	}
	return &img, nil
}

// ListImages returns every catalogued image ordered by id.
func (db *DB) ListImages() ([]models.Image, error) {
	rows, err := db.conn.Query(`
		SELECT id, checksum, width, height, format, updated_at
		FROM images ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list images: %w", err)
	}
	defer rows.Close()

	out := []models.Image{}
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Checksum, &img.Width, &img.Height, &img.Format, &img.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// AllChecksums maps every catalogued id to its checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM images`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
