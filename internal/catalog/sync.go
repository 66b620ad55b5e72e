package catalog

import (
	"log/slog"
	"time"

	"github.com/starford/segmark/internal/checksum"
	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/storage"
)

// Sync walks the images directory and brings the catalog up to date:
//   - new/changed files are decoded and upserted
//   - files removed from disk are deleted from the catalog
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("catalog: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, m.Path, data, m.UpdatedAt); err != nil {
			logger.Warn("catalog: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("catalog: indexed", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteImage(p); err != nil {
				logger.Warn("catalog: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("catalog: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexFile reads the image header and upserts the row.
func indexFile(db *DB, path string, data []byte, modTime time.Time) error {
	cfg, format, err := imaging.DecodeConfig(data)
	if err != nil {
		return err
	}
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return db.UpsertImage(models.Image{
		ID:        path,
		Checksum:  checksum.Sum(data),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		UpdatedAt: modTime.UTC(),
	})
}
