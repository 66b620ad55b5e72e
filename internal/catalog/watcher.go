package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/storage"
)

// EventCallback is called after a watcher-driven catalog change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the images root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful catalog mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Remove and rename events only schedule a debounced reconciliation
// pass; a row is dropped once its file is confirmed missing on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("catalog: watcher started", slog.String("root", root))

	// reconcileTimer debounces removal reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("catalog: watcher stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("catalog: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("catalog: watching new dir", slog.String("path", absPath))
					}
					// Catalogue any images already in the new directory.
					indexNewDir(db, store, root, absPath, logger, cb)
					continue
				}
			}

			// Only process image files from here on.
			if !watchable(absPath) {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("catalog: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := indexFile(db, rel, data, time.Now()); idxErr != nil {
					logger.Warn("catalog: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("catalog: indexed", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, rel)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// The path may come back at once (save-by-rename editors,
				// remove then recreate). The row and its annotations stay
				// until the debounced reconcile finds the file still gone.
				logger.Debug("catalog: removal pending", slog.String("path", rel))
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("catalog: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile does a lightweight sync using batch lookups:
// finds rows without a corresponding file on disk and removes them,
// and finds on-disk files that are not catalogued and adds them.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("catalog: reconcile checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := store.List("")
	if err != nil {
		logger.Warn("catalog: reconcile list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteImage(p); delErr == nil {
				logger.Debug("catalog: reconcile removed stale", slog.String("path", p))
				if cb != nil {
					cb("deleted", p)
				}
			}
		}
	}

	for p, cs := range disk {
		old, known := checksums[p]
		if known && old == cs {
			continue
		}
		data, readErr := store.Read(p)
		if readErr != nil {
			continue
		}
		if idxErr := indexFile(db, p, data, time.Now()); idxErr == nil {
			logger.Debug("catalog: reconcile indexed", slog.String("path", p))
			if cb != nil {
				kind := "created"
				if known {
					kind = "updated"
				}
				cb(kind, p)
			}
		}
	}
}

// indexNewDir catalogues any images found in a newly created directory.
func indexNewDir(db *DB, store storage.Provider, root, dirPath string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !watchable(path) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		if idxErr := indexFile(db, rel, data, time.Now()); idxErr == nil {
			logger.Debug("catalog: indexed from new dir", slog.String("path", rel))
			if cb != nil {
				cb("created", rel)
			}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// watchable reports whether a file event concerns a catalogued image.
// Hidden names cover the storage temp files.
func watchable(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && imaging.IsImage(base)
}
