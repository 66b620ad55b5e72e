package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/checksum"
	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the images directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute images directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the images root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes images root: %s", rel)
	}
	return abs, nil
}

// Abs resolves a relative image path, rejecting traversal.
func (f *FS) Abs(path string) (string, error) {
	return f.safePath(path)
}

// List walks dir (relative to root) and returns metadata for every image.
// Hidden files, including in-progress temp files, are skipped.
func (f *FS) List(dir string) ([]models.ImageMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.ImageMetadata
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !imaging.IsImage(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.ImageMetadata{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of an image file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// writeTemp stores content in a hidden temp file next to abs and hands
// its name to publish. The temp file is removed whatever publish does.
func writeTemp(abs string, content []byte, publish func(tmp string) error) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".segmark-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	return publish(tmpName)
}

// Write atomically replaces the file at path: tmp file, fsync, rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	return writeTemp(abs, content, func(tmp string) error {
		if err := os.Rename(tmp, abs); err != nil {
			return fmt.Errorf("storage: rename: %w", err)
		}
		return nil
	})
}

// Create writes a new file and fails with apperr.ErrAlreadyExists when
// path is taken. The hard link makes the existence check and the publish
// one step, so concurrent uploads of one name cannot both succeed.
func (f *FS) Create(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	return writeTemp(abs, content, func(tmp string) error {
		err := os.Link(tmp, abs)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: create %s: %w", path, apperr.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("storage: link: %w", err)
		}
		return nil
	})
}

// Delete removes an image file.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}
