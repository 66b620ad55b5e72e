// Package testutil provides shared test helpers for setting up image
// directories, catalogs and synthetic images.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/starford/segmark/internal/catalog"
	"github.com/starford/segmark/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "segmark-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestImages creates a temporary images directory with a storage.Provider.
func TestImages(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Checkerboard returns a w x h gray image of alternating dark and light
// tiles. The tile containing (0,0) is dark.
func Checkerboard(w, h, tile int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40)
			if (x/tile+y/tile)%2 == 1 {
				v = 215
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

// PNG encodes img.
func PNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
