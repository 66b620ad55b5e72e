package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/segmark/internal/apperr"
)

func tempImages(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempImages(t)
	content := []byte("\x89PNG fake")
	if err := s.Write("img.png", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("img.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempImages(t)
	if err := s.Write("a/b/c.jpg", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.jpg")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempImages(t)
	_ = s.Write("del.png", []byte("bye"))
	if err := s.Delete("del.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("read deleted file: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete("del.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestAbs(t *testing.T) {
	s := tempImages(t)
	abs, err := s.Abs("sub/x.png")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if abs != filepath.Join(s.Root(), "sub", "x.png") {
		t.Errorf("abs = %q", abs)
	}
	if _, err := s.Abs("../x.png"); err == nil {
		t.Error("expected error for traversal")
	}
}

func TestList(t *testing.T) {
	s := tempImages(t)
	_ = s.Write("a.png", []byte("a"))
	_ = s.Write("sub/b.TIFF", []byte("b"))
	_ = s.Write("readme.md", []byte("not an image"))
	_ = s.Write(".hidden.png", []byte("skipped"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Path == "sub/b.TIFF" && it.Checksum == "" {
			t.Error("missing checksum")
		}
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempImages(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.png",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempImages(t)
	original := []byte("original content")
	_ = s.Write("atomic.png", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.png", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.png")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".segmark-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/segmark-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "segmark-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	s := tempImages(t)
	if err := s.Create("site/new.png", []byte("first")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create("site/new.png", []byte("second"))
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("second Create = %v, want ErrAlreadyExists", err)
	}
	got, _ := s.Read("site/new.png")
	if string(got) != "first" {
		t.Errorf("content = %q, want first write kept", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, "site", ".segmark-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
	if err := s.Create("../escape.png", []byte("x")); err == nil {
		t.Error("expected traversal error")
	}
}
