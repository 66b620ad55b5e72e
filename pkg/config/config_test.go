package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	path := writeFile(t, "name: ${SAMPLE_NAME}\n")

	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-env" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_Validates(t *testing.T) {
	path := writeFile(t, "port: -1\n")
	s := sample{}
	if err := Load(path, &s); err == nil {
		t.Fatal("invalid config should fail")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "port: [\n")
	s := sample{Port: 1}
	if err := Load(path, &s); err == nil {
		t.Fatal("malformed YAML should fail")
	}
}

func TestLoadOptional_Missing(t *testing.T) {
	s := sample{Port: 9000}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s)
	if err != nil || found {
		t.Fatalf("LoadOptional = %v, %v", found, err)
	}
	if s.Port != 9000 {
		t.Errorf("defaults changed: %+v", s)
	}

	s = sample{}
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Error("missing file still validates defaults")
	}
}

func TestLoadOptional_Present(t *testing.T) {
	path := writeFile(t, "port: 7000\n")
	s := sample{}
	found, err := LoadOptional(path, &s)
	if err != nil || !found {
		t.Fatalf("LoadOptional = %v, %v", found, err)
	}
	if s.Port != 7000 {
		t.Errorf("port = %d", s.Port)
	}
}
