package internal

import (
	"fmt"
	"log/slog"
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/features"
	"github.com/starford/segmark/internal/forest"
	"github.com/starford/segmark/internal/palette"
	"github.com/starford/segmark/internal/render"
	"github.com/starford/segmark/internal/segcache"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app"`
	Images       ImagesConfig       `yaml:"images"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Auth         AuthConfig         `yaml:"auth"`
	Palette      PaletteConfig      `yaml:"palette"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Cache        CacheConfig        `yaml:"cache"`
	Render       RenderConfig       `yaml:"render"`
	Annotation   AnnotationConfig   `yaml:"annotation"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []interface{ Validate() error }{
		&c.App, &c.Images, &c.SQLite, &c.Auth, &c.Palette,
		&c.Segmentation, &c.Cache, &c.Render, &c.Annotation,
	}
	for _, s := range sections {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ImagesConfig holds the path to the directory of source images.
type ImagesConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the images configuration.
func (c *ImagesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the image catalog database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// PaletteConfig selects the label classes and their stroke colors.
// Colors, when set, replace the named palette.
type PaletteConfig struct {
	Name    string   `yaml:"name"`
	Classes int      `yaml:"classes"`
	Colors  []string `yaml:"colors"`
}

// Validate validates the palette configuration.
func (c *PaletteConfig) Validate() error {
	names := make([]any, 0, len(palette.Named))
	for n := range palette.Named {
		names = append(names, n)
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.When(len(c.Colors) == 0, validation.Required, validation.In(names...))),
		validation.Field(&c.Classes, validation.Required, validation.Min(2)),
	); err != nil {
		return err
	}
	_, err := c.Codec()
	return err
}

// Codec builds the color-class codec.
func (c *PaletteConfig) Codec() (*palette.Codec, error) {
	hexes := c.Colors
	if len(hexes) == 0 {
		hexes = palette.Named[c.Name]
	}
	return palette.New(hexes, c.Classes)
}

// SegmentationConfig holds the feature and classifier settings. Both are
// flattened into one YAML section.
type SegmentationConfig struct {
	Features features.Config `yaml:",inline"`
	Forest   forest.Config   `yaml:",inline"`
}

// Validate validates the segmentation configuration.
func (c *SegmentationConfig) Validate() error {
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}
	if err := c.Forest.Validate(); err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}
	return nil
}

// Engine returns the engine configuration.
func (c *SegmentationConfig) Engine() engine.Config {
	return engine.Config{Features: c.Features, Forest: c.Forest, Workers: c.Forest.Workers}
}

// CacheConfig sizes the segmentation cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1), validation.Max(1024)),
	)
}

// RenderConfig holds label-color rendering settings.
type RenderConfig struct {
	Alpha int `yaml:"alpha"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Alpha, validation.Min(0), validation.Max(255)),
	)
}

// Options returns the rendering options.
func (c *RenderConfig) Options() render.Options {
	opts := render.DefaultOptions()
	opts.Alpha = uint8(c.Alpha)
	return opts
}

// AnnotationConfig holds drawing defaults offered to clients.
type AnnotationConfig struct {
	Axis                descriptor.Axis `yaml:"axis"`
	StrokeWidthExponent int             `yaml:"stroke_width_exponent"`
}

// Validate validates the annotation configuration.
func (c *AnnotationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Axis, validation.Required, validation.In(descriptor.AxisTrace, descriptor.AxisLayout)),
		validation.Field(&c.StrokeWidthExponent, validation.Min(0), validation.Max(8)),
	)
}

// StrokeWidth returns the default stroke width in pixels.
func (c *AnnotationConfig) StrokeWidth() float64 {
	return math.Exp2(float64(c.StrokeWidthExponent))
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Images: ImagesConfig{
			Path: "./images",
		},
		SQLite: SQLiteConfig{
			Path: "./segmark.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Palette: PaletteConfig{
			Name:    "light24",
			Classes: 15,
		},
		Segmentation: SegmentationConfig{
			Features: features.DefaultConfig(),
			Forest:   forest.DefaultConfig(),
		},
		Cache: CacheConfig{
			Capacity: segcache.DefaultCapacity,
		},
		Render: RenderConfig{
			Alpha: render.DefaultAlpha,
		},
		Annotation: AnnotationConfig{
			Axis:                descriptor.AxisTrace,
			StrokeWidthExponent: 3,
		},
	}
}
