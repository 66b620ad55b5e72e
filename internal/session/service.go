// Package session coordinates the annotation store, the segmentation cache
// and the image catalog for one running service.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/segmark/internal/annotation"
	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/catalog"
	"github.com/starford/segmark/internal/checksum"
	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/palette"
	"github.com/starford/segmark/internal/render"
	"github.com/starford/segmark/internal/segcache"
	"github.com/starford/segmark/internal/sse"
	"github.com/starford/segmark/internal/storage"
)

// Notifier receives session events. *sse.Broker implements it.
type Notifier interface {
	Publish(event sse.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(sse.Event) {}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Codec         *palette.Codec
	Engine        *engine.Engine
	CacheCapacity int
	Render        render.Options
	Axis          descriptor.Axis
	StrokeWidth   float64
	Logger        *slog.Logger
	Notifier      Notifier
	Now           func() time.Time
}

// Service is the session context. All methods are safe for concurrent use.
type Service struct {
	store    storage.Provider
	db       catalog.ImageCatalog
	codec    *palette.Codec
	engine   *engine.Engine
	cache    *segcache.Cache[*Segmentation]
	render   render.Options
	axis     descriptor.Axis
	stroke   float64
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time

	mu    sync.Mutex
	state annotation.Store
}

// New starts a session over every image currently in the catalog.
func New(store storage.Provider, db catalog.ImageCatalog, opts Options) (*Service, error) {
	s := &Service{
		store:    store,
		db:       db,
		codec:    opts.Codec,
		engine:   opts.Engine,
		cache:    segcache.New[*Segmentation](opts.CacheCapacity),
		render:   opts.Render,
		axis:     opts.Axis,
		stroke:   opts.StrokeWidth,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
	if s.codec == nil {
		s.codec = palette.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.engine == nil {
		s.engine = engine.New(engine.DefaultConfig(), s.logger)
	}
	if s.render == (render.Options{}) {
		s.render = render.DefaultOptions()
	}
	if s.axis == "" {
		s.axis = descriptor.AxisTrace
	}
	if s.stroke <= 0 {
		s.stroke = 8
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	images, err := db.ListImages()
	if err != nil {
		return nil, fmt.Errorf("session: list images: %w", err)
	}
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	s.state = annotation.NewStore(s.now(), ids...)
	return s, nil
}

// Axis returns the default boundary axis.
func (s *Service) Axis() descriptor.Axis { return s.axis }

// Codec returns the session palette.
func (s *Service) Codec() *palette.Codec { return s.codec }

// ImageInfo is a catalogued image with its annotation count.
type ImageInfo struct {
	models.Image
	Shapes int `json:"shapes"`
}

// ListImages returns the catalog with per-image shape counts.
func (s *Service) ListImages(_ context.Context) ([]ImageInfo, error) {
	images, err := s.db.ListImages()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ImageInfo, len(images))
	for i, img := range images {
		ss, _ := s.state.Shapes(img.ID)
		out[i] = ImageInfo{Image: img, Shapes: len(ss)}
	}
	return out, nil
}

// Image returns catalog metadata for id.
func (s *Service) Image(_ context.Context, id string) (*models.Image, error) {
	return s.db.GetImage(id)
}

// RawPath resolves the file backing a catalogued image.
func (s *Service) RawPath(ctx context.Context, id string) (string, error) {
	if _, err := s.Image(ctx, id); err != nil {
		return "", err
	}
	return s.store.Abs(id)
}

// AddImage stores a new image file and catalogues it.
func (s *Service) AddImage(_ context.Context, name string, data []byte) (*models.Image, error) {
	if !imaging.IsImage(name) {
		return nil, fmt.Errorf("session: %q is not a supported image: %w", name, apperr.ErrInvalidImage)
	}
	name = path.Clean(filepath.ToSlash(name))
	cfg, format, err := imaging.DecodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("session: %q: %w: %w", name, apperr.ErrInvalidImage, err)
	}
	if err := s.store.Create(name, data); err != nil {
		return nil, err
	}
	img := models.Image{
		ID:        name,
		Checksum:  checksum.Sum(data),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.db.UpsertImage(img); err != nil {
		return nil, err
	}
	s.HandleImageEvent("created", img.ID)
	return &img, nil
}

// DeleteImage removes the image file, its catalog row and its annotations.
func (s *Service) DeleteImage(_ context.Context, id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	if err := s.db.DeleteImage(id); err != nil {
		return err
	}
	s.HandleImageEvent("deleted", id)
	return nil
}

// HandleImageEvent keeps the session in step with catalog changes. kind is
// "created", "updated" or "deleted".
func (s *Service) HandleImageEvent(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case "created":
		s.state = s.state.WithImage(id)
	case "updated":
		s.state = s.state.WithImage(id)
		s.cache.Purge(id)
	case "deleted":
		s.state = s.state.WithoutImage(id)
		s.cache.Purge(id)
	}
	s.logger.Debug("session: image event", slog.String("kind", kind), slog.String("id", id))
}

// PaletteInfo describes the label classes offered to clients.
type PaletteInfo struct {
	Classes     []palette.Entry `json:"classes"`
	Colormap    []string        `json:"colormap"`
	StrokeWidth float64         `json:"stroke_width"`
	Axis        descriptor.Axis `json:"axis"`
}

// Palette returns the class colors and drawing defaults.
func (s *Service) Palette() PaletteInfo {
	return PaletteInfo{
		Classes:     s.codec.Entries(),
		Colormap:    s.codec.Hexes(),
		StrokeWidth: s.stroke,
		Axis:        s.axis,
	}
}

// Stats returns segmentation cache counters.
func (s *Service) Stats() segcache.Stats {
	return s.cache.Stats()
}
