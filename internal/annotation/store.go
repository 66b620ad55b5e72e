// Package annotation holds the canonical per-image shape store and the
// reducer that applies client edits to it.
package annotation

import (
	"fmt"
	"maps"
	"time"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/models"
)

// Store maps image ids to their shape sets. It is a value: Reduce never
// mutates its input and returns a new Store instead.
type Store struct {
	Started time.Time
	// Last is the most recent timestamp handed out, in milliseconds since
	// Started. Timestamps are strictly increasing within a session.
	Last   int64
	images map[string]models.ShapeSet
}

// NewStore starts a session with an empty set for every known image.
func NewStore(started time.Time, imageIDs ...string) Store {
	s := Store{Started: started, images: make(map[string]models.ShapeSet, len(imageIDs))}
	for _, id := range imageIDs {
		s.images[id] = models.ShapeSet{}
	}
	return s
}

// Shapes returns a copy of the set for imageID.
func (s Store) Shapes(imageID string) (models.ShapeSet, bool) {
	ss, ok := s.images[imageID]
	if !ok {
		return nil, false
	}
	return ss.Clone(), true
}

// Has reports whether imageID is tracked.
func (s Store) Has(imageID string) bool {
	_, ok := s.images[imageID]
	return ok
}

// ImageIDs lists tracked images in no particular order.
func (s Store) ImageIDs() []string {
	out := make([]string, 0, len(s.images))
	for id := range s.images {
		out = append(out, id)
	}
	return out
}

// WithImage returns a store that tracks imageID, keeping any existing set.
func (s Store) WithImage(imageID string) Store {
	if s.Has(imageID) {
		return s
	}
	out := s.copy()
	out.images[imageID] = models.ShapeSet{}
	return out
}

// WithoutImage returns a store that no longer tracks imageID.
func (s Store) WithoutImage(imageID string) Store {
	if !s.Has(imageID) {
		return s
	}
	out := s.copy()
	delete(out.images, imageID)
	return out
}

func (s Store) copy() Store {
	out := s
	out.images = maps.Clone(s.images)
	if out.images == nil {
		out.images = make(map[string]models.ShapeSet)
	}
	return out
}

// stamp returns the next timestamp for an edit made at 'at'.
func (s Store) stamp(at time.Time) int64 {
	ts := at.Sub(s.Started).Milliseconds()
	if ts <= s.Last {
		ts = s.Last + 1
	}
	return ts
}

// Event is one inbound edit.
type Event interface {
	apply(prev Store) (Store, error)
}

// FullReplace carries the complete shape list reported by the client.
// Omitting a shape deletes it.
type FullReplace struct {
	ImageID string
	Shapes  []models.Shape
	At      time.Time
}

// PartialUpdate changes some fields of the shape at Index.
type PartialUpdate struct {
	ImageID string
	Index   int
	Patch   models.ShapePatch
	At      time.Time
}

// Reduce applies ev to prev and returns the new store. On error prev is
// returned unchanged.
func Reduce(prev Store, ev Event) (Store, error) {
	next, err := ev.apply(prev)
	if err != nil {
		return prev, err
	}
	return next, nil
}

func (ev FullReplace) apply(prev Store) (Store, error) {
	old := prev.images[ev.ImageID]
	ts := prev.stamp(ev.At)
	stamped := false

	out := make(models.ShapeSet, 0, len(ev.Shapes))
	for _, in := range ev.Shapes {
		if out.IndexOf(in) >= 0 {
			continue
		}
		s := in.Clone()
		if i := old.IndexOf(s); i >= 0 {
			s.Timestamp = old[i].Timestamp
		} else {
			s.Timestamp = ts
			stamped = true
		}
		out = append(out, s)
	}

	next := prev.copy()
	next.images[ev.ImageID] = out
	if stamped {
		next.Last = ts
	}
	return next, nil
}

func (ev PartialUpdate) apply(prev Store) (Store, error) {
	old, ok := prev.images[ev.ImageID]
	if !ok {
		return prev, fmt.Errorf("annotation: image %q: %w", ev.ImageID, apperr.ErrNotFound)
	}
	if ev.Index < 0 || ev.Index >= len(old) {
		return prev, fmt.Errorf("annotation: shape %d of %d on %q: %w",
			ev.Index, len(old), ev.ImageID, apperr.ErrIndexOutOfRange)
	}

	updated, err := ev.Patch.Apply(old[ev.Index])
	if err != nil {
		return prev, err
	}
	ts := prev.stamp(ev.At)
	updated.Timestamp = ts

	out := old.Clone()
	out[ev.Index] = updated
	// An edit that makes the shape identical to another one merges the two,
	// keeping the other shape and its older timestamp.
	for i := range out {
		if i != ev.Index && models.Equal(out[i], updated) {
			out = append(out[:ev.Index], out[ev.Index+1:]...)
			break
		}
	}

	next := prev.copy()
	next.images[ev.ImageID] = out
	next.Last = ts
	return next, nil
}
