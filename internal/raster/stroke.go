package raster

import (
	"math"

	clipper "github.com/ctessum/go.clipper"

	"github.com/starford/segmark/internal/models"
)

// clipScale converts pixel coordinates to clipper's integer grid, keeping
// 1/64 px of precision.
const clipScale = 64.0

// dotSegments is the polygon resolution used for single-point strokes.
const dotSegments = 24

// strokeOutline returns the filled outline of the stroked subpaths in pixel
// coordinates. Open subpaths get round caps; closed ones are stroked as rings.
// Joins are round.
func strokeOutline(subpaths []models.Subpath, width float64) [][]models.Point {
	radius := width / 2
	var polys [][]models.Point

	co := clipper.NewClipperOffset()
	added := 0
	for _, sp := range subpaths {
		if len(sp.Points) == 0 {
			continue
		}
		if isDot(sp.Points) {
			polys = append(polys, circle(sp.Points[0], radius))
			continue
		}
		path := make(clipper.Path, 0, len(sp.Points))
		for _, p := range sp.Points {
			path = append(path, &clipper.IntPoint{
				X: clipper.CInt(math.Round(p.X * clipScale)),
				Y: clipper.CInt(math.Round(p.Y * clipScale)),
			})
		}
		end := clipper.EtOpenRound
		if sp.Closed && len(sp.Points) > 2 {
			end = clipper.EtClosedLine
		}
		co.AddPath(path, clipper.JtRound, end)
		added++
	}
	if added == 0 {
		return polys
	}

	for _, sol := range co.Execute(radius * clipScale) {
		poly := make([]models.Point, len(sol))
		for i, pt := range sol {
			poly[i] = models.Point{X: float64(pt.X) / clipScale, Y: float64(pt.Y) / clipScale}
		}
		polys = append(polys, poly)
	}
	return polys
}

func isDot(pts []models.Point) bool {
	for _, p := range pts[1:] {
		if p != pts[0] {
			return false
		}
	}
	return true
}

func circle(c models.Point, r float64) []models.Point {
	out := make([]models.Point, dotSegments)
	for i := range out {
		a := 2 * math.Pi * float64(i) / dotSegments
		out[i] = models.Point{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
	}
	return out
}
