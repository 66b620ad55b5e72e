// Package parser reads and writes the SVG path subset used by drawn shapes:
// move, line, horizontal, vertical and close commands, absolute or relative.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/models"
)

var tokenRe = regexp.MustCompile(`[A-Za-z]|[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?|[^\s,]`)

// Parse converts SVG path data into subpaths. Any unsupported command or
// stray token fails with apperr.ErrMalformedGeometry.
func Parse(d string) ([]models.Subpath, error) {
	tokens := tokenRe.FindAllString(d, -1)
	if len(tokens) == 0 {
		return nil, malformed(d, "empty path")
	}

	var (
		out     []models.Subpath
		cur     *models.Subpath
		pos     models.Point
		start   models.Point
		cmd     byte
		started bool
	)

	// begin opens a new subpath at p, closing over the previous one.
	begin := func(p models.Point) {
		out = append(out, models.Subpath{Points: []models.Point{p}})
		cur = &out[len(out)-1]
		start = p
	}
	// lineTo appends p. A drawing command after a close reopens a
	// subpath at the start of the closed one.
	lineTo := func(p models.Point) {
		if cur == nil || cur.Closed {
			begin(start)
		}
		cur.Points = append(cur.Points, p)
	}

	i := 0
	number := func() (float64, error) {
		if i >= len(tokens) {
			return 0, malformed(d, "missing coordinate")
		}
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return 0, malformed(d, fmt.Sprintf("unexpected token %q", tokens[i]))
		}
		i++
		return v, nil
	}
	isNumber := func() bool {
		if i >= len(tokens) {
			return false
		}
		_, err := strconv.ParseFloat(tokens[i], 64)
		return err == nil
	}

	for i < len(tokens) {
		tok := tokens[i]
		if len(tok) == 1 && isLetter(tok[0]) {
			cmd = tok[0]
			i++
		} else if cmd == 0 {
			return nil, malformed(d, "path must start with a move command")
		}
		if !started && cmd != 'M' && cmd != 'm' {
			return nil, malformed(d, "path must start with a move command")
		}

		switch cmd {
		case 'M', 'm':
			x, err := number()
			if err != nil {
				return nil, err
			}
			y, err := number()
			if err != nil {
				return nil, err
			}
			if cmd == 'm' && started {
				x, y = pos.X+x, pos.Y+y
			}
			pos = models.Point{X: x, Y: y}
			begin(pos)
			started = true
			// Subsequent pairs are implicit line-tos.
			if cmd == 'M' {
				cmd = 'L'
			} else {
				cmd = 'l'
			}
		case 'L', 'l':
			x, err := number()
			if err != nil {
				return nil, err
			}
			y, err := number()
			if err != nil {
				return nil, err
			}
			if cmd == 'l' {
				x, y = pos.X+x, pos.Y+y
			}
			pos = models.Point{X: x, Y: y}
			lineTo(pos)
		case 'H', 'h':
			x, err := number()
			if err != nil {
				return nil, err
			}
			if cmd == 'h' {
				x += pos.X
			}
			pos.X = x
			lineTo(pos)
		case 'V', 'v':
			y, err := number()
			if err != nil {
				return nil, err
			}
			if cmd == 'v' {
				y += pos.Y
			}
			pos.Y = y
			lineTo(pos)
		case 'Z', 'z':
			if cur != nil && !cur.Closed {
				cur.Closed = true
			}
			pos = start
			if isNumber() {
				return nil, malformed(d, "coordinates after close")
			}
			continue
		default:
			return nil, malformed(d, fmt.Sprintf("unsupported command %q", string(cmd)))
		}
	}
	return out, nil
}

// Format renders subpaths as absolute SVG path data, e.g. "M10,20L30,40Z".
func Format(subpaths []models.Subpath) string {
	var b strings.Builder
	for _, sp := range subpaths {
		for j, p := range sp.Points {
			if j == 0 {
				b.WriteByte('M')
			} else {
				b.WriteByte('L')
			}
			b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
			b.WriteByte(',')
			b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
		}
		if sp.Closed {
			b.WriteByte('Z')
		}
	}
	return b.String()
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func malformed(d, reason string) error {
	if len(d) > 64 {
		d = d[:64] + "..."
	}
	return fmt.Errorf("parser: %s in %q: %w", reason, d, apperr.ErrMalformedGeometry)
}
