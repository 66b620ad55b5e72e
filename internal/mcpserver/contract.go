package mcpserver

import (
	"fmt"
	"strings"
)

// DescriptorContract describes the JSON shape descriptors that LLM consumers
// send to set_annotations and update_shape. The class table is appended per
// session.
const DescriptorContract = `# segmark Shape Descriptor Format

Every annotation shape is a JSON object of one of two types.

## Rectangle (filled)

` + "```" + `json
{"type": "rect", "x0": 10, "y0": 12, "x1": 40, "y1": 30,
 "line": {"color": "#FD3216", "width": 8}}
` + "```" + `

## Freehand path (stroked)

` + "```" + `json
{"type": "path", "path": "M10,10L20,15L30,12",
 "line": {"color": "#00FE35", "width": 8}}
` + "```" + `

## Rules

1. **The line color selects the label class.** It MUST be one of the class
   colors listed below, as ` + "`" + `#RRGGBB` + "`" + `. Other colors are rejected.
2. **Coordinates are pixels.** With ` + "`" + `axis=trace` + "`" + ` (default) y grows downward
   from the top row. With ` + "`" + `axis=layout` + "`" + ` y grows upward and the image spans (0, height).
3. **Paths** use SVG syntax with M, L, H, V and Z commands only (absolute or relative).
   Curves are rejected.
4. **line.width** is the stroke width in pixels and must be positive. Rectangles are
   filled, so the width only matters for paths.
5. **set_annotations replaces the whole list.** Shapes left out are deleted. Shapes
   identical to existing ones keep their identity.
6. **update_shape** takes a partial object such as ` + "`" + `{"x1": 50}` + "`" + ` or
   ` + "`" + `{"line.color": "#6A76FC"}` + "`" + `. An index that no longer exists is ignored.
7. **segment_image needs two classes.** With fewer, it reports that no segmentation
   is available.
`

func (s *Server) contract() string {
	var b strings.Builder
	b.WriteString(DescriptorContract)
	b.WriteString("\n## Classes\n\n| class | color |\n|---|---|\n")
	for _, e := range s.svc.Palette().Classes {
		fmt.Fprintf(&b, "| %d | %s |\n", e.Class, e.Color)
	}
	return b.String()
}
