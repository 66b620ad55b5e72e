package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/segmark/internal/catalog"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/features"
	"github.com/starford/segmark/internal/session"
	"github.com/starford/segmark/internal/storage"
	"github.com/starford/segmark/internal/testutil"
)

const twoShapes = `[
 {"type":"rect","x0":4,"y0":4,"x1":12,"y1":12,"line":{"color":"#FD3216","width":2}},
 {"type":"rect","x0":20,"y0":4,"x1":28,"y1":12,"line":{"color":"#00FE35","width":2}}
]`

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()
	_, store := testutil.TestImages(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := store.Write("board.png", testutil.PNG(t, testutil.Checkerboard(64, 64, 16))); err != nil {
		t.Fatal(err)
	}
	if err := catalog.Sync(db, store, logger); err != nil {
		t.Fatal(err)
	}

	cfg := engine.DefaultConfig()
	cfg.Features = features.Config{SigmaMin: 0.5, SigmaMax: 2, Intensity: true, Edges: true, Texture: true}
	cfg.Forest.Trees = 10
	svc, err := session.New(store, db, session.Options{Engine: engine.New(cfg, logger), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, "test"), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_images":
		result, err = srv.listImages(ctx, req)
	case "get_annotations":
		result, err = srv.getAnnotations(ctx, req)
	case "set_annotations":
		result, err = srv.setAnnotations(ctx, req)
	case "update_shape":
		result, err = srv.updateShape(ctx, req)
	case "segment_image":
		result, err = srv.segmentImage(ctx, req)
	case "get_palette":
		result, err = srv.getPalette(ctx, req)
	case "export_annotations":
		result, err = srv.exportAnnotations(ctx, req)
	case "add_image":
		result, err = srv.addImage(ctx, req)
	case "get_descriptor_contract":
		result, err = srv.getDescriptorContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListImages(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_images", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("list error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"board.png"`) {
		t.Errorf("list = %s", resultText(r))
	}
}

func TestSetAndGetAnnotations(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "set_annotations", map[string]interface{}{"image": "board.png", "shapes": twoShapes})
	if r.IsError {
		t.Fatalf("set error: %s", resultText(r))
	}

	r = callTool(t, srv, "get_annotations", map[string]interface{}{"image": "board.png", "axis": "layout"})
	var res session.ShapesResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Shapes) != 2 || *res.Shapes[0].Y0 != 60 {
		t.Errorf("shapes = %+v", res.Shapes)
	}

	r = callTool(t, srv, "set_annotations", map[string]interface{}{"image": "board.png", "shapes": "{"})
	if !r.IsError {
		t.Error("malformed shapes should fail")
	}
	r = callTool(t, srv, "get_annotations", map[string]interface{}{"image": "nope.png"})
	if !r.IsError {
		t.Error("unknown image should fail")
	}
}

func TestUpdateShape(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "set_annotations", map[string]interface{}{"image": "board.png", "shapes": twoShapes})

	r := callTool(t, srv, "update_shape", map[string]interface{}{
		"image": "board.png", "index": float64(0), "patch": `{"x1": 10}`,
	})
	if r.IsError {
		t.Fatalf("update error: %s", resultText(r))
	}
	var res session.UpdateResult
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if !res.Applied || *res.Shape.X1 != 10 {
		t.Errorf("update = %+v", res)
	}
}

func TestSegmentImage(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "segment_image", map[string]interface{}{"image": "board.png"})
	if r.IsError || !strings.Contains(resultText(r), "unavailable") {
		t.Fatalf("segment without labels = %s", resultText(r))
	}

	callTool(t, srv, "set_annotations", map[string]interface{}{"image": "board.png", "shapes": twoShapes})
	r = callTool(t, srv, "segment_image", map[string]interface{}{"image": "board.png", "overlay": true})
	if r.IsError {
		t.Fatalf("segment error: %s", resultText(r))
	}
	var found bool
	for _, c := range r.Content {
		ic, ok := c.(mcp.ImageContent)
		if !ok {
			continue
		}
		found = true
		data, err := base64.StdEncoding.DecodeString(ic.Data)
		if err != nil {
			t.Fatal(err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		if img.Bounds().Dx() != 64 {
			t.Errorf("width = %d", img.Bounds().Dx())
		}
	}
	if !found {
		t.Error("no image content")
	}

	r = callTool(t, srv, "segment_image", map[string]interface{}{"image": "board.png", "max_side": float64(16)})
	for _, c := range r.Content {
		if ic, ok := c.(mcp.ImageContent); ok {
			data, _ := base64.StdEncoding.DecodeString(ic.Data)
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil || img.Bounds().Dx() != 16 {
				t.Errorf("thumbnail = %v, %v", img, err)
			}
		}
	}
}

func TestContractListsClasses(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_descriptor_contract", map[string]interface{}{}))
	if !strings.Contains(text, "| 0 | #FD3216 |") {
		t.Errorf("contract missing class table")
	}
	res, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(res) != 1 {
		t.Fatalf("resource = %v, %v", res, err)
	}
}

func TestExportAnnotations(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "set_annotations", map[string]interface{}{"image": "board.png", "shapes": twoShapes})
	text := resultText(callTool(t, srv, "export_annotations", map[string]interface{}{}))
	var e struct {
		Axis   string                       `json:"axis"`
		Images map[string][]json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal([]byte(text), &e); err != nil {
		t.Fatal(err)
	}
	if e.Axis != "trace" || len(e.Images["board.png"]) != 2 {
		t.Errorf("export = %s", text)
	}
}

func TestAddImageDataURI(t *testing.T) {
	srv, store := testServer(t)
	data := testutil.PNG(t, testutil.Checkerboard(6, 4, 2))
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	r := callTool(t, srv, "add_image", map[string]interface{}{"url": uri, "filename": "tiny.png", "dir": "uploads"})
	if r.IsError {
		t.Fatalf("add_image error: %s", resultText(r))
	}
	var res addImageResult
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.ID != "uploads/tiny.png" || res.Width != 6 || res.Format != "png" {
		t.Errorf("result = %+v", res)
	}
	if _, err := store.Read("uploads/tiny.png"); err != nil {
		t.Errorf("file not stored: %v", err)
	}

	// Without a name the file gets a uuid.
	r = callTool(t, srv, "add_image", map[string]interface{}{"url": uri})
	if r.IsError {
		t.Fatalf("add_image error: %s", resultText(r))
	}
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if !strings.HasSuffix(res.ID, ".png") || len(res.ID) != 36+4 {
		t.Errorf("generated id = %q", res.ID)
	}
}

func TestAddImageRejects(t *testing.T) {
	srv, _ := testServer(t)
	data := testutil.PNG(t, testutil.Checkerboard(6, 4, 2))
	b64 := base64.StdEncoding.EncodeToString(data)

	cases := map[string]map[string]interface{}{
		"wrong extension": {"url": "data:image/png;base64," + b64, "filename": "x.jpg"},
		"not base64":      {"url": "data:image/png,raw"},
		"bad mime":        {"url": "data:text/plain;base64,aGk="},
		"loopback":        {"url": "http://127.0.0.1/x.png"},
		"scheme":          {"url": "ftp://example.com/x.png"},
		"traversal dir":   {"url": "data:image/png;base64," + b64, "dir": "../up"},
		"undecodable":     {"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("nope"))},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if r := callTool(t, srv, "add_image", args); !r.IsError {
				t.Errorf("expected error, got %s", resultText(r))
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd.png": "passwd.png",
		"my image (1).png":     "my_image__1_.png",
		".hidden.png":          "hidden.png",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
