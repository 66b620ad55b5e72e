// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes segmark tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/render"
	"github.com/starford/segmark/internal/session"
)

const contractURI = "segmark://descriptor-format"

// Server wraps the MCP server with segmark tools.
type Server struct {
	mcp *server.MCPServer
	svc *session.Service
}

// New creates a new MCP server with all segmark tools registered.
func New(svc *session.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"segmark",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_images",
		mcp.WithDescription("List the images available for annotation with their size and shape count."),
	), s.listImages)

	s.mcp.AddTool(mcp.NewTool("get_annotations",
		mcp.WithDescription("Get the annotation shapes drawn on an image."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Image id (relative path, e.g. site/street.png)")),
		mcp.WithString("axis", mcp.Description("Coordinate convention: trace (y down) or layout (y up)")),
	), s.getAnnotations)

	s.mcp.AddTool(mcp.NewTool("set_annotations",
		mcp.WithDescription("Replace every annotation shape of an image. "+
			"Shapes MUST follow the descriptor format. Read it first via "+
			"the get_descriptor_contract tool or the "+contractURI+" resource. "+
			"Shapes omitted from the list are deleted."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Image id")),
		mcp.WithString("shapes", mcp.Required(), mcp.Description("JSON array of shape descriptors")),
		mcp.WithString("axis", mcp.Description("Coordinate convention: trace (y down) or layout (y up)")),
	), s.setAnnotations)

	s.mcp.AddTool(mcp.NewTool("update_shape",
		mcp.WithDescription("Change some fields of one annotation shape."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Image id")),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Index of the shape in the current list")),
		mcp.WithString("patch", mcp.Required(), mcp.Description(`JSON object with any of x0, y0, x1, y1, path, line.color, line.width, editable`)),
		mcp.WithString("axis", mcp.Description("Coordinate convention: trace (y down) or layout (y up)")),
	), s.updateShape)

	s.mcp.AddTool(mcp.NewTool("segment_image",
		mcp.WithDescription("Train a classifier on the annotated pixels of an image and "+
			"return the per-pixel class segmentation as a colored PNG. "+
			"Needs shapes of at least two different classes."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Image id")),
		mcp.WithBoolean("overlay", mcp.Description("Draw the segmentation over the source image")),
		mcp.WithNumber("max_side", mcp.Description("Downscale the returned PNG so its longer side fits (0 keeps full size)")),
	), s.segmentImage)

	s.mcp.AddTool(mcp.NewTool("get_palette",
		mcp.WithDescription("List the label classes and the stroke color that selects each class."),
	), s.getPalette)

	s.mcp.AddTool(mcp.NewTool("export_annotations",
		mcp.WithDescription("Export the shapes of every image as one JSON document."),
		mcp.WithString("axis", mcp.Description("Coordinate convention: trace (y down) or layout (y up)")),
	), s.exportAnnotations)

	s.mcp.AddTool(mcp.NewTool("add_image",
		mcp.WithDescription("Add an image for annotation from an http(s) URL or a base64 data URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; a UUID is used when absent")),
		mcp.WithString("dir", mcp.Description("Optional subdirectory")),
	), s.addImage)

	s.mcp.AddTool(mcp.NewTool("get_descriptor_contract",
		mcp.WithDescription("Returns the shape descriptor format. "+
			"Call this before setting or updating annotations."),
	), s.getDescriptorContract)

	// Resource: descriptor format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Shape Descriptor Format",
			mcp.WithResourceDescription("JSON format of annotation shapes and their label colors."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) axis(req mcp.CallToolRequest) (descriptor.Axis, error) {
	return descriptor.ParseAxis(req.GetString("axis", ""), s.svc.Axis())
}

func (s *Server) listImages(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	images, err := s.svc.ListImages(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(images), nil
}

func (s *Server) getAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	axis, err := s.axis(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Shapes(ctx, id, axis)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) setAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("shapes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	axis, err := s.axis(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var ds []descriptor.Descriptor
	if err := json.Unmarshal([]byte(raw), &ds); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("shapes must be a JSON array of descriptors: %v", err)), nil
	}
	res, err := s.svc.ReplaceShapes(ctx, id, ds, axis)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) updateShape(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	index, err := req.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("patch")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	axis, err := s.axis(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var patch descriptor.Patch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("patch must be a JSON object: %v", err)), nil
	}
	res, err := s.svc.UpdateShape(ctx, id, index, patch, axis)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) segmentImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seg, err := s.svc.Segment(ctx, id)
	if errors.Is(err, apperr.ErrInsufficientLabels) {
		return mcp.NewToolResultText("segmentation unavailable: draw shapes of at least two classes first"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var img image.Image = s.svc.ColorImage(seg)
	if req.GetBool("overlay", false) {
		if img, err = s.svc.OverlayImage(ctx, seg); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if maxSide := req.GetInt("max_side", 0); maxSide > 0 {
		img = render.Thumbnail(img, maxSide)
	}
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, _ := json.Marshal(seg.Info())
	return mcp.NewToolResultImage(string(info), base64.StdEncoding.EncodeToString(buf.Bytes()), "image/png"), nil
}

func (s *Server) getPalette(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Palette()), nil
}

func (s *Server) exportAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	axis, err := s.axis(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ExportAnnotations(ctx, axis)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getDescriptorContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.contract()), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     s.contract(),
		},
	}, nil
}
