package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/segmark/internal/imaging"
)

const maxImageSize = 20 << 20 // 20 MB

var (
	// extToFormat maps accepted extensions to the decoder format name.
	extToFormat = map[string]string{
		".png": "png", ".jpg": "jpeg", ".jpeg": "jpeg", ".gif": "gif",
		".bmp": "bmp", ".tif": "tiff", ".tiff": "tiff", ".webp": "webp",
	}

	mimeToExt = map[string]string{
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"image/gif":  ".gif",
		"image/bmp":  ".bmp",
		"image/tiff": ".tiff",
		"image/webp": ".webp",
	}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

type addImageResult struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func (s *Server) addImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")
	dir := strings.Trim(req.GetString("dir", ""), "/")
	if strings.Contains(dir, "..") {
		return mcp.NewToolResultError(fmt.Sprintf("invalid dir: %s", dir)), nil
	}

	var data []byte
	var detectedExt string

	if strings.HasPrefix(rawURL, "data:") {
		data, detectedExt, err = decodeDataURI(rawURL)
	} else {
		data, detectedExt, err = fetchHTTP(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(data) > maxImageSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), maxImageSize)), nil
	}

	if filename == "" {
		filename = filenameFromURL(rawURL, detectedExt)
	}
	filename = sanitizeFilename(filename)

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := extToFormat[ext]; !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension: %s (allowed: png, jpg, jpeg, gif, bmp, tif, tiff, webp)", ext)), nil
	}
	if err := validateFormat(data, ext); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := filename
	if dir != "" {
		id = dir + "/" + filename
	}
	img, err := s.svc.AddImage(ctx, id, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.Marshal(addImageResult{ID: img.ID, Width: img.Width, Height: img.Height, Format: img.Format})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	ext := mimeToExt[mime]
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, ext, nil
}

// fetchHTTP downloads a file from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxImageSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxImageSize)
	}

	ct := resp.Header.Get("Content-Type")
	ext := mimeToExt[strings.Split(ct, ";")[0]]
	return data, ext, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// filenameFromURL tries to extract a filename from a URL, falling back to UUID.
func filenameFromURL(rawURL string, fallbackExt string) string {
	ext := fallbackExt
	if ext == "" {
		ext = ".png"
	}
	if strings.HasPrefix(rawURL, "data:") {
		return uuid.New().String() + ext
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	return uuid.New().String() + ext
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = uuid.New().String()
	}
	return name
}

// validateFormat verifies that the content decodes as the format its
// extension declares.
func validateFormat(data []byte, ext string) error {
	_, format, err := imaging.DecodeConfig(data)
	if err != nil {
		return fmt.Errorf("content is not a supported image: %w", err)
	}
	if format != extToFormat[ext] {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, format)
	}
	return nil
}
