package tools

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/athapong/docgraph/pkg/store"
	"github.com/athapong/docgraph/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
)

// contentTypeExt maps response media types to document extensions, for URLs
// whose path carries no usable extension.
var contentTypeExt = map[string]string{
	"text/html":       ".html",
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
}

func registerFetchTool(s *server.MCPServer, d *Documents) {
	tool := mcp.NewTool("upload_url",
		mcp.WithDescription("Download a document from an HTTP/HTTPS URL and queue it for graph processing"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The complete HTTP/HTTPS URL of the document (e.g., https://example.com/report.pdf)"),
		),
		mcp.WithString("filename", mcp.Description("Name to record for the document (default: taken from the URL)")),
		mcp.WithBoolean("wait", mcp.Description("Wait for processing to finish (default: false)")),
	)

	s.AddTool(tool, util.ErrorGuard(d.fetchHandler))
}

func (d *Documents) fetchHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	rawURL, ok := arguments["url"].(string)
	if !ok {
		return mcp.NewToolResultError("url must be a string"), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return mcp.NewToolResultError(fmt.Sprintf("invalid URL %q: only http and https are supported", rawURL)), nil
	}
	name, _ := arguments["filename"].(string)
	wait, _ := arguments["wait"].(bool)

	ctx, cancel := context.WithTimeout(context.Background(), d.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch URL: %s", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch URL: %s", resp.Status)), nil
	}

	name, ext := documentName(name, u, resp.Header.Get("Content-Type"))
	if !slices.Contains(d.Extensions, ext) {
		return mcp.NewToolResultError(fmt.Sprintf("Unsupported file type %q. Allowed: %s", ext, strings.Join(d.Extensions, ", "))), nil
	}

	id := store.NewID()
	dest := filepath.Join(d.UploadDir, id+ext)
	size, err := d.download(resp.Body, dest)
	if errors.Is(err, errTooLarge) {
		return mcp.NewToolResultError(fmt.Sprintf("File too large: more than %d bytes", d.MaxFileSize)), nil
	}
	if err != nil {
		return nil, err
	}

	return d.register(&store.Document{
		ID:       id,
		Filename: name,
		FileType: ext,
		FilePath: dest,
		FileSize: size,
	}, wait)
}

var errTooLarge = errors.New("download exceeds the maximum file size")

// download writes body to dest, refusing more than MaxFileSize bytes.
func (d *Documents) download(body io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, errors.Wrap(err, "create upload dir")
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, errors.Wrap(err, "create download")
	}

	r := body
	if d.MaxFileSize > 0 {
		r = io.LimitReader(body, d.MaxFileSize+1)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.MaxFileSize > 0 && n > d.MaxFileSize {
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(dest)
		if errors.Is(err, errTooLarge) {
			return 0, err
		}
		return 0, errors.Wrap(err, "read response body")
	}
	return n, nil
}

// documentName picks the recorded name and extension: the given name, else
// the last URL path segment, with the extension falling back to the media
// type.
func documentName(name string, u *url.URL, contentType string) (string, string) {
	if name == "" {
		name = path.Base(u.Path)
		if name == "." || name == "/" {
			name = u.Host
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, known := extContentType(ext); known {
		return name, ext
	}

	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return name, ext
	}
	if e, ok := contentTypeExt[media]; ok {
		return name + e, e
	}
	return name, ext
}

func extContentType(ext string) (string, bool) {
	for media, e := range contentTypeExt {
		if e == ext || (ext == ".jpeg" && e == ".jpg") || (ext == ".htm" && e == ".html") {
			return media, true
		}
	}
	return "", false
}
