package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentName(t *testing.T) {
	tests := []struct {
		name, given, rawURL, contentType string
		wantName, wantExt                string
	}{
		{"path extension", "", "https://example.com/files/report.PDF", "application/octet-stream", "report.PDF", ".pdf"},
		{"given name", "q3.docx", "https://example.com/download?id=1", "", "q3.docx", ".docx"},
		{"media type", "", "https://example.com/", "text/html; charset=utf-8", "example.com.html", ".html"},
		{"media type for bare path", "", "https://example.com/chart", "image/png", "chart.png", ".png"},
		{"jpeg alias", "", "https://example.com/a.jpeg", "", "a.jpeg", ".jpeg"},
		{"unknown", "", "https://example.com/a.zip", "application/zip", "a.zip", ".zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.rawURL)
			require.NoError(t, err)
			name, ext := documentName(tt.given, u, tt.contentType)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>Remote</h1>"))
		case "/big.html":
			_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
		case "/archive.zip":
			_, _ = w.Write([]byte("PK"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d, q := newDocuments(t)
	d.HTTPClient = srv.Client()

	res, err := d.fetchHandler(map[string]interface{}{"url": srv.URL + "/page"})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	id := decode(t, res)["id"].(string)
	assert.Equal(t, []string{id}, q.ids)

	doc, err := d.Store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "page.html", doc.Filename)
	assert.EqualValues(t, len("<h1>Remote</h1>"), doc.FileSize)
	data, err := os.ReadFile(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Remote</h1>", string(data))

	for _, tc := range []struct{ url, want string }{
		{"ftp://example.com/a.pdf", "invalid URL"},
		{srv.URL + "/missing.pdf", "404"},
		{srv.URL + "/big.html", "File too large"},
		{srv.URL + "/archive.zip", "Unsupported file type"},
	} {
		res, err := d.fetchHandler(map[string]interface{}{"url": tc.url})
		require.NoError(t, err)
		assert.True(t, res.IsError, tc.url)
		assert.Contains(t, resultText(t, res), tc.want)
	}
	assert.Len(t, q.ids, 1)

	entries, err := os.ReadDir(d.UploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
