package utils

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDataURIRoundTrip(t *testing.T) {
	data := pngBytes(t)

	uri := EncodeDataURI(data, "image/png")
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	decoded, mimeType, err := ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, data, decoded)
}

func TestParseDataURIErrors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{name: "http url", uri: "https://example.com/a.png"},
		{name: "missing comma", uri: "data:image/png;base64"},
		{name: "not base64", uri: "data:text/plain,hello"},
		{name: "bad payload", uri: "data:image/png;base64,@@@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseDataURI(tt.uri)
			assert.Error(t, err)
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "image/png", DetectMimeType(pngBytes(t), "whatever.jpg"))
	assert.Equal(t, "image/jpeg", DetectMimeType([]byte("not an image"), "photo.JPEG"))
	assert.Equal(t, "image/webp", DetectMimeType(nil, "https://cdn.example.com/x.webp?sig=abc"))
	assert.Equal(t, "image/png", DetectMimeType(nil, ""))
}

func TestGetExtensionFromMimeType(t *testing.T) {
	assert.Equal(t, ".jpg", GetExtensionFromMimeType("IMAGE/JPEG"))
	assert.Equal(t, ".png", GetExtensionFromMimeType("image/png"))
	assert.Equal(t, ".webp", GetExtensionFromMimeType("image/webp"))
	assert.Equal(t, ".png", GetExtensionFromMimeType("application/octet-stream"))
}

func TestGenerateObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)

	key := GenerateObjectKey("/exports/", "sunset", "image/jpeg", now)
	assert.True(t, strings.HasPrefix(key, "exports/2026-03-04/sunset_"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)

	key = GenerateObjectKey("", "", "image/png", now)
	assert.True(t, strings.HasPrefix(key, "images/2026-03-04/progen_"), key)
}

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "short", TruncateForLog("short", 10))
	assert.Equal(t, "abcdefg...", TruncateForLog("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateForLog("abcdef", 2))
}

func TestDownloadImageFromURL(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			// 不设置 Content-Type，依赖嗅探
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got, mimeType, err := DownloadImageFromURL(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", mimeType)

	_, _, err = DownloadImageFromURL(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}
