package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"progen-studio/internal/imagegen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path string
	Body map[string]any
}

func newFakeGemini(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		captured = append(captured, capturedRequest{Path: r.URL.Path, Body: body})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   baseURL,
		ModelName: "gemini-test",
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{ModelName: "m"})
	assert.ErrorContains(t, err, "API key is required")

	_, err = NewClient(Config{APIKey: "k"})
	assert.ErrorContains(t, err, "model name is required")
}

func TestGenerateImageBuildsRequest(t *testing.T) {
	imageData := []byte("\x89PNG\r\n\x1a\nfake")
	response := `{"candidates":[{"content":{"role":"model","parts":[` +
		`{"text":"here you go"},` +
		`{"inlineData":{"mimeType":"image/png","data":"` + base64.StdEncoding.EncodeToString(imageData) + `"}}]}}]}`
	srv, captured := newFakeGemini(t, http.StatusOK, response)
	client := newTestClient(t, srv.URL)

	source := &imagegen.Image{Data: []byte("source-bytes"), MIMEType: "image/jpeg"}
	img, err := client.GenerateImage(context.Background(), imagegen.Request{
		Prompt:      "a red fox",
		Source:      source,
		AspectRatio: "16:9",
		ImageSize:   "2K",
		Temperature: 0.5,
		Seed:        1234,
	})
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, imageData, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.True(t, strings.HasSuffix(req.Path, "/models/gemini-test:generateContent"), req.Path)

	contents := req.Body["contents"].([]any)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	// 源图片在前，提示词在后
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(source.Data), inline["data"])
	assert.Equal(t, "a red fox", parts[1].(map[string]any)["text"])

	genCfg := req.Body["generationConfig"].(map[string]any)
	assert.InDelta(t, 0.5, genCfg["temperature"], 1e-6)
	assert.EqualValues(t, 1234, genCfg["seed"])
	imageCfg := genCfg["imageConfig"].(map[string]any)
	assert.Equal(t, "16:9", imageCfg["aspectRatio"])
	assert.Equal(t, "2K", imageCfg["imageSize"])
}

func TestGenerateImageWithoutSourceSendsOnlyText(t *testing.T) {
	response := `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"AAAA"}}]}}]}`
	srv, captured := newFakeGemini(t, http.StatusOK, response)
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateImage(context.Background(), imagegen.Request{Prompt: "only text", AspectRatio: "1:1", ImageSize: "1K"})
	require.NoError(t, err)

	parts := (*captured)[0].Body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "only text", parts[0].(map[string]any)["text"])
}

func TestGenerateImageNoImageReturnsNil(t *testing.T) {
	response := `{"candidates":[{"content":{"parts":[{"text":"I cannot draw that"}]}}]}`
	srv, _ := newFakeGemini(t, http.StatusOK, response)
	client := newTestClient(t, srv.URL)

	img, err := client.GenerateImage(context.Background(), imagegen.Request{Prompt: "x", AspectRatio: "1:1", ImageSize: "1K"})
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestGenerateImageUnauthorized(t *testing.T) {
	response := `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`
	srv, _ := newFakeGemini(t, http.StatusForbidden, response)
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateImage(context.Background(), imagegen.Request{Prompt: "x", AspectRatio: "1:1", ImageSize: "1K"})
	require.Error(t, err)
	assert.ErrorIs(t, err, imagegen.ErrUnauthorized)
}

func TestGenerateImageServerError(t *testing.T) {
	response := `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`
	srv, _ := newFakeGemini(t, http.StatusInternalServerError, response)
	client := newTestClient(t, srv.URL)

	_, err := client.GenerateImage(context.Background(), imagegen.Request{Prompt: "x", AspectRatio: "1:1", ImageSize: "1K"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, imagegen.ErrUnauthorized)
	assert.Contains(t, err.Error(), "failed to generate image")
}
