package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"progen-studio/internal/gallery"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/settings"
	"progen-studio/internal/studio"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGenerator struct {
	mu   sync.Mutex
	reqs []imagegen.Request
	err  error
}

func (g *recordingGenerator) GenerateImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &imagegen.Image{Data: []byte("png-bytes"), MIMEType: "image/png"}, nil
}

func (g *recordingGenerator) Close() error { return nil }

func newTools(t *testing.T) (*StudioTools, *recordingGenerator) {
	t.Helper()
	gen := &recordingGenerator{}
	st := studio.New(func(string) (imagegen.Generator, error) { return gen, nil }, gallery.New())
	_, err := st.ConnectKey("test-key-123456")
	require.NoError(t, err)
	return &StudioTools{studio: st}, gen
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(res.Content), i)
	text, ok := res.Content[i].(mcp.TextContent)
	require.True(t, ok, "content %d is %T", i, res.Content[i])
	return text.Text
}

func TestRegisterStudioTools(t *testing.T) {
	s := server.NewMCPServer("test", "0.0.1", server.WithToolCapabilities(true))
	tools, _ := newTools(t)
	require.NoError(t, RegisterStudioTools(s, tools.studio))

	registered := s.ListTools()
	for _, name := range []string{"studio_generate_images", "studio_list_images", "studio_delete_image", "studio_use_image_as_input"} {
		assert.Contains(t, registered, name)
	}

	assert.Error(t, RegisterStudioTools(s, nil))
}

func TestPatchFromRequestOnlySetsProvidedArguments(t *testing.T) {
	p := patchFromRequest(call(map[string]any{"prompt": "a fox", "batch_size": float64(2), "aspect_ratio": "4:3"}))

	require.NotNil(t, p.Prompt)
	assert.Equal(t, "a fox", *p.Prompt)
	require.NotNil(t, p.BatchSize)
	assert.Equal(t, 2, *p.BatchSize)
	require.NotNil(t, p.AspectRatio)
	assert.Equal(t, settings.AspectLandscape, *p.AspectRatio)
	assert.Nil(t, p.Seed)
	assert.Nil(t, p.Creativity)
	assert.Nil(t, p.NegativePrompt)
}

func TestHandleGenerate(t *testing.T) {
	tools, gen := newTools(t)

	res, err := tools.handleGenerate(context.Background(), call(map[string]any{
		"prompt":          "a fox",
		"negative_prompt": "snow",
		"batch_size":      float64(2),
		"seed":            float64(11),
		"creativity":      0.4,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res, 0))

	assert.Equal(t, "Generated 2 image(s).", textOf(t, res, 0))
	img, ok := res.Content[2].(mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), img.Data)

	require.Len(t, gen.reqs, 2)
	assert.Contains(t, gen.reqs[0].Prompt, "strictly exclude the following elements: snow")
	assert.EqualValues(t, 11, gen.reqs[0].Seed)
	assert.InDelta(t, 0.4, gen.reqs[0].Temperature, 1e-6)
	assert.Equal(t, 2, tools.studio.Gallery().Len())
}

func TestHandleGenerateErrors(t *testing.T) {
	tools, gen := newTools(t)

	res, err := tools.handleGenerate(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.handleGenerate(context.Background(), call(map[string]any{"prompt": "x", "batch_size": float64(10)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res, 0), "invalid settings")

	gen.err = errors.New("quota exceeded")
	res, err = tools.handleGenerate(context.Background(), call(map[string]any{"prompt": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res, 0), "quota exceeded")
}

func TestListDeleteAndUseAsInput(t *testing.T) {
	tools, _ := newTools(t)
	_, err := tools.handleGenerate(context.Background(), call(map[string]any{"prompt": "x", "batch_size": float64(2)}))
	require.NoError(t, err)

	res, err := tools.handleList(context.Background(), call(nil))
	require.NoError(t, err)
	var items []imageSummary
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res, 0)), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "x", items[0].Prompt)

	res, err = tools.handleUseAsInput(context.Background(), call(map[string]any{"id": items[0].ID}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotNil(t, tools.studio.SourceImage())
	assert.Equal(t, studio.GeneratedInputName, tools.studio.SourceImage().Name)

	res, err = tools.handleDelete(context.Background(), call(map[string]any{"id": items[1].ID}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 1, tools.studio.Gallery().Len())

	res, err = tools.handleDelete(context.Background(), call(map[string]any{"id": items[1].ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.handleUseAsInput(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
