package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"progen-studio/common"
	"progen-studio/internal/gallery"
	"progen-studio/internal/settings"
	"progen-studio/internal/studio"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"
)

// StudioTools 把创作会话暴露为 MCP tools
//
// 工具列表：
//   - studio_generate_images      按参数批量生成，返回图片
//   - studio_list_images          列出图库（仅元数据）
//   - studio_delete_image         删除图库中的图片
//   - studio_use_image_as_input   把图库图片设为下一次生成的源图片
type StudioTools struct {
	studio *studio.Studio
}

// RegisterStudioTools 注册工作室相关的 MCP tools
func RegisterStudioTools(s *server.MCPServer, st *studio.Studio) error {
	if st == nil {
		return fmt.Errorf("studio is required")
	}
	t := &StudioTools{studio: st}

	ratios := lo.Map(settings.AspectRatios(), func(a settings.AspectRatio, _ int) string { return string(a) })
	sizes := lo.Map(settings.ImageSizes(), func(v settings.ImageSize, _ int) string { return string(v) })

	s.AddTool(mcp.NewTool(
		"studio_generate_images",
		mcp.WithDescription("Generate a batch of images with the remote image model. Unset parameters keep the current studio settings. If a source image is set, the model remixes it."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Text prompt describing the image to generate"),
		),
		mcp.WithString("negative_prompt",
			mcp.Description("Elements the model should strictly exclude"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Seed for reproducible output, -1 for a random seed per image"),
			mcp.Min(settings.RandomSeed),
			mcp.Max(settings.MaxSeed-1),
		),
		mcp.WithNumber("batch_size",
			mcp.Description("Number of images to generate in parallel"),
			mcp.Min(settings.MinBatchSize),
			mcp.Max(settings.MaxBatchSize),
		),
		mcp.WithString("aspect_ratio",
			mcp.Description("Output aspect ratio"),
			mcp.Enum(ratios...),
		),
		mcp.WithString("image_size",
			mcp.Description("Output resolution"),
			mcp.Enum(sizes...),
		),
		mcp.WithNumber("creativity",
			mcp.Description("Sampling temperature"),
			mcp.Min(settings.MinCreativity),
			mcp.Max(settings.MaxCreativity),
		),
	), t.handleGenerate)

	s.AddTool(mcp.NewTool(
		"studio_list_images",
		mcp.WithDescription("List the images in the studio gallery, newest first. Returns metadata as JSON."),
	), t.handleList)

	s.AddTool(mcp.NewTool(
		"studio_delete_image",
		mcp.WithDescription("Delete an image from the studio gallery."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Gallery image id"),
		),
	), t.handleDelete)

	s.AddTool(mcp.NewTool(
		"studio_use_image_as_input",
		mcp.WithDescription("Use a gallery image as the source image of the next generation."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Gallery image id"),
		),
	), t.handleUseAsInput)

	return nil
}

// patchFromRequest 只取调用方实际传入的参数
func patchFromRequest(req mcp.CallToolRequest) settings.Patch {
	args := req.GetArguments()
	var p settings.Patch

	prompt := req.GetString("prompt", "")
	p.Prompt = &prompt
	if _, ok := args["negative_prompt"]; ok {
		p.NegativePrompt = lo.ToPtr(req.GetString("negative_prompt", ""))
	}
	if _, ok := args["seed"]; ok {
		p.Seed = lo.ToPtr(int64(req.GetInt("seed", settings.RandomSeed)))
	}
	if _, ok := args["batch_size"]; ok {
		p.BatchSize = lo.ToPtr(req.GetInt("batch_size", settings.MinBatchSize))
	}
	if _, ok := args["aspect_ratio"]; ok {
		p.AspectRatio = lo.ToPtr(settings.AspectRatio(req.GetString("aspect_ratio", "")))
	}
	if _, ok := args["image_size"]; ok {
		p.ImageSize = lo.ToPtr(settings.ImageSize(req.GetString("image_size", "")))
	}
	if _, ok := args["creativity"]; ok {
		p.Creativity = lo.ToPtr(req.GetFloat("creativity", 1.0))
	}
	return p
}

func (t *StudioTools) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := req.RequireString("prompt"); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("prompt parameter is required: %v", err)), nil
	}

	if _, err := t.studio.UpdateSettings(patchFromRequest(req)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid settings: %v", err)), nil
	}

	entries, err := t.studio.Generate(ctx)
	if err != nil {
		common.WithError(err).Error("MCP: batch generation failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate images: %v", err)), nil
	}

	summary := fmt.Sprintf("Generated %d image(s).", len(entries))
	content := []mcp.Content{mcp.NewTextContent(summary)}
	for _, e := range entries {
		content = append(content,
			mcp.NewTextContent(fmt.Sprintf("id=%s seed=%d", e.ID, e.Seed)),
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(e.Image.Data), e.Image.MIMEType),
		)
	}
	return &mcp.CallToolResult{Content: content}, nil
}

type imageSummary struct {
	ID          string               `json:"id"`
	MIMEType    string               `json:"mime_type"`
	Seed        int32                `json:"seed"`
	Timestamp   int64                `json:"timestamp"`
	Prompt      string               `json:"prompt"`
	AspectRatio settings.AspectRatio `json:"aspect_ratio"`
	ImageSize   settings.ImageSize   `json:"image_size"`
}

func (t *StudioTools) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items := lo.Map(t.studio.Gallery().List(), func(e gallery.GeneratedImage, _ int) imageSummary {
		return imageSummary{
			ID:          e.ID,
			MIMEType:    e.Image.MIMEType,
			Seed:        e.Seed,
			Timestamp:   e.Timestamp,
			Prompt:      e.Settings.Prompt,
			AspectRatio: e.Settings.AspectRatio,
			ImageSize:   e.Settings.ImageSize,
		}
	})

	data, err := json.Marshal(items)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode gallery: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *StudioTools) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("id parameter is required: %v", err)), nil
	}
	if err := t.studio.Gallery().Delete(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete image %s: %v", id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted image %s", id)), nil
}

func (t *StudioTools) handleUseAsInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("id parameter is required: %v", err)), nil
	}
	src, err := t.studio.UseAsInput(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to use image %s as input: %v", id, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Image %s is now the source image (%s, %s)", id, src.Name, src.Image.MIMEType)), nil
}
