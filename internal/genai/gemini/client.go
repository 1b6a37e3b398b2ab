package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"progen-studio/common"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/utils"

	"google.golang.org/genai"
)

// 默认请求超时时间（单张图片的 Gemini 调用）
const defaultGenAITimeout = 120 * time.Second

// Client Gemini 客户端实现
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// Config Gemini 客户端配置
type Config struct {
	APIKey    string        // API Key
	BaseURL   string        // 自定义 Base URL，如果为空则使用默认值
	ModelName string        // 模型名称，例如：gemini-3-pro-image-preview
	Timeout   time.Duration // 单次请求超时时间
	// HTTPClient 可选，主要用于测试
	HTTPClient *http.Client
}

// NewClient 创建新的 Gemini 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}

	// 如果提供了自定义 Base URL，设置 HTTPOptions
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenAITimeout
	}

	return &Client{
		client:  client,
		model:   cfg.ModelName,
		timeout: timeout,
	}, nil
}

// Close 关闭客户端（genai.Client 不需要显式关闭）
func (c *Client) Close() error {
	return nil
}

// GenerateImage 生成一张图片：可选源图片 + 文本提示词 + 图片配置
func (c *Client) GenerateImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	common.WithFields(map[string]interface{}{
		"model":        c.model,
		"prompt":       utils.TruncateForLog(req.Prompt, 120),
		"has_source":   req.Source != nil,
		"aspect_ratio": req.AspectRatio,
		"image_size":   req.ImageSize,
		"temperature":  req.Temperature,
		"seed":         req.Seed,
	}).Debug("Starting image generation")

	// 为本次请求设置超时时间，避免无休止等待
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.Models.GenerateContent(ctx, c.model, buildContents(req), buildConfig(req))
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"model": c.model,
			"seed":  req.Seed,
		}).Error("Failed to generate image from Gemini API")
		return nil, wrapAPIError(err)
	}

	img, err := extractImage(ctx, result)
	if err != nil {
		return nil, err
	}
	if img == nil {
		common.WithFields(map[string]interface{}{
			"model": c.model,
			"seed":  req.Seed,
		}).Warn("No image data found in Gemini response")
		return nil, nil
	}

	common.WithFields(map[string]interface{}{
		"model":     c.model,
		"mime_type": img.MIMEType,
		"size":      len(img.Data),
		"seed":      req.Seed,
	}).Debug("Image generated successfully")

	return img, nil
}

// buildContents 构建请求内容：源图片在前，提示词在后
func buildContents(req imagegen.Request) []*genai.Content {
	parts := make([]*genai.Part, 0, 2)
	if req.Source != nil && len(req.Source.Data) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				Data:     req.Source.Data,
				MIMEType: req.Source.MIMEType,
			},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildConfig 把请求参数映射为 GenerateContentConfig
func buildConfig(req imagegen.Request) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			AspectRatio: req.AspectRatio,
			ImageSize:   req.ImageSize,
		},
		Temperature: genai.Ptr(req.Temperature),
		Seed:        genai.Ptr(req.Seed),
	}
}

// extractImage 从第一个候选结果中取出第一张图片
func extractImage(ctx context.Context, result *genai.GenerateContentResponse) (*imagegen.Image, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, nil
	}

	candidate := result.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil, nil
	}

	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		// 内联图片数据
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = utils.DetectMimeType(part.InlineData.Data, "")
			}
			return &imagegen.Image{Data: part.InlineData.Data, MIMEType: mimeType}, nil
		}

		// 文件 URI，需要下载
		if part.FileData != nil && isHTTPURL(part.FileData.FileURI) {
			data, mimeType, err := utils.DownloadImageFromURL(ctx, part.FileData.FileURI)
			if err != nil {
				common.WithError(err).WithField("file_uri", part.FileData.FileURI).Error("Failed to download image referenced by Gemini response")
				return nil, fmt.Errorf("failed to download image: %w", err)
			}
			if part.FileData.MIMEType != "" {
				mimeType = part.FileData.MIMEType
			}
			return &imagegen.Image{Data: data, MIMEType: mimeType}, nil
		}
	}

	return nil, nil
}

// wrapAPIError 将鉴权失败映射为 imagegen.ErrUnauthorized
func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %s", imagegen.ErrUnauthorized, apiErr.Error())
		}
	}
	return fmt.Errorf("failed to generate image: %w", err)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
