package apimart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"progen-studio/common"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/utils"
)

// 默认请求超时时间（单次调用 APIMart 接口）
const defaultApimartTimeout = 60 * time.Second

// 默认任务轮询间隔
const defaultPollInterval = 2 * time.Second

// 整个任务的超时是单次调用超时的倍数
const taskTimeoutFactor = 5

// Client APIMart 客户端实现，通过异步任务接口调用 Gemini 图片模型。
//
// 注意：
// - 具体的 API 路径、请求/响应结构请参照 APIMart 文档：
//   - 图片生成：https://docs.apimart.ai/en/api-reference/images/gemini-3-pro/generation
//   - 任务查询：https://docs.apimart.ai/en/api-reference/task-management/get-task-status
type Client struct {
	httpClient *http.Client

	baseURL string
	apiKey  string
	model   string

	// API 路径
	createPath string
	queryPath  string

	timeout      time.Duration
	pollInterval time.Duration
}

// Config APIMart 客户端配置。
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// 可选：自定义任务的 HTTP 路径（相对 BaseURL）
	CreatePath string
	QueryPath  string

	// Timeout 是单个 HTTP 调用的超时；整个任务的等待时长由调用方的 ctx 决定
	Timeout      time.Duration
	PollInterval time.Duration

	// HTTPClient 可选，主要用于测试
	HTTPClient *http.Client
}

// NewClient 创建 APIMart 客户端。
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apimart base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("apimart API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("apimart model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultApimartTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		createPath:   cfg.CreatePath,
		queryPath:    cfg.QueryPath,
		timeout:      timeout,
		pollInterval: pollInterval,
	}

	// 设置默认路径
	if c.createPath == "" {
		c.createPath = "/v1/images/generations"
	}
	if c.queryPath == "" {
		c.queryPath = "/v1/tasks"
	}

	return c, nil
}

// Close 预留关闭方法，当前未持有需要显式关闭的资源。
func (c *Client) Close() error {
	return nil
}

// GenerateImage 创建任务、轮询直到结束，然后下载结果图片。
// 网关不支持 seed 与 temperature，这两个参数会被忽略。
func (c *Client) GenerateImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	common.WithFields(map[string]interface{}{
		"model":       c.model,
		"seed":        req.Seed,
		"temperature": req.Temperature,
	}).Debug("APIMart ignores seed and temperature")

	// 整个任务（创建、轮询、下载）的等待上限
	ctx, cancel := context.WithTimeout(ctx, c.timeout*taskTimeoutFactor)
	defer cancel()

	taskID, err := c.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}

	imageURL, err := c.WaitForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if imageURL == "" {
		common.WithField("task_id", taskID).Warn("APIMart task finished without an image")
		return nil, nil
	}

	data, mimeType, err := utils.DownloadImageFromURL(ctx, imageURL)
	if err != nil {
		common.WithError(err).WithField("image_url", imageURL).Error("APIMart: failed to download generated image")
		return nil, fmt.Errorf("failed to download generated image: %w", err)
	}

	common.WithFields(map[string]interface{}{
		"task_id":   taskID,
		"mime_type": mimeType,
		"size":      len(data),
	}).Debug("APIMart image generated successfully")

	return &imagegen.Image{Data: data, MIMEType: mimeType}, nil
}

// CreateTask 调用图片生成任务创建接口，返回 task_id。
func (c *Client) CreateTask(ctx context.Context, req imagegen.Request) (string, error) {
	common.WithFields(map[string]interface{}{
		"model":      c.model,
		"prompt":     utils.TruncateForLog(req.Prompt, 120),
		"size":       req.AspectRatio,
		"resolution": req.ImageSize,
		"has_source": req.Source != nil,
		"endpoint":   c.baseURL + c.createPath,
	}).Info("Creating APIMart image task")

	// 构建请求体，参考 APIMart 文档：
	// {
	//   "model": "gemini-3-pro-image-preview",
	//   "prompt": "...",
	//   "size": "1:1",
	//   "resolution": "1K",
	//   "n": 1,
	//   "image_urls": ["data:image/png;base64,..."]
	// }
	payload := map[string]interface{}{
		"model":  c.model,
		"prompt": req.Prompt,
		"n":      1,
	}
	if req.AspectRatio != "" {
		payload["size"] = req.AspectRatio
	}
	if req.ImageSize != "" {
		payload["resolution"] = req.ImageSize
	}
	if req.Source != nil && len(req.Source.Data) > 0 {
		payload["image_urls"] = []string{req.Source.DataURI()}
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.createPath, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create image task: %w", err)
	}

	var resp createTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		common.WithError(err).WithField("body", utils.TruncateForLog(string(body), 512)).Error("Failed to parse APIMart create-task response")
		return "", fmt.Errorf("failed to parse create task response: %w", err)
	}

	if len(resp.Data) == 0 || resp.Data[0].TaskID == "" {
		common.WithField("body", utils.TruncateForLog(string(body), 512)).Error("APIMart create-task response missing task_id")
		return "", fmt.Errorf("apimart create task response missing task_id")
	}

	return resp.Data[0].TaskID, nil
}

// WaitForTask 轮询任务状态，成功时返回首个图片 URL，失败时返回错误。
func (c *Client) WaitForTask(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.QueryTask(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch taskState(resp) {
		case stateSucceeded:
			return extractFirstImageURL(resp), nil
		case stateFailed:
			msg := resp.Message
			if resp.Data != nil && resp.Data.Error != nil && resp.Data.Error.Message != "" {
				msg = resp.Data.Error.Message
			}
			return "", fmt.Errorf("apimart task %s failed: status=%s, message=%s", taskID, resp.Data.Status, msg)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("apimart task %s not finished: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// QueryTask 查询一次任务状态。
func (c *Client) QueryTask(ctx context.Context, taskID string) (*taskQueryResponse, error) {
	common.WithFields(map[string]interface{}{
		"task_id":  taskID,
		"endpoint": c.baseURL + c.queryPath + "/" + taskID,
	}).Debug("Querying APIMart image task")

	// APIMart 查询任务使用 GET 且 task_id 在 URL 路径中
	queryPath := fmt.Sprintf("%s/%s", c.queryPath, taskID)
	body, err := c.doRequest(ctx, http.MethodGet, queryPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query image task: %w", err)
	}

	var resp taskQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse task response: %w", err)
	}
	if resp.Data == nil || resp.Data.Status == "" {
		return nil, fmt.Errorf("invalid task response: missing status")
	}

	return &resp, nil
}

// doRequest 统一封装 HTTP 请求逻辑。
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	// 为单次请求设置超时
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	// APIMart 使用 Authorization Bearer 认证
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		common.WithFields(map[string]interface{}{
			"status_code": resp.StatusCode,
			"url":         url,
			"body":        utils.TruncateForLog(string(respBody), 512),
		}).Error("APIMart API returned non-success status")

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: apimart status %d", imagegen.ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("apimart api error: status %d, body: %s", resp.StatusCode, utils.TruncateForLog(string(respBody), 512))
	}

	return respBody, nil
}
