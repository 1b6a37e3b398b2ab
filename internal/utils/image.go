package utils

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxDownloadBytes 单张图片下载大小上限
const maxDownloadBytes = 64 << 20

var downloadClient = &http.Client{
	Timeout: 60 * time.Second,
}

// DownloadImageFromURL 从 URL 下载图片，返回图片数据和 MIME 类型
func DownloadImageFromURL(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status code %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", err
	}

	// Content-Type 优先，其次根据内容嗅探，最后根据扩展名推断
	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = DetectMimeType(imageData, url)
	}

	return imageData, mimeType, nil
}

// DetectMimeType 根据文件头判断图片 MIME 类型，无法识别时按 URL/文件名扩展名推断
func DetectMimeType(data []byte, name string) string {
	if len(data) > 0 {
		if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
			return detected
		}
	}
	return InferMimeTypeFromURL(name)
}

// InferMimeTypeFromURL 从 URL 推断 MIME 类型（不区分大小写）
func InferMimeTypeFromURL(url string) string {
	// 去掉查询参数后再取扩展名
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(path.Ext(url)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	// 默认返回 png，与模型输出一致
	return "image/png"
}

// EncodeDataURI 将图片数据编码为 data URI
func EncodeDataURI(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// ParseDataURI 解析 base64 data URI，返回图片数据和 MIME 类型
func ParseDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", fmt.Errorf("not a data URI")
	}
	parts := strings.SplitN(uri, ",", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("invalid data URI format")
	}
	header := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("data URI is not base64 encoded")
	}
	mimeType := strings.TrimSuffix(header, ";base64")

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 data: %w", err)
	}
	if mimeType == "" {
		mimeType = DetectMimeType(data, "")
	}
	return data, mimeType, nil
}

// GenerateObjectKey 生成对象存储路径：{prefix}/yyyy-MM-dd/{name}_{uuid}{ext}
func GenerateObjectKey(prefix, name, mimeType string, now time.Time) string {
	if prefix == "" {
		prefix = "images"
	}
	if name == "" {
		name = "progen"
	}
	return fmt.Sprintf("%s/%s/%s_%s%s",
		strings.Trim(prefix, "/"),
		now.UTC().Format("2006-01-02"),
		name,
		uuid.NewString(),
		GetExtensionFromMimeType(mimeType),
	)
}

// GetExtensionFromMimeType 根据 MIME 类型获取文件扩展名（不区分大小写）
func GetExtensionFromMimeType(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".png"
	}
}

// TruncateForLog 截断长字符串用于日志，避免打印过长内容（如 base64）
func TruncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
