// Package imagegen 定义图片生成后端的统一接口，Gemini 与 APIMart 两种实现都遵循它。
package imagegen

import (
	"context"
	"errors"

	"progen-studio/internal/utils"
)

// ErrUnauthorized 远端服务拒绝了 API Key（401/403）
var ErrUnauthorized = errors.New("genai API key rejected")

// Image 一张图片的原始数据
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// DataURI 返回图片的 data URI 表示
func (img *Image) DataURI() string {
	return utils.EncodeDataURI(img.Data, img.MIMEType)
}

// Clone 深拷贝图片数据，避免多个状态共享同一块内存
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	data := make([]byte, len(img.Data))
	copy(data, img.Data)
	return &Image{Data: data, MIMEType: img.MIMEType}
}

// Request 单张图片的生成请求
type Request struct {
	// Prompt 已经合并了负向提示词的完整提示词
	Prompt string
	// Source 可选的源图片（图生图）
	Source      *Image
	AspectRatio string
	ImageSize   string
	Temperature float32
	Seed        int32
}

// Generator 图片生成后端
type Generator interface {
	// GenerateImage 执行一次生成。响应中没有图片数据时返回 (nil, nil)。
	GenerateImage(ctx context.Context, req Request) (*Image, error)
	// Close 释放客户端资源。调用方保证 Close 之后不再有进行中的 GenerateImage。
	Close() error
}

// Factory 根据 API Key 创建生成后端，用于运行期重新连接 Key
type Factory func(apiKey string) (Generator, error)
