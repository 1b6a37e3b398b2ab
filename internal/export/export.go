// Package export 负责下载相关的图片处理：JPEG 压缩、文件命名、缩略图与源图片校验。
package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"progen-studio/internal/imagegen"
	"progen-studio/internal/utils"

	"github.com/disintegration/imaging"
	"github.com/samber/lo"
	_ "golang.org/x/image/webp"
)

// DefaultDownloadPrefix 文件名前缀为空时使用
const DefaultDownloadPrefix = "progen"

// DefaultThumbnailSize 缩略图的最大边长
const DefaultThumbnailSize = 384

// ErrUnsupportedImage 无法识别的图片数据
var ErrUnsupportedImage = errors.New("unsupported image data")

// CompressJPEG 把图片重新编码为 JPEG，quality 取值 0.1 ~ 1.0。
// 透明区域铺白底。
func CompressJPEG(img *imagegen.Image, quality float64) ([]byte, error) {
	src, err := decode(img)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	canvas = imaging.Overlay(canvas, src, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(JPEGQuality(quality))); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// JPEGQuality 把 0.1 ~ 1.0 的质量换算为 encoder 使用的 1 ~ 100
func JPEGQuality(quality float64) int {
	if math.IsNaN(quality) {
		return 100
	}
	return lo.Clamp(int(math.Round(quality*100)), 1, 100)
}

// DownloadName 生成下载文件名：<prefix>-<ISO 时间戳，':' 和 '.' 替换为 '-'>.jpg
func DownloadName(prefix string, ts time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultDownloadPrefix
	}
	stamp := ts.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s-%s.jpg", prefix, stamp)
}

// Thumbnail 生成最长边不超过 maxSize 的 PNG 缩略图，不放大小图
func Thumbnail(img *imagegen.Image, maxSize int) ([]byte, error) {
	src, err := decode(img)
	if err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = DefaultThumbnailSize
	}

	thumb := imaging.Fit(src, maxSize, maxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizeSource 校验上传的源图片并识别 MIME 类型，返回数据的副本
func NormalizeSource(data []byte, name string) (*imagegen.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}

	mimeType := utils.DetectMimeType(data, name)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedImage, mimeType)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return &imagegen.Image{Data: out, MIMEType: mimeType}, nil
}

func decode(img *imagegen.Image) (image.Image, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return src, nil
}
