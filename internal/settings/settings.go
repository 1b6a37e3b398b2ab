package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// AspectRatio 输出图片的宽高比
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectPortrait  AspectRatio = "3:4"
	AspectLandscape AspectRatio = "4:3"
	AspectTall      AspectRatio = "9:16"
	AspectWide      AspectRatio = "16:9"
)

// ImageSize 输出图片的分辨率档位
type ImageSize string

const (
	Size1K ImageSize = "1K"
	Size2K ImageSize = "2K"
	Size4K ImageSize = "4K"
)

// 参数取值范围
const (
	RandomSeed = -1
	// MaxSeed 为种子上限（不含）
	MaxSeed = 2147483647

	MinBatchSize = 1
	MaxBatchSize = 4

	MinCreativity = 0.0
	MaxCreativity = 2.0

	MinCompressionQuality = 0.1
	MaxCompressionQuality = 1.0

	DefaultFilenamePrefix = "progen-output"
)

// ErrInvalidSettings 设置校验失败
var ErrInvalidSettings = errors.New("invalid generation settings")

// AspectRatios 返回所有支持的宽高比（界面下拉框顺序）
func AspectRatios() []AspectRatio {
	return []AspectRatio{AspectSquare, AspectPortrait, AspectLandscape, AspectTall, AspectWide}
}

// ImageSizes 返回所有支持的分辨率档位
func ImageSizes() []ImageSize {
	return []ImageSize{Size1K, Size2K, Size4K}
}

// Valid 是否为支持的宽高比
func (a AspectRatio) Valid() bool {
	for _, v := range AspectRatios() {
		if a == v {
			return true
		}
	}
	return false
}

// Valid 是否为支持的分辨率档位
func (s ImageSize) Valid() bool {
	for _, v := range ImageSizes() {
		if s == v {
			return true
		}
	}
	return false
}

// GenerationSettings 一次生成所使用的全部参数
type GenerationSettings struct {
	Prompt         string      `json:"prompt"`
	NegativePrompt string      `json:"negative_prompt"`
	Seed           int64       `json:"seed"` // -1 表示随机
	BatchSize      int         `json:"batch_size"`
	AspectRatio    AspectRatio `json:"aspect_ratio"`
	ImageSize      ImageSize   `json:"image_size"`
	// Creativity 即模型的 temperature
	Creativity     float64 `json:"creativity"`
	FilenamePrefix string  `json:"filename_prefix"`
	// CompressionQuality 仅用于下载时的 JPEG 压缩，取值 0.1 ~ 1.0
	CompressionQuality float64 `json:"compression_quality"`
}

// Default 返回初始设置
func Default() GenerationSettings {
	return GenerationSettings{
		Prompt:             "",
		NegativePrompt:     "",
		Seed:               RandomSeed,
		BatchSize:          1,
		AspectRatio:        AspectSquare,
		ImageSize:          Size1K,
		Creativity:         1.0,
		FilenamePrefix:     DefaultFilenamePrefix,
		CompressionQuality: 0.95,
	}
}

// Validate 校验设置是否可以用于一次生成
func (s GenerationSettings) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidSettings)
	}
	return s.validateParams()
}

// validateParams 校验除提示词以外的参数；更新设置时允许提示词为空
func (s GenerationSettings) validateParams() error {
	if s.BatchSize < MinBatchSize || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size must be between %d and %d, got %d",
			ErrInvalidSettings, MinBatchSize, MaxBatchSize, s.BatchSize)
	}
	if !s.AspectRatio.Valid() {
		return fmt.Errorf("%w: unsupported aspect_ratio %q", ErrInvalidSettings, s.AspectRatio)
	}
	if !s.ImageSize.Valid() {
		return fmt.Errorf("%w: unsupported image_size %q", ErrInvalidSettings, s.ImageSize)
	}
	if math.IsNaN(s.Creativity) || s.Creativity < MinCreativity || s.Creativity > MaxCreativity {
		return fmt.Errorf("%w: creativity must be between %.1f and %.1f, got %v",
			ErrInvalidSettings, MinCreativity, MaxCreativity, s.Creativity)
	}
	if math.IsNaN(s.CompressionQuality) || s.CompressionQuality < MinCompressionQuality || s.CompressionQuality > MaxCompressionQuality {
		return fmt.Errorf("%w: compression_quality must be between %.1f and %.1f, got %v",
			ErrInvalidSettings, MinCompressionQuality, MaxCompressionQuality, s.CompressionQuality)
	}
	if s.Seed != RandomSeed && (s.Seed < 0 || s.Seed >= MaxSeed) {
		return fmt.Errorf("%w: seed must be -1 or between 0 and %d, got %d",
			ErrInvalidSettings, MaxSeed-1, s.Seed)
	}
	return nil
}

// Patch 设置的局部更新，nil 字段保持原值
type Patch struct {
	Prompt             *string      `json:"prompt,omitempty"`
	NegativePrompt     *string      `json:"negative_prompt,omitempty"`
	Seed               *int64       `json:"seed,omitempty"`
	BatchSize          *int         `json:"batch_size,omitempty"`
	AspectRatio        *AspectRatio `json:"aspect_ratio,omitempty"`
	ImageSize          *ImageSize   `json:"image_size,omitempty"`
	Creativity         *float64     `json:"creativity,omitempty"`
	FilenamePrefix     *string      `json:"filename_prefix,omitempty"`
	CompressionQuality *float64     `json:"compression_quality,omitempty"`
}

// Merge 把 patch 应用到当前设置上并校验参数，失败时返回原设置
func (s GenerationSettings) Merge(p Patch) (GenerationSettings, error) {
	next := s
	if p.Prompt != nil {
		next.Prompt = *p.Prompt
	}
	if p.NegativePrompt != nil {
		next.NegativePrompt = *p.NegativePrompt
	}
	if p.Seed != nil {
		next.Seed = *p.Seed
	}
	if p.BatchSize != nil {
		next.BatchSize = *p.BatchSize
	}
	if p.AspectRatio != nil {
		next.AspectRatio = *p.AspectRatio
	}
	if p.ImageSize != nil {
		next.ImageSize = *p.ImageSize
	}
	if p.Creativity != nil {
		next.Creativity = *p.Creativity
	}
	if p.FilenamePrefix != nil {
		next.FilenamePrefix = *p.FilenamePrefix
	}
	if p.CompressionQuality != nil {
		next.CompressionQuality = *p.CompressionQuality
	}

	if err := next.validateParams(); err != nil {
		return s, err
	}
	return next, nil
}

// Empty 判断 patch 是否没有任何字段
func (p Patch) Empty() bool {
	return p == Patch{}
}
