// Package studio 维护一个创作会话的状态（设置、源图片、API Key、图库），
// 并把一次生成拆成 N 个并行请求执行。
package studio

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"progen-studio/common"
	"progen-studio/internal/export"
	"progen-studio/internal/gallery"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/settings"
	"progen-studio/internal/utils"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy 已有一次生成正在进行
	ErrBusy = errors.New("a generation is already running")
	// ErrNoAPIKey 尚未连接 API Key
	ErrNoAPIKey = errors.New("no API key connected")
	// ErrInvalidKey 提交的 API Key 为空
	ErrInvalidKey = errors.New("API key must not be empty")
)

// GeneratedInputName 图库图片被用作输入时的文件名
const GeneratedInputName = "generated_input.png"

// Source 当前的源图片（图生图）
type Source struct {
	Name  string
	Image *imagegen.Image
}

// KeyStatus API Key 的连接状态
type KeyStatus struct {
	Connected bool   `json:"connected"`
	MaskedKey string `json:"masked_key,omitempty"`
}

// Status 会话概况
type Status struct {
	KeyStatus
	Generating  bool `json:"generating"`
	HasSource   bool `json:"has_source"`
	GallerySize int  `json:"gallery_size"`
}

// Studio 一个创作会话，可并发使用
type Studio struct {
	mu         sync.Mutex
	settings   settings.GenerationSettings
	source     *Source
	generating bool

	factory   imagegen.Factory
	generator imagegen.Generator
	apiKey    string
	// running 正在执行批次的后端；retired 是批次期间被替换、待批次结束再关闭的后端
	running imagegen.Generator
	retired []imagegen.Generator

	gallery *gallery.Gallery
	seeds   settings.SeedSource
	now     func() time.Time
}

// Option 可选配置
type Option func(*Studio)

// WithSettings 指定初始设置
func WithSettings(s settings.GenerationSettings) Option {
	return func(st *Studio) { st.settings = s }
}

// WithSeedSource 指定随机种子来源
func WithSeedSource(src settings.SeedSource) Option {
	return func(st *Studio) { st.seeds = src }
}

// WithClock 指定时钟
func WithClock(now func() time.Time) Option {
	return func(st *Studio) { st.now = now }
}

// New 创建会话；此时未连接 API Key
func New(factory imagegen.Factory, g *gallery.Gallery, opts ...Option) *Studio {
	st := &Studio{
		settings: settings.Default(),
		factory:  factory,
		gallery:  g,
		seeds:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Gallery 返回会话的图库
func (s *Studio) Gallery() *gallery.Gallery {
	return s.gallery
}

// Settings 返回当前设置
func (s *Studio) Settings() settings.GenerationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings 合并局部更新，校验失败时设置保持不变
func (s *Studio) UpdateSettings(p settings.Patch) (settings.GenerationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.settings.Merge(p)
	if err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}

// SetSourceImage 校验并设置源图片
func (s *Studio) SetSourceImage(name string, data []byte) (*Source, error) {
	img, err := export.NormalizeSource(data, name)
	if err != nil {
		return nil, err
	}
	src := &Source{Name: name, Image: img}

	s.mu.Lock()
	s.source = src
	s.mu.Unlock()

	common.WithFields(map[string]interface{}{
		"name":      name,
		"mime_type": img.MIMEType,
		"size":      len(img.Data),
	}).Info("Source image set")
	return src, nil
}

// ClearSourceImage 移除源图片
func (s *Studio) ClearSourceImage() {
	s.mu.Lock()
	s.source = nil
	s.mu.Unlock()
}

// SourceImage 返回当前源图片，没有时返回 nil
func (s *Studio) SourceImage() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// UseAsInput 把图库中的一张图片设为源图片
func (s *Studio) UseAsInput(id string) (*Source, error) {
	item, err := s.gallery.Get(id)
	if err != nil {
		return nil, err
	}
	src := &Source{Name: GeneratedInputName, Image: item.Image.Clone()}

	s.mu.Lock()
	s.source = src
	s.mu.Unlock()

	common.WithField("image_id", id).Info("Gallery image reused as source")
	return src, nil
}

// KeyStatus 返回 API Key 状态
func (s *Studio) KeyStatus() KeyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyStatusLocked()
}

func (s *Studio) keyStatusLocked() KeyStatus {
	if s.generator == nil {
		return KeyStatus{}
	}
	return KeyStatus{Connected: true, MaskedKey: common.MaskAPIKey(s.apiKey)}
}

// Status 返回会话概况
func (s *Studio) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		KeyStatus:   s.keyStatusLocked(),
		Generating:  s.generating,
		HasSource:   s.source != nil,
		GallerySize: s.gallery.Len(),
	}
}

// ConnectKey 用新的 API Key 创建生成后端并替换当前后端
func (s *Studio) ConnectKey(key string) (KeyStatus, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return KeyStatus{}, ErrInvalidKey
	}

	gen, err := s.factory(key)
	if err != nil {
		return KeyStatus{}, fmt.Errorf("failed to connect API key: %w", err)
	}

	s.mu.Lock()
	old := s.generator
	s.generator = gen
	s.apiKey = key
	status := s.keyStatusLocked()
	closeNow := s.retireLocked(old, gen)
	s.mu.Unlock()

	if closeNow != nil {
		_ = closeNow.Close()
	}
	common.WithField("api_key", status.MaskedKey).Info("API key connected")
	return status, nil
}

// Close 释放生成后端
func (s *Studio) Close() error {
	s.mu.Lock()
	gen := s.retireLocked(s.generator, nil)
	s.generator = nil
	s.apiKey = ""
	s.mu.Unlock()

	if gen != nil {
		return gen.Close()
	}
	return nil
}

// retireLocked 处理被替换的后端：正在执行批次时推迟到 end 关闭，否则返回给调用方立即关闭
func (s *Studio) retireLocked(old, next imagegen.Generator) imagegen.Generator {
	if old == nil || old == next {
		return nil
	}
	if old == s.running {
		s.retired = append(s.retired, old)
		return nil
	}
	return old
}

// Shutdown 在依赖容器关闭时释放资源
func (s *Studio) Shutdown() error {
	return s.Close()
}

// resetKey 远端拒绝 Key 后回到未连接状态；期间已换新 Key 时不处理
func (s *Studio) resetKey(rejected imagegen.Generator) {
	s.mu.Lock()
	if s.generator != rejected {
		s.mu.Unlock()
		return
	}
	closeNow := s.retireLocked(rejected, nil)
	s.generator = nil
	s.apiKey = ""
	s.mu.Unlock()

	if closeNow != nil {
		_ = closeNow.Close()
	}
	common.Warn("API key rejected by remote service, studio disconnected")
}

// batch 一次生成的快照
type batch struct {
	settings  settings.GenerationSettings
	requests  []imagegen.Request
	generator imagegen.Generator
}

// begin 校验并占用生成状态，返回本批次的快照
func (s *Studio) begin() (*batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.settings
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	if s.generating {
		return nil, ErrBusy
	}
	if s.generator == nil {
		return nil, ErrNoAPIKey
	}

	var source *imagegen.Image
	if s.source != nil {
		source = s.source.Image
	}
	prompt := snapshot.FullPrompt()

	// 每个请求独立解析种子
	requests := lo.Times(snapshot.BatchSize, func(int) imagegen.Request {
		return imagegen.Request{
			Prompt:      prompt,
			Source:      source,
			AspectRatio: string(snapshot.AspectRatio),
			ImageSize:   string(snapshot.ImageSize),
			Temperature: float32(snapshot.Creativity),
			Seed:        snapshot.ResolveSeed(s.seeds),
		}
	})

	s.generating = true
	s.running = s.generator
	return &batch{settings: snapshot, requests: requests, generator: s.generator}, nil
}

func (s *Studio) end() {
	s.mu.Lock()
	s.generating = false
	s.running = nil
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()

	for _, gen := range retired {
		_ = gen.Close()
	}
}

// Result 一次批量生成的结果
type Result struct {
	// Requested 本批次实际发出的请求数
	Requested int
	Images    []gallery.GeneratedImage
}

// Generate 以当前设置执行一次批量生成，返回新加入图库的图片
func (s *Studio) Generate(ctx context.Context) ([]gallery.GeneratedImage, error) {
	res, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Images, nil
}

// Run 以当前设置执行一次批量生成。
// 全部请求并行执行，任何一个失败则整批失败且图库不变；
// 没有图片数据的结果被丢弃，其余结果按请求顺序插入图库最前面。
func (s *Studio) Run(ctx context.Context) (*Result, error) {
	b, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	start := time.Now()
	common.WithFields(map[string]interface{}{
		"prompt":       utils.TruncateForLog(b.settings.Prompt, 120),
		"batch_size":   b.settings.BatchSize,
		"aspect_ratio": b.settings.AspectRatio,
		"image_size":   b.settings.ImageSize,
		"creativity":   b.settings.Creativity,
		"has_source":   b.requests[0].Source != nil,
	}).Info("Starting batch generation")

	results := make([]*imagegen.Image, len(b.requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range b.requests {
		g.Go(func() error {
			img, err := b.generator.GenerateImage(gctx, req)
			if err != nil {
				return fmt.Errorf("image %d/%d: %w", i+1, len(b.requests), err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		common.WithError(err).WithField("batch_size", len(b.requests)).Error("Batch generation failed")
		if errors.Is(err, imagegen.ErrUnauthorized) {
			s.resetKey(b.generator)
		}
		return nil, fmt.Errorf("failed to generate images: %w", err)
	}

	ts := s.now()
	entries := make([]gallery.GeneratedImage, 0, len(results))
	for i, img := range results {
		if img == nil || len(img.Data) == 0 {
			continue
		}
		entries = append(entries, gallery.NewGeneratedImage(img, b.settings, b.requests[i].Seed, ts))
	}
	s.gallery.Prepend(entries)

	common.WithFields(map[string]interface{}{
		"requested": len(b.requests),
		"received":  len(entries),
		"elapsed":   time.Since(start).String(),
	}).Info("Batch generation finished")

	return &Result{Requested: len(b.requests), Images: entries}, nil
}
