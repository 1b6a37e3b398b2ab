// Package gallery 保存本次进程生命周期内生成的图片，最新的批次排在最前。
package gallery

import (
	"errors"
	"sync"
	"time"

	"progen-studio/internal/imagegen"
	"progen-studio/internal/settings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrNotFound 图库中没有该图片
var ErrNotFound = errors.New("image not found")

// GeneratedImage 图库中的一张图片
type GeneratedImage struct {
	ID    string          `json:"id"`
	Image *imagegen.Image `json:"-"`
	// Settings 生成时的设置快照
	Settings settings.GenerationSettings `json:"settings"`
	// Seed 本张图片实际使用的种子
	Seed int32 `json:"seed"`
	// Timestamp 毫秒时间戳，同一批次共享
	Timestamp int64 `json:"timestamp"`
}

// NewGeneratedImage 创建一张带新 ID 的图库图片
func NewGeneratedImage(img *imagegen.Image, snapshot settings.GenerationSettings, seed int32, ts time.Time) GeneratedImage {
	return GeneratedImage{
		ID:        uuid.NewString(),
		Image:     img,
		Settings:  snapshot,
		Seed:      seed,
		Timestamp: ts.UnixMilli(),
	}
}

// Time 返回生成时间
func (g GeneratedImage) Time() time.Time {
	return time.UnixMilli(g.Timestamp).UTC()
}

// Gallery 内存图库，可并发使用
type Gallery struct {
	mu     sync.RWMutex
	images []GeneratedImage
}

// New 创建空图库
func New() *Gallery {
	return &Gallery{}
}

// Prepend 把一个批次放到所有已有图片之前，批次内部保持原顺序
func (g *Gallery) Prepend(batch []GeneratedImage) {
	if len(batch) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make([]GeneratedImage, 0, len(batch)+len(g.images))
	next = append(next, batch...)
	g.images = append(next, g.images...)
}

// List 返回所有图片的副本，最新的在前
func (g *Gallery) List() []GeneratedImage {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]GeneratedImage, len(g.images))
	copy(out, g.images)
	return out
}

// Get 按 ID 查找图片
func (g *Gallery) Get(id string) (GeneratedImage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	img, ok := lo.Find(g.images, func(item GeneratedImage) bool { return item.ID == id })
	if !ok {
		return GeneratedImage{}, ErrNotFound
	}
	return img, nil
}

// Delete 删除图片；不存在时返回 ErrNotFound
func (g *Gallery) Delete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(g.images, func(item GeneratedImage) bool { return item.ID == id })
	if !ok {
		return ErrNotFound
	}
	g.images = append(g.images[:idx:idx], g.images[idx+1:]...)
	return nil
}

// Len 图片数量
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}
