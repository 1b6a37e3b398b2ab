package settings

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, int64(-1), s.Seed)
	assert.Equal(t, 1, s.BatchSize)
	assert.Equal(t, AspectSquare, s.AspectRatio)
	assert.Equal(t, Size1K, s.ImageSize)
	assert.Equal(t, 1.0, s.Creativity)
	assert.Equal(t, "progen-output", s.FilenamePrefix)
	assert.Equal(t, 0.95, s.CompressionQuality)

	// 默认设置没有提示词，不能直接生成
	require.ErrorIs(t, s.Validate(), ErrInvalidSettings)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Prompt = "a lighthouse at dusk"

	tests := []struct {
		name    string
		mutate  func(s *GenerationSettings)
		wantErr bool
	}{
		{name: "valid defaults with prompt", mutate: func(s *GenerationSettings) {}},
		{name: "blank prompt", mutate: func(s *GenerationSettings) { s.Prompt = "   \n\t" }, wantErr: true},
		{name: "batch size zero", mutate: func(s *GenerationSettings) { s.BatchSize = 0 }, wantErr: true},
		{name: "batch size five", mutate: func(s *GenerationSettings) { s.BatchSize = 5 }, wantErr: true},
		{name: "batch size four", mutate: func(s *GenerationSettings) { s.BatchSize = 4 }},
		{name: "unknown aspect ratio", mutate: func(s *GenerationSettings) { s.AspectRatio = "21:9" }, wantErr: true},
		{name: "unknown image size", mutate: func(s *GenerationSettings) { s.ImageSize = "8K" }, wantErr: true},
		{name: "creativity upper bound", mutate: func(s *GenerationSettings) { s.Creativity = 2.0 }},
		{name: "creativity too high", mutate: func(s *GenerationSettings) { s.Creativity = 2.1 }, wantErr: true},
		{name: "creativity NaN", mutate: func(s *GenerationSettings) { s.Creativity = math.NaN() }, wantErr: true},
		{name: "quality too low", mutate: func(s *GenerationSettings) { s.CompressionQuality = 0.05 }, wantErr: true},
		{name: "quality lower bound", mutate: func(s *GenerationSettings) { s.CompressionQuality = 0.1 }},
		{name: "explicit seed", mutate: func(s *GenerationSettings) { s.Seed = 42 }},
		{name: "seed zero", mutate: func(s *GenerationSettings) { s.Seed = 0 }},
		{name: "seed out of range", mutate: func(s *GenerationSettings) { s.Seed = MaxSeed }, wantErr: true},
		{name: "negative seed other than -1", mutate: func(s *GenerationSettings) { s.Seed = -2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSettings))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()

	merged, err := base.Merge(Patch{
		Prompt:      ptr("neon city"),
		BatchSize:   ptr(3),
		AspectRatio: ptr(AspectWide),
	})
	require.NoError(t, err)
	assert.Equal(t, "neon city", merged.Prompt)
	assert.Equal(t, 3, merged.BatchSize)
	assert.Equal(t, AspectWide, merged.AspectRatio)
	// 未指定的字段保持不变
	assert.Equal(t, base.ImageSize, merged.ImageSize)
	assert.Equal(t, base.FilenamePrefix, merged.FilenamePrefix)

	// 清空提示词是允许的（界面上可以先清空再输入）
	cleared, err := merged.Merge(Patch{Prompt: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "", cleared.Prompt)

	// 非法值不会改变原设置
	unchanged, err := merged.Merge(Patch{BatchSize: ptr(9), Prompt: ptr("ignored")})
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, merged, unchanged)
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{Seed: ptr(int64(7))}.Empty())
}

func TestFullPrompt(t *testing.T) {
	s := Default()
	s.Prompt = "a cat"
	assert.Equal(t, "a cat", s.FullPrompt())

	s.NegativePrompt = "   "
	assert.Equal(t, "a cat", s.FullPrompt())

	s.NegativePrompt = "blurry, watermark"
	assert.Equal(t,
		"a cat\n\n(Note: strictly exclude the following elements: blurry, watermark)",
		s.FullPrompt())
}

type fixedSeeds struct {
	values []int64
	calls  int
}

func (f *fixedSeeds) Int63n(n int64) int64 {
	v := f.values[f.calls%len(f.values)]
	f.calls++
	return v % n
}

func TestResolveSeed(t *testing.T) {
	src := &fixedSeeds{values: []int64{11, 22}}

	s := Default()
	s.Seed = 1234
	assert.Equal(t, int32(1234), s.ResolveSeed(src))
	assert.Equal(t, 0, src.calls, "explicit seed must not consume randomness")

	s.Seed = RandomSeed
	assert.Equal(t, int32(11), s.ResolveSeed(src))
	assert.Equal(t, int32(22), s.ResolveSeed(src))
	assert.Equal(t, 2, src.calls)
}
