package settings

import (
	"fmt"
	"strings"
)

// negativePromptTemplate 模型没有原生的负向提示词字段，以文字约束的方式附加在提示词末尾
const negativePromptTemplate = "\n\n(Note: strictly exclude the following elements: %s)"

// FullPrompt 返回最终发送给模型的提示词
func (s GenerationSettings) FullPrompt() string {
	prompt := s.Prompt
	if strings.TrimSpace(s.NegativePrompt) != "" {
		prompt += fmt.Sprintf(negativePromptTemplate, s.NegativePrompt)
	}
	return prompt
}

// SeedSource 随机种子来源，*math/rand.Rand 满足该接口
type SeedSource interface {
	Int63n(n int64) int64
}

// ResolveSeed 返回本次请求实际使用的种子：
// 指定种子原样返回，-1 时每次调用都会生成新的随机种子 [0, MaxSeed)
func (s GenerationSettings) ResolveSeed(src SeedSource) int32 {
	if s.Seed != RandomSeed {
		return int32(s.Seed)
	}
	return int32(src.Int63n(MaxSeed))
}
