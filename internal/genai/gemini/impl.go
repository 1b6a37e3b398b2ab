package gemini

import (
	"fmt"
	"time"

	"progen-studio/common"
	"progen-studio/internal/imagegen"
)

var _ imagegen.Generator = (*Client)(nil)

// NewGeminiClientFromConfig 从配置创建 Gemini 客户端，apiKey 为空时使用配置中的 Key
func NewGeminiClientFromConfig(cfg *common.Config, apiKey string) (*Client, error) {
	if apiKey == "" {
		apiKey = cfg.GenAIAPIKey
	}

	client, err := NewClient(Config{
		APIKey:    apiKey,
		BaseURL:   cfg.GenAIBaseURL,
		ModelName: cfg.GenAIModelName,
		Timeout:   time.Duration(cfg.GenAITimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// NewFactory 返回按 Key 创建 Gemini 客户端的工厂
func NewFactory(cfg *common.Config) imagegen.Factory {
	return func(apiKey string) (imagegen.Generator, error) {
		return NewGeminiClientFromConfig(cfg, apiKey)
	}
}
