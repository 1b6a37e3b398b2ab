package apimart

import (
	"fmt"
	"time"

	"progen-studio/common"
	"progen-studio/internal/imagegen"
)

var _ imagegen.Generator = (*Client)(nil)

// NewApimartClientFromConfig 从通用配置创建 APIMart 客户端。
// 仅当 common.Config.GenAIProvider=apimart 时使用。
func NewApimartClientFromConfig(cfg *common.Config, apiKey string) (*Client, error) {
	if apiKey == "" {
		apiKey = cfg.GenAIAPIKey
	}

	client, err := NewClient(Config{
		// APIMart 与 Gemini 共用 GENAI_BASE_URL / GENAI_API_KEY / GENAI_MODEL_NAME
		BaseURL:      cfg.GenAIBaseURL,
		APIKey:       apiKey,
		Model:        cfg.GenAIModelName,
		Timeout:      time.Duration(cfg.GenAITimeoutSeconds) * time.Second,
		PollInterval: time.Duration(cfg.ApimartPollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create apimart client: %w", err)
	}
	return client, nil
}

// NewFactory 返回按 Key 创建 APIMart 客户端的工厂
func NewFactory(cfg *common.Config) imagegen.Factory {
	return func(apiKey string) (imagegen.Generator, error) {
		return NewApimartClientFromConfig(cfg, apiKey)
	}
}
