// Package inject 组装应用的全部依赖。
package inject

import (
	"context"
	"fmt"
	"time"

	"progen-studio/common"
	"progen-studio/internal/gallery"
	"progen-studio/internal/genai/apimart"
	"progen-studio/internal/genai/gemini"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/oss"
	"progen-studio/internal/settings"
	"progen-studio/internal/studio"
	"progen-studio/internal/tools"
	"progen-studio/internal/transport"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// 普通接口的超时
const requestTimeout = 30 * time.Second

// GenerateTimeoutFactor 生成接口超时是单张图片超时的倍数
const GenerateTimeoutFactor = 6

// Version 服务版本
const Version = "1.0.0"

// Setup 注册全部服务，服务在第一次 Invoke 时创建
func Setup(ctx context.Context, cfg *common.Config) *do.Injector {
	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			common.Debugf(format, args...)
		},
	})

	do.ProvideValue[*common.Config](injector, cfg)
	do.Provide[imagegen.Factory](injector, NewGeneratorFactory)
	do.Provide[*gallery.Gallery](injector, func(i *do.Injector) (*gallery.Gallery, error) {
		return gallery.New(), nil
	})
	do.Provide[settings.GenerationSettings](injector, func(i *do.Injector) (settings.GenerationSettings, error) {
		return InitialSettings(do.MustInvoke[*common.Config](i))
	})
	do.Provide[*studio.Studio](injector, NewStudio)
	do.Provide[*oss.Publisher](injector, func(i *do.Injector) (*oss.Publisher, error) {
		return oss.NewPublisherFromConfig(ctx, do.MustInvoke[*common.Config](i))
	})
	do.Provide[*transport.Handler](injector, NewHandler)
	do.Provide[*gin.Engine](injector, func(i *do.Injector) (*gin.Engine, error) {
		return transport.InitRoutes(do.MustInvoke[*transport.Handler](i)), nil
	})
	do.Provide[*server.MCPServer](injector, NewMCPServer)

	return injector
}

// NewGeneratorFactory 按 GENAI_PROVIDER 选择生成后端
func NewGeneratorFactory(i *do.Injector) (imagegen.Factory, error) {
	cfg := do.MustInvoke[*common.Config](i)
	switch cfg.GenAIProvider {
	case "gemini":
		return gemini.NewFactory(cfg), nil
	case "apimart":
		return apimart.NewFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported GENAI_PROVIDER: %s", cfg.GenAIProvider)
	}
}

// InitialSettings 用配置中的 DEFAULT_* 覆盖默认设置
func InitialSettings(cfg *common.Config) (settings.GenerationSettings, error) {
	initial, err := settings.Default().Merge(settings.Patch{
		BatchSize:          lo.ToPtr(cfg.DefaultBatchSize),
		AspectRatio:        lo.ToPtr(settings.AspectRatio(cfg.DefaultAspectRatio)),
		ImageSize:          lo.ToPtr(settings.ImageSize(cfg.DefaultImageSize)),
		Creativity:         lo.ToPtr(cfg.DefaultCreativity),
		FilenamePrefix:     lo.ToPtr(cfg.DefaultFilenamePrefix),
		CompressionQuality: lo.ToPtr(cfg.DefaultCompressionQuality),
	})
	if err != nil {
		return settings.GenerationSettings{}, fmt.Errorf("invalid DEFAULT_* configuration: %w", err)
	}
	return initial, nil
}

// NewStudio 创建会话；配置了 GENAI_API_KEY 时直接连接
func NewStudio(i *do.Injector) (*studio.Studio, error) {
	cfg := do.MustInvoke[*common.Config](i)
	st := studio.New(
		do.MustInvoke[imagegen.Factory](i),
		do.MustInvoke[*gallery.Gallery](i),
		studio.WithSettings(do.MustInvoke[settings.GenerationSettings](i)),
	)

	if cfg.GenAIAPIKey == "" {
		common.Warn("GENAI_API_KEY is not set, studio starts disconnected until a key is connected")
		return st, nil
	}
	if _, err := st.ConnectKey(cfg.GenAIAPIKey); err != nil {
		return nil, err
	}
	return st, nil
}

// NewHandler 创建 HTTP 接口
func NewHandler(i *do.Injector) (*transport.Handler, error) {
	cfg := do.MustInvoke[*common.Config](i)
	// 生成接口的超时覆盖并行的全部请求，并给轮询型后端留出余量
	generateTimeout := time.Duration(cfg.GenAITimeoutSeconds) * time.Second * GenerateTimeoutFactor

	return transport.NewHandler(
		do.MustInvoke[*studio.Studio](i),
		do.MustInvoke[*oss.Publisher](i),
		transport.RouterConfig{
			RequestTimeout:  requestTimeout,
			GenerateTimeout: generateTimeout,
			MaxSourceBytes:  cfg.MaxSourceImageBytes,
			Defaults:        do.MustInvoke[settings.GenerationSettings](i),
		},
	), nil
}

// NewMCPServer 创建 MCP 服务器并注册工具
func NewMCPServer(i *do.Injector) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"ProGen Studio",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	if err := tools.RegisterStudioTools(s, do.MustInvoke[*studio.Studio](i)); err != nil {
		return nil, fmt.Errorf("failed to register studio tools: %w", err)
	}
	return s, nil
}
