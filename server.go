package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"progen-studio/common"
	"progen-studio/internal/appserver"
	"progen-studio/internal/inject"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

func main() {
	// 加载配置
	config, err := common.LoadConfig()
	if err != nil {
		common.Fatalf("Failed to load config: %v", err)
	}

	// 打印配置信息（隐藏敏感信息）
	common.WithFields(map[string]interface{}{
		"mode":     config.ServerMode,
		"provider": config.GenAIProvider,
		"base_url": config.GenAIBaseURL,
		"model":    config.GenAIModelName,
		"api_key":  common.MaskAPIKey(config.GenAIAPIKey),
		"oss":      config.OSSEnabled(),
	}).Info("ProGen Studio starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !config.DebugGin() {
		gin.SetMode(gin.ReleaseMode)
	}

	injector := inject.Setup(ctx, config)
	runErr := run(ctx, config, injector)

	if err := injector.Shutdown(); err != nil {
		common.WithError(err).Warn("Failed to shut down services")
	}
	if runErr != nil {
		common.WithError(runErr).Error("Server stopped with error")
		os.Exit(1)
	}
	common.Info("Server stopped")
}

func run(ctx context.Context, config *common.Config, injector *do.Injector) error {
	switch config.ServerMode {
	case "mcp":
		s, err := do.Invoke[*server.MCPServer](injector)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		// 启动 stdio 服务器
		return server.ServeStdio(s)
	default:
		router, err := do.Invoke[*gin.Engine](injector)
		if err != nil {
			return fmt.Errorf("failed to create HTTP router: %w", err)
		}
		writeTimeout := time.Duration(config.GenAITimeoutSeconds)*time.Second*inject.GenerateTimeoutFactor + time.Minute
		return appserver.New(config.GetServerAddr(), router, writeTimeout).Run(ctx)
	}
}
