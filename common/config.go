package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config 应用配置结构
type Config struct {
	// GenAI 提供方: gemini 或 apimart
	GenAIProvider string

	// 通用 GenAI 配置（Gemini 和 APIMart 共用同一套 BaseURL / APIKey）
	GenAIBaseURL   string
	GenAIAPIKey    string
	GenAIModelName string
	// GenAI 请求超时时间（秒），作用于单张图片的生成请求
	GenAITimeoutSeconds int
	// APIMart 任务轮询间隔（毫秒）
	ApimartPollIntervalMS int

	// 运行模式: http 或 mcp（stdio）
	ServerMode    string
	ServerAddress string
	ServerPort    string
	// gin 运行模式: debug 或 release
	GinMode string

	// 默认生成参数（用于初始化工作室设置）
	DefaultBatchSize          int
	DefaultAspectRatio        string
	DefaultImageSize          string
	DefaultCreativity         float64
	DefaultFilenamePrefix     string
	DefaultCompressionQuality float64

	// 上传的源图片大小上限（字节）
	MaxSourceImageBytes int64

	// OSS 配置（仅用于发布下载图片，可选）
	OSSEndpoint      string
	OSSRegion        string
	OSSAccessKey     string
	OSSSecretKey     string
	OSSBucket        string
	OSSPublicBaseURL string

	// 日志配置
	LogLevel  string // 日志级别: debug, info, warn, error
	LogFormat string // 日志格式: json, text
	LogOutput string // 输出位置: stdout, stderr, file
	LogFile   string // 日志文件路径（当 LogOutput 为 file 时）
}

// DefaultModelName 默认使用的图片模型
const DefaultModelName = "gemini-3-pro-image-preview"

// LoadConfig 从 .env 文件加载配置
func LoadConfig() (*Config, error) {
	// 加载 .env 文件（如果存在）
	if err := godotenv.Load(); err != nil {
		// .env 文件不存在时，直接从环境变量读取
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
	}

	config, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	// 初始化日志系统
	logConfig := &LogConfig{
		Level:    config.LogLevel,
		Format:   config.LogFormat,
		Output:   config.LogOutput,
		FilePath: config.LogFile,
	}
	if err := InitLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return config, nil
}

// configFromEnv 仅读取环境变量并校验，不做任何副作用
func configFromEnv() (*Config, error) {
	config := &Config{
		GenAIProvider:         strings.ToLower(getEnv("GENAI_PROVIDER", "gemini")),
		GenAIBaseURL:          getEnv("GENAI_BASE_URL", ""),
		GenAIAPIKey:           getEnv("GENAI_API_KEY", ""),
		GenAIModelName:        getEnv("GENAI_MODEL_NAME", DefaultModelName),
		GenAITimeoutSeconds:   getEnvInt("GENAI_TIMEOUT_SECONDS", 120),
		ApimartPollIntervalMS: getEnvInt("APIMART_POLL_INTERVAL_MS", 2000),
		ServerMode:            strings.ToLower(getEnv("SERVER_MODE", "http")),
		ServerAddress:         getEnv("SERVER_ADDRESS", "0.0.0.0"),
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		GinMode:               getEnv("GIN_MODE", "release"),
		// 默认生成参数
		DefaultBatchSize:          getEnvInt("DEFAULT_BATCH_SIZE", 1),
		DefaultAspectRatio:        getEnv("DEFAULT_ASPECT_RATIO", "1:1"),
		DefaultImageSize:          getEnv("DEFAULT_IMAGE_SIZE", "1K"),
		DefaultCreativity:         getEnvFloat("DEFAULT_CREATIVITY", 1.0),
		DefaultFilenamePrefix:     getEnv("DEFAULT_FILENAME_PREFIX", "progen-output"),
		DefaultCompressionQuality: getEnvFloat("DEFAULT_COMPRESSION_QUALITY", 0.95),
		MaxSourceImageBytes:       int64(getEnvInt("MAX_SOURCE_IMAGE_MB", 20)) << 20,
		// OSS 配置
		OSSEndpoint:      getEnv("OSS_ENDPOINT", ""),
		OSSRegion:        getEnv("OSS_REGION", "us-east-1"),
		OSSAccessKey:     getEnv("OSS_ACCESS_KEY", ""),
		OSSSecretKey:     getEnv("OSS_SECRET_KEY", ""),
		OSSBucket:        getEnv("OSS_BUCKET", ""),
		OSSPublicBaseURL: getEnv("OSS_PUBLIC_BASE_URL", ""),
		// 日志配置
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stderr"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	// 校验提供方；API Key 允许为空，此时工作室以「未连接」状态启动
	switch config.GenAIProvider {
	case "gemini":
	case "apimart":
		if config.GenAIBaseURL == "" {
			return nil, fmt.Errorf("GENAI_BASE_URL is required when GENAI_PROVIDER=%s", config.GenAIProvider)
		}
	default:
		return nil, fmt.Errorf("unsupported GENAI_PROVIDER: %s", config.GenAIProvider)
	}

	switch config.ServerMode {
	case "http", "mcp":
	default:
		return nil, fmt.Errorf("unsupported SERVER_MODE: %s", config.ServerMode)
	}

	// MCP 模式下 stdout 用于协议通信，日志不能写到 stdout
	if config.ServerMode == "mcp" && strings.EqualFold(config.LogOutput, "stdout") {
		config.LogOutput = "stderr"
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes" || value == "on"
}

// getEnvInt 获取整型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return defaultValue
}

// getEnvFloat 获取浮点类型环境变量
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

// GetServerAddr 返回完整的服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.ServerAddress, c.ServerPort)
}

// OSSEnabled 是否配置了 OSS 发布目标
func (c *Config) OSSEnabled() bool {
	return c.OSSBucket != ""
}

// DebugGin 是否以 debug 模式运行 gin
func (c *Config) DebugGin() bool {
	return strings.EqualFold(c.GinMode, "debug") || getEnvBool("GIN_DEBUG", false)
}

// MaskAPIKey 隐藏 API Key 的敏感部分
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
