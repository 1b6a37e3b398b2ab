package transport

import (
	"net/http"
	"time"

	"progen-studio/internal/settings"
	"progen-studio/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

// RouterConfig 路由相关配置
type RouterConfig struct {
	// RequestTimeout 普通接口的超时
	RequestTimeout time.Duration
	// GenerateTimeout 批量生成接口的超时
	GenerateTimeout time.Duration
	// MaxSourceBytes 上传源图片的大小上限
	MaxSourceBytes int64
	// ThumbnailSize 缩略图最长边
	ThumbnailSize int
	// Defaults 初始设置，用于 /api/options
	Defaults settings.GenerationSettings
}

// InitRoutes 注册全部路由
func InitRoutes(h *Handler) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/generate", middleware.Timeout(h.cfg.GenerateTimeout), h.Generate)

		session := api.Group("", middleware.Timeout(h.cfg.RequestTimeout))
		{
			session.GET("/status", h.Status)
			session.POST("/key", h.ConnectKey)
			session.GET("/options", h.Options)
			session.GET("/settings", h.GetSettings)
			session.PATCH("/settings", h.UpdateSettings)
			session.GET("/source", h.GetSource)
			session.PUT("/source", h.SetSource)
			session.DELETE("/source", h.ClearSource)
		}

		images := api.Group("/images", middleware.Timeout(h.cfg.RequestTimeout))
		{
			images.GET("", h.ListImages)
			images.GET("/:id", h.GetImage)
			images.GET("/:id/raw", h.RawImage)
			images.GET("/:id/thumbnail", h.Thumbnail)
			images.GET("/:id/download", h.Download)
			images.POST("/:id/publish", h.Publish)
			images.POST("/:id/use-as-input", h.UseAsInput)
			images.DELETE("/:id", h.DeleteImage)
		}
	}

	return router
}
