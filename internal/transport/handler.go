package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"progen-studio/internal/export"
	"progen-studio/internal/gallery"
	"progen-studio/internal/oss"
	"progen-studio/internal/settings"
	"progen-studio/internal/studio"
	"progen-studio/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Handler HTTP 接口，持有一个创作会话
type Handler struct {
	studio    *studio.Studio
	publisher *oss.Publisher
	cfg       RouterConfig
}

// NewHandler 创建 Handler
func NewHandler(st *studio.Studio, publisher *oss.Publisher, cfg RouterConfig) *Handler {
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = export.DefaultThumbnailSize
	}
	return &Handler{studio: st, publisher: publisher, cfg: cfg}
}

type imageResponse struct {
	ID        string                      `json:"id"`
	MIMEType  string                      `json:"mime_type"`
	Size      int                         `json:"size"`
	Seed      int32                       `json:"seed"`
	Timestamp int64                       `json:"timestamp"`
	Settings  settings.GenerationSettings `json:"settings"`
	RawURL    string                      `json:"raw_url"`
	ThumbURL  string                      `json:"thumbnail_url"`
	Download  string                      `json:"download_url"`
}

func toImageResponse(item gallery.GeneratedImage) imageResponse {
	base := "/api/images/" + item.ID
	return imageResponse{
		ID:        item.ID,
		MIMEType:  item.Image.MIMEType,
		Size:      len(item.Image.Data),
		Seed:      item.Seed,
		Timestamp: item.Timestamp,
		Settings:  item.Settings,
		RawURL:    base + "/raw",
		ThumbURL:  base + "/thumbnail",
		Download:  base + "/download",
	}
}

func toImageResponses(items []gallery.GeneratedImage) []imageResponse {
	return lo.Map(items, func(item gallery.GeneratedImage, _ int) imageResponse {
		return toImageResponse(item)
	})
}

// Status GET /api/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.studio.Status())
}

type connectKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// ConnectKey POST /api/key
func (h *Handler) ConnectKey(c *gin.Context) {
	var req connectKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.studio.ConnectKey(req.APIKey)
	if err != nil {
		writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Options GET /api/options，返回界面控件的可选值与默认值
func (h *Handler) Options(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"aspect_ratios": settings.AspectRatios(),
		"image_sizes":   settings.ImageSizes(),
		"batch_size":    gin.H{"min": settings.MinBatchSize, "max": settings.MaxBatchSize, "step": 1},
		"creativity":    gin.H{"min": settings.MinCreativity, "max": settings.MaxCreativity, "step": 0.1},
		"compression_quality": gin.H{
			"min":  settings.MinCompressionQuality,
			"max":  settings.MaxCompressionQuality,
			"step": 0.05,
		},
		"seed":     gin.H{"random": settings.RandomSeed, "max": settings.MaxSeed - 1},
		"defaults": h.cfg.Defaults,
		"publish":  h.publisher.Enabled(),
	})
}

// GetSettings GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.studio.Settings())
}

// UpdateSettings PATCH /api/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.studio.UpdateSettings(patch)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, next)
}

// GetSource GET /api/source
func (h *Handler) GetSource(c *gin.Context) {
	src := h.studio.SourceImage()
	if src == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no source image"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", src.Name))
	c.Data(http.StatusOK, src.Image.MIMEType, src.Image.Data)
}

type sourceRequest struct {
	Name    string `json:"name"`
	DataURI string `json:"data_uri" binding:"required"`
}

// SetSource PUT /api/source，multipart 字段 image，或 JSON {name, data_uri}
func (h *Handler) SetSource(c *gin.Context) {
	if h.cfg.MaxSourceBytes > 0 {
		// data URI 的 base64 编码会放大约三分之一
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxSourceBytes*4/3+4096)
	}

	var (
		name string
		data []byte
		err  error
	)
	if c.ContentType() == "application/json" {
		name, data, err = readJSONSource(c)
	} else {
		name, data, err = readMultipartSource(c)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "source image is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.cfg.MaxSourceBytes > 0 && int64(len(data)) > h.cfg.MaxSourceBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "source image is too large"})
		return
	}

	src, err := h.studio.SetSourceImage(name, data)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      src.Name,
		"mime_type": src.Image.MIMEType,
		"size":      len(src.Image.Data),
	})
}

func readJSONSource(c *gin.Context) (string, []byte, error) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", nil, err
	}
	data, mimeType, err := utils.ParseDataURI(req.DataURI)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data_uri: %w", err)
	}
	name := req.Name
	if name == "" {
		name = "upload" + utils.GetExtensionFromMimeType(mimeType)
	}
	return name, data, nil
}

func readMultipartSource(c *gin.Context) (string, []byte, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("multipart field \"image\" is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return fileHeader.Filename, data, nil
}

// ClearSource DELETE /api/source
func (h *Handler) ClearSource(c *gin.Context) {
	h.studio.ClearSourceImage()
	c.Status(http.StatusNoContent)
}

// Generate POST /api/generate，请求体可以携带一个设置 patch
func (h *Handler) Generate(c *gin.Context) {
	if c.Request.ContentLength != 0 {
		var patch settings.Patch
		if err := c.ShouldBindJSON(&patch); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !patch.Empty() {
			if _, err := h.studio.UpdateSettings(patch); err != nil {
				writeError(c, err, http.StatusBadRequest)
				return
			}
		}
	}

	res, err := h.studio.Run(c.Request.Context())
	if err != nil {
		writeError(c, err, http.StatusBadGateway)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requested": res.Requested,
		"images":    toImageResponses(res.Images),
	})
}

// ListImages GET /api/images
func (h *Handler) ListImages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"images": toImageResponses(h.studio.Gallery().List())})
}

func (h *Handler) lookup(c *gin.Context) (gallery.GeneratedImage, bool) {
	item, err := h.studio.Gallery().Get(c.Param("id"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return gallery.GeneratedImage{}, false
	}
	return item, true
}

// GetImage GET /api/images/:id
func (h *Handler) GetImage(c *gin.Context) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toImageResponse(item))
}

// RawImage GET /api/images/:id/raw
func (h *Handler) RawImage(c *gin.Context) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, item.Image.MIMEType, item.Image.Data)
}

// Thumbnail GET /api/images/:id/thumbnail
func (h *Handler) Thumbnail(c *gin.Context) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	thumb, err := export.Thumbnail(item.Image, h.cfg.ThumbnailSize)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "image/png", thumb)
}

// downloadQuality 取 quality 参数，缺省使用当前设置
func (h *Handler) downloadQuality(c *gin.Context) (float64, error) {
	raw := strings.TrimSpace(c.Query("quality"))
	if raw == "" {
		return h.studio.Settings().CompressionQuality, nil
	}
	q, err := strconv.ParseFloat(raw, 64)
	if err != nil || q < settings.MinCompressionQuality || q > settings.MaxCompressionQuality {
		return 0, fmt.Errorf("%w: quality must be between %.1f and %.1f",
			settings.ErrInvalidSettings, settings.MinCompressionQuality, settings.MaxCompressionQuality)
	}
	return q, nil
}

// Download GET /api/images/:id/download?quality=
func (h *Handler) Download(c *gin.Context) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	quality, err := h.downloadQuality(c)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}

	data, err := export.CompressJPEG(item.Image, quality)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}

	name := export.DownloadName(item.Settings.FilenamePrefix, item.Time())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Publish POST /api/images/:id/publish
func (h *Handler) Publish(c *gin.Context) {
	if !h.publisher.Enabled() {
		writeError(c, oss.ErrDisabled, http.StatusNotImplemented)
		return
	}
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	quality, err := h.downloadQuality(c)
	if err != nil {
		writeError(c, err, http.StatusBadRequest)
		return
	}

	data, err := export.CompressJPEG(item.Image, quality)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}

	name := strings.TrimSuffix(export.DownloadName(item.Settings.FilenamePrefix, item.Time()), ".jpg")
	published, err := h.publisher.Publish(c.Request.Context(), name, data, "image/jpeg")
	if err != nil {
		writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, published)
}

// UseAsInput POST /api/images/:id/use-as-input
func (h *Handler) UseAsInput(c *gin.Context) {
	src, err := h.studio.UseAsInput(c.Param("id"))
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      src.Name,
		"mime_type": src.Image.MIMEType,
		"size":      len(src.Image.Data),
	})
}

// DeleteImage DELETE /api/images/:id
func (h *Handler) DeleteImage(c *gin.Context) {
	if err := h.studio.Gallery().Delete(c.Param("id")); err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
