// Package oss 把下载用的 JPEG 发布到 S3 兼容的对象存储。
// 它只是一个导出目标，图库本身从不落盘。
package oss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"progen-studio/common"
	"progen-studio/internal/utils"
)

// ErrDisabled 未配置 OSS_BUCKET
var ErrDisabled = errors.New("object storage publishing is disabled")

// 发布对象的 key 前缀
const exportPrefix = "exports"

// Store 对象存储
type Store interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	ObjectURL(bucket, key string) string
}

// Published 一次发布的结果
type Published struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// Publisher 发布导出图片；store 为 nil 时表示未启用
type Publisher struct {
	store         Store
	bucket        string
	publicBaseURL string
	now           func() time.Time
}

// NewPublisher 创建发布器
func NewPublisher(store Store, bucket, publicBaseURL string) *Publisher {
	return &Publisher{
		store:         store,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// NewPublisherFromConfig 从配置创建发布器；OSS_BUCKET 为空时返回未启用的发布器
func NewPublisherFromConfig(ctx context.Context, cfg *common.Config) (*Publisher, error) {
	if !cfg.OSSEnabled() {
		return &Publisher{}, nil
	}

	client, err := NewS3Client(ctx, S3Config{
		Endpoint:  cfg.OSSEndpoint,
		Region:    cfg.OSSRegion,
		AccessKey: cfg.OSSAccessKey,
		SecretKey: cfg.OSSSecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	return NewPublisher(client, cfg.OSSBucket, cfg.OSSPublicBaseURL), nil
}

// Enabled 是否已启用
func (p *Publisher) Enabled() bool {
	return p != nil && p.store != nil && p.bucket != ""
}

// Publish 上传数据并返回可访问的 URL
func (p *Publisher) Publish(ctx context.Context, name string, data []byte, contentType string) (*Published, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}

	key := utils.GenerateObjectKey(exportPrefix, name, contentType, p.now())
	if err := p.store.Upload(ctx, p.bucket, key, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to publish image: %w", err)
	}

	url := p.store.ObjectURL(p.bucket, key)
	if p.publicBaseURL != "" {
		url = p.publicBaseURL + "/" + key
	}

	common.WithFields(map[string]interface{}{
		"bucket": p.bucket,
		"key":    key,
		"url":    url,
	}).Info("Image published")

	return &Published{Bucket: p.bucket, Key: key, URL: url}, nil
}
