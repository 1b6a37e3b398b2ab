package oss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"progen-studio/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// 预签名上传的超时时间
const presignedUploadTimeout = 60 * time.Second

// S3Client S3 兼容的 OSS 客户端实现
type S3Client struct {
	client     *s3.Client
	httpClient *http.Client
	endpoint   string
	region     string
}

// S3Config S3 客户端配置
type S3Config struct {
	Endpoint  string // OSS 服务端点，例如：s3.amazonaws.com 或 oss-cn-hangzhou.aliyuncs.com
	Region    string // 区域，例如：us-east-1 或 cn-hangzhou
	AccessKey string // Access Key ID
	SecretKey string // Secret Access Key
}

// NewS3Client 创建新的 S3 客户端
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// 自定义端点用于兼容其他 OSS 服务
	endpoint := strings.TrimSuffix(strings.TrimPrefix(cfg.Endpoint, "https://"), "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String("https://" + endpoint)
		}
	})

	return &S3Client{
		client:     client,
		httpClient: &http.Client{Timeout: presignedUploadTimeout},
		endpoint:   endpoint,
		region:     cfg.Region,
	}, nil
}

// Upload 上传对象
func (c *S3Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	common.WithFields(map[string]interface{}{
		"bucket":       bucket,
		"key":          key,
		"content_type": contentType,
		"size":         len(data),
	}).Debug("Starting file upload to OSS")

	// 阿里云 OSS 不支持 SDK PutObject 默认的 aws-chunked 编码：
	// "aws-chunked encoding is not supported with the specified x-amz-content-sha256 value"
	// 改用预签名 PUT URL 加普通 HTTP 上传
	var err error
	if isAliyunEndpoint(c.endpoint) {
		err = c.uploadPresigned(ctx, bucket, key, data, contentType)
	} else {
		_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			err = fmt.Errorf("failed to upload file: %w", err)
		}
	}
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"bucket": bucket,
			"key":    key,
		}).Error("Failed to upload file to OSS")
		return err
	}

	common.WithFields(map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"size":   len(data),
	}).Info("File uploaded to OSS successfully")
	return nil
}

func (c *S3Client) uploadPresigned(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, presignedUploadTimeout)
	defer cancel()

	presigned, err := s3.NewPresignClient(c.client).PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to presign PUT URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range presigned.SignedHeader {
		for _, hv := range v {
			req.Header.Add(k, hv)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload file via presigned PUT: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("OSS upload failed: status code %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// ObjectURL 构造对象的公开 URL（不带签名）
func (c *S3Client) ObjectURL(bucket, key string) string {
	return objectURL(c.endpoint, c.region, bucket, key)
}

func objectURL(endpoint, region, bucket, key string) string {
	// 优先使用自定义 endpoint（例如：oss-cn-beijing.aliyuncs.com）
	if endpoint != "" {
		return fmt.Sprintf("https://%s.%s/%s", bucket, endpoint, key)
	}
	if region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}

func isAliyunEndpoint(endpoint string) bool {
	return strings.Contains(endpoint, ".aliyuncs.com")
}
