// Package objectstore reads catalogs from and writes reports to an
// S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured is returned when no endpoint is configured.
var ErrNotConfigured = errors.New("object store is not configured")

// Config holds the connection settings.
type Config struct {
	Endpoint  string `yaml:"endpoint"` // host:port or URL
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`

	// ReportBucket receives run reports when set.
	ReportBucket string `yaml:"report_bucket"`
	ReportPrefix string `yaml:"report_prefix"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Client wraps a minio client.
type Client struct {
	client *minio.Client
	cfg    Config
}

// New creates a client from cfg. No request is made.
func New(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("object store credentials are required")
	}

	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// GetObject returns the content of bucket/key.
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, errors.New("bucket and key are required")
	}
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// PutObject stores data at bucket/key, creating the bucket when missing.
func (c *Client) PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	_, err = c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// UploadReport stores a run report under the configured report bucket and
// prefix and returns its key.
func (c *Client) UploadReport(ctx context.Context, name string, data []byte) (string, error) {
	if c.cfg.ReportBucket == "" {
		return "", errors.New("no report bucket configured")
	}
	key := name
	if c.cfg.ReportPrefix != "" {
		key = c.cfg.ReportPrefix + "/" + name
	}
	if err := c.PutObject(ctx, c.cfg.ReportBucket, key, "text/csv", data); err != nil {
		return "", err
	}
	return key, nil
}
