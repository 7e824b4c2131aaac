package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// minioPutAPI is the part of *minio.Client the transporter needs.
type minioPutAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinIOConfig struct {
	Endpoint  string // host[:port], without scheme
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	PublicURL string // base of returned locations; derived from the endpoint when empty
}

// MinIO uploads files to a MinIO (or any S3-compatible) server.
type MinIO struct {
	client minioPutAPI
	cfg    MinIOConfig
}

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio transport: endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio transport: %w", err)
	}

	return newMinIO(client, cfg), nil
}

func newMinIO(client minioPutAPI, cfg MinIOConfig) *MinIO {
	return &MinIO{client: client, cfg: cfg}
}

func (t *MinIO) Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error) {
	progress := newProgressReader(nil, onProgress)
	progress.start()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := t.client.PutObject(ctx, t.cfg.Bucket, key, bytes.NewReader(file.Data), file.Size(), minio.PutObjectOptions{
		ContentType: contentType,
		Progress:    progressSink{reader: progress},
	})
	if err != nil {
		return "", classify(ctx, "minio put "+key, err)
	}

	return t.location(key), nil
}

func (t *MinIO) location(key string) string {
	if t.cfg.PublicURL != "" {
		return joinURL(t.cfg.PublicURL, key)
	}

	scheme := "http"
	if t.cfg.Secure {
		scheme = "https"
	}

	return joinURL(scheme+"://"+t.cfg.Endpoint, t.cfg.Bucket, key)
}
