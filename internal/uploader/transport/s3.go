package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// s3PutAPI is the part of *s3.Client the transporter needs.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores; empty for AWS
	AccessKey string // empty to use the default credential chain
	SecretKey string
	PathStyle bool
	PublicURL string // base of returned locations; derived from bucket and region when empty
}

// S3 uploads files with a single PutObject call.
type S3 struct {
	client s3PutAPI
	cfg    S3Config
}

// NewS3 builds an S3 transporter from the default AWS configuration chain,
// overridden by the non-empty fields of cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 transport: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 transport: load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3(client, cfg), nil
}

func newS3(client s3PutAPI, cfg S3Config) *S3 {
	return &S3{client: client, cfg: cfg}
}

func (t *S3) Transfer(ctx context.Context, key string, file entity.File, onProgress func(sent int64)) (string, error) {
	body := newProgressReader(bytes.NewReader(file.Data), onProgress)
	body.start()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(t.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(file.Size()),
	}
	if file.ContentType != "" {
		input.ContentType = aws.String(file.ContentType)
	}

	if _, err := t.client.PutObject(ctx, input); err != nil {
		return "", classify(ctx, "s3 put "+key, err)
	}

	return t.location(key), nil
}

func (t *S3) location(key string) string {
	switch {
	case t.cfg.PublicURL != "":
		return joinURL(t.cfg.PublicURL, key)
	case t.cfg.Endpoint != "":
		return joinURL(t.cfg.Endpoint, t.cfg.Bucket, key)
	default:
		return joinURL(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", t.cfg.Bucket, t.cfg.Region), key)
	}
}

// joinURL appends path-escaped segments to base. Slashes inside a segment are kept.
func joinURL(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))

	for _, segment := range segments {
		for _, part := range strings.Split(strings.Trim(segment, "/"), "/") {
			b.WriteByte('/')
			b.WriteString(url.PathEscape(part))
		}
	}

	return b.String()
}
