package artifact_mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Mirror struct {
	client putObjectAPI
	bucket string
	prefix string
}

type Config struct {
	Bucket string
	// Endpoint is set for S3-compatible stores such as R2 or MinIO; empty
	// means AWS.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func New(ctx context.Context, cfg Config) (Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("missing bucket")
	}

	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// path-style avoids per-bucket subdomains on custom endpoints
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newWithClient(client putObjectAPI, bucket, prefix string) *s3Mirror {
	return &s3Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (m *s3Mirror) Upload(ctx context.Context, relPath string, data []byte, contentType string) error {
	key := ObjectKey(m.prefix, relPath)

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", m.bucket, key, err)
	}

	log.Printf("Mirrored %s to s3://%s/%s (%d bytes)\n", relPath, m.bucket, key, len(data))

	return nil
}

// ObjectKey joins prefix and a slash-separated relative path.
func ObjectKey(prefix, relPath string) string {
	relPath = strings.TrimLeft(strings.ReplaceAll(relPath, "\\", "/"), "/")

	if prefix == "" {
		return path.Clean(relPath)
	}

	return path.Join(prefix, relPath)
}
