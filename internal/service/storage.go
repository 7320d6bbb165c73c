package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
)

// DocumentStore persists uploaded session files and returns their storage path.
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type s3ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3DocumentStore struct {
	client s3ObjectAPI
	bucket string
}

// NewS3DocumentStore returns nil when S3 is not configured; callers then keep
// uploaded content in the documents table only.
func NewS3DocumentStore(cfg *config.Config) *S3DocumentStore {
	if !cfg.S3Enabled() {
		return nil
	}

	opts := s3.Options{
		Region: cfg.S3Region,
	}
	if cfg.S3AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
	}
	if endpoint := strings.TrimRight(strings.TrimSpace(cfg.S3Endpoint), "/"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}

	log.Info().
		Str("bucket", cfg.S3Bucket).
		Str("region", cfg.S3Region).
		Msg("s3 document store enabled")

	return &S3DocumentStore{
		client: s3.New(opts),
		bucket: cfg.S3Bucket,
	}
}

func (s *S3DocumentStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return key, nil
}

// Delete removes an object written by Put. Deleting a missing key succeeds.
func (s *S3DocumentStore) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return fmt.Errorf("empty object key")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
