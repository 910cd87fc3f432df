package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Gateway stores objects in an s3-compatible object store. Path-style
// addressing is used so self-hosted stores like Garage and MinIO work without
// wildcard dns.
type S3Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

func NewS3Gateway(ctx context.Context, cfg S3Config) (*S3Gateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	slog.Info("creating new s3 storage gateway", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)

	return &S3Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *S3Gateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("error writing object to s3", "key", key, "error", err)
		return fmt.Errorf("error writing object %v: %w", key, err)
	}
	return nil
}

func (s *S3Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		slog.Error("error reading object from s3", "key", key, "error", err)
		return nil, fmt.Errorf("error reading object %v: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		slog.Error("error reading object body from s3", "key", key, "error", err)
		return nil, fmt.Errorf("error reading object %v: %w", key, err)
	}

	return data, nil
}

func (s *S3Gateway) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("error deleting object from s3", "key", key, "error", err)
		return fmt.Errorf("error deleting object %v: %w", key, err)
	}
	return nil
}

func (s *S3Gateway) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		slog.Error("error presigning object url", "key", key, "error", err)
		return "", fmt.Errorf("error presigning url for %v: %w", key, err)
	}
	return req.URL, nil
}
