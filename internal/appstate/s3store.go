package appstate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	gconfig "github.com/nextlevelbuilder/botserver/internal/config"
)

// S3ObjectStore implements scriptbridge.ObjectStore and render.ObjectStore
// over aws-sdk-go-v2/service/s3, pointed at an S3-compatible endpoint
// (AWS S3 or a self-hosted MinIO, per GatewayConfig's S3Endpoint).
//
// Keys passed in are the "s3://<bucket>.gbai/<bucket>.gbdrive/<path>"
// drive-key shape scriptbridge.DriveKey builds; splitKey turns that
// into the (bucket, object key) pair the SDK wants.
type S3ObjectStore struct {
	client *s3.Client
}

// NewS3ObjectStore builds an S3ObjectStore from GatewayConfig's S3 fields.
// When S3Endpoint is set, it's treated as a MinIO-style custom endpoint
// with path-style addressing; otherwise the SDK resolves the real AWS S3
// endpoint for S3Region.
func NewS3ObjectStore(ctx context.Context, gw gconfig.GatewayConfig) (*S3ObjectStore, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(gw.S3Region),
	}
	if gw.S3AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(gw.S3AccessKey, gw.S3SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("appstate: load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if gw.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(gw.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ObjectStore{client: client}, nil
}

// splitKey turns "s3://bucket/rest/of/key" into (bucket, "rest/of/key").
// Bucket names containing dots (the gbai/gbdrive convention) are valid S3
// bucket names, so no further translation is needed.
func splitKey(key string) (bucket, objectKey string, err error) {
	trimmed := strings.TrimPrefix(key, "s3://")
	if trimmed == key {
		return "", "", fmt.Errorf("appstate: object key %q missing s3:// prefix", key)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("appstate: malformed object key %q", key)
	}
	return parts[0], parts[1], nil
}

func (s *S3ObjectStore) Read(ctx context.Context, key string) ([]byte, error) {
	bucket, objectKey, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("appstate: s3 get %s/%s: %w", bucket, objectKey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("appstate: read s3 object body %s/%s: %w", bucket, objectKey, err)
	}
	return data, nil
}

func (s *S3ObjectStore) Write(ctx context.Context, key string, data []byte) error {
	bucket, objectKey, err := splitKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("appstate: s3 put %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}
