package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3StoreOptions configures an S3Store.
type S3StoreOptions struct {
	Bucket string
	Prefix string
	Region string
}

// s3Client is the subset of the S3 API the store uses; narrowed for tests.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps artifacts in an S3 bucket under a key prefix.
type S3Store struct {
	client s3Client
	bucket string
	prefix string
}

// NewS3Store constructs an S3Store using the SDK's default credential chain.
func NewS3Store(ctx context.Context, opts S3StoreOptions) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

// Put uploads the artifact and returns its reference (the object key without
// the configured prefix).
func (s *S3Store) Put(ctx context.Context, name, contentType string, body []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("artifact name is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + name),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return name, nil
}

// Get downloads an artifact back by its reference.
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + ref),
	})
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	body, readErr := io.ReadAll(out.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read artifact body: %w", readErr)
	}
	return body, nil
}
