package export

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/glasssync/gallery/internal/config"
	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/observability"
)

// S3Exporter mirrors downloaded media into an S3 bucket, preserving the
// Year/Month layout under an optional key prefix.
type S3Exporter struct {
	client *s3.Client
	bucket string
	prefix string
	logger *observability.Logger
}

// NewS3Exporter creates an exporter for the configured bucket.
func NewS3Exporter(ctx context.Context, cfg config.S3) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Exporter{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
		logger: observability.GetLogger().WithField("component", "export"),
	}, nil
}

func (e *S3Exporter) Name() string { return "s3" }

// Export uploads the file unless an object of the same size already exists.
func (e *S3Exporter) Export(ctx context.Context, rec models.PhotoRecord, fullPath string) error {
	key := rec.LocalPath
	if e.prefix != "" {
		key = path.Join(e.prefix, key)
	}

	if head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}); err == nil && head.ContentLength != nil && *head.ContentLength == rec.FileSize {
		e.logger.Debugf("Object %s already mirrored, skipping", key)
		return nil
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", fullPath, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if rec.MimeType != "" {
		input.ContentType = aws.String(rec.MimeType)
	}

	if _, err := e.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	e.logger.Infof("Mirrored %s to s3://%s/%s", rec.Name, e.bucket, key)
	return nil
}
