package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cutline/cutline/internal/artifacts"
)

const maxUploadAttempts = 2

type S3Config struct {
	Bucket string
	Region string
	// Endpoint selects an S3-compatible server (MinIO, localstack) and
	// switches to path-style addressing.
	Endpoint string
	Prefix   string

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ Mirror = (*S3Mirror)(nil)

func NewS3Mirror(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("mirror bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		// Retries are decided by Publish from UploadError.IsRetryable.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// Publish uploads every file of an artifact under <prefix>/user_<id>/.
func (m *S3Mirror) Publish(ctx context.Context, userID int64, kind artifacts.Kind, paths []string) error {
	for _, p := range paths {
		key := ObjectKey(m.prefix, userID, p)

		var err error
		for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
			err = m.put(ctx, key, p)
			var ue *UploadError
			if err == nil || !errors.As(err, &ue) || !ue.IsRetryable() || ctx.Err() != nil {
				break
			}
			m.logger.Warn("mirror upload failed, retrying", "key", key, "attempt", attempt, "error", err)
		}
		if err != nil {
			return err
		}
	}

	m.logger.Info("artifact mirrored", "user_id", userID, "kind", kind, "files", len(paths), "bucket", m.bucket)
	return nil
}

func (m *S3Mirror) put(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return &UploadError{Key: key, StatusCode: statusCode(err), Err: err}
	}
	return nil
}

// Clear deletes every mirrored object of the user.
func (m *S3Mirror) Clear(ctx context.Context, userID int64) error {
	list, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(userPrefix(m.prefix, userID)),
	})
	if err != nil {
		return fmt.Errorf("list mirrored artifacts: %w", err)
	}

	for _, obj := range list.Contents {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return fmt.Errorf("delete mirrored artifact %s: %w", aws.ToString(obj.Key), err)
		}
	}

	m.logger.Info("mirrored artifacts cleared", "user_id", userID, "objects", len(list.Contents))
	return nil
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
