// Package objectstore uploads generated audio to an S3 compatible store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	loggingpkg "github.com/drblury/narrator/internal/runtime/logging"
)

// Uploader stores one object under key.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// Config selects the bucket and, for self-hosted stores, the endpoint.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// UsePathStyle addresses buckets as <endpoint>/<bucket>, which MinIO and
	// similar stores require.
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

func (c Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("objectstore: bucket is required"))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("objectstore: access key and secret must be set together"))
	}
	return errors.Join(errs...)
}

// PutObjectAPI is the part of *s3.Client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AWSDefaultConfigLoader loads the shared AWS configuration.
var AWSDefaultConfigLoader = awsconfig.LoadDefaultConfig

// S3Uploader writes objects with PutObject.
type S3Uploader struct {
	client PutObjectAPI
	bucket string
	logger loggingpkg.ServiceLogger
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader builds an uploader from the default AWS configuration
// chain, overridden by conf.
func NewS3Uploader(ctx context.Context, conf Config, logger loggingpkg.ServiceLogger) (*S3Uploader, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if conf.Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.Region))
	}
	if conf.AccessKeyID != "" {
		logger.Info("Using static object store credentials", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, ""),
		))
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	if conf.Region != "" {
		cfg.Region = conf.Region
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.UsePathStyle
	})

	logger.Info("Created object store client", loggingpkg.LogFields{
		"bucket":          conf.Bucket,
		"region":          cfg.Region,
		"custom_endpoint": conf.Endpoint != "",
	})
	return NewS3UploaderWithClient(client, conf.Bucket, logger), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client PutObjectAPI, bucket string, logger loggingpkg.ServiceLogger) *S3Uploader {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &S3Uploader{client: client, bucket: bucket, logger: logger}
}

func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body []byte) error {
	if key == "" {
		return errors.New("objectstore: key is required")
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s/%s: %w", u.bucket, key, err)
	}
	u.logger.Debug("Object uploaded", loggingpkg.LogFields{
		"bucket": u.bucket,
		"key":    key,
		"bytes":  len(body),
	})
	return nil
}
