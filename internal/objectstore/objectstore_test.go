package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutObject) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadPutsObject(t *testing.T) {
	fake := &fakePutObject{}
	u := NewS3UploaderWithClient(fake, "audio", nil)

	err := u.Upload(context.Background(), "books/1/3.m4s", "audio/mp4", []byte("data"))
	require.NoError(t, err)

	assert.Equal(t, "audio", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "books/1/3.m4s", aws.ToString(fake.input.Key))
	assert.Equal(t, "audio/mp4", aws.ToString(fake.input.ContentType))
	assert.Equal(t, int64(4), aws.ToInt64(fake.input.ContentLength))
	assert.Equal(t, []byte("data"), fake.body)
}

func TestUploadWrapsErrors(t *testing.T) {
	boom := errors.New("access denied")
	u := NewS3UploaderWithClient(&fakePutObject{err: boom}, "audio", nil)

	err := u.Upload(context.Background(), "k", "audio/mp4", nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "audio/k")
}

func TestUploadRequiresKey(t *testing.T) {
	u := NewS3UploaderWithClient(&fakePutObject{}, "audio", nil)
	assert.Error(t, u.Upload(context.Background(), "", "audio/mp4", nil))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Bucket: "b", AccessKeyID: "id"}.Validate())
	assert.NoError(t, Config{Bucket: "b"}.Validate())
	assert.NoError(t, Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"}.Validate())
}

func TestNewS3UploaderAppliesOverrides(t *testing.T) {
	orig := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = orig })

	var loadOpts awsconfig.LoadOptions
	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&loadOpts))
		}
		return aws.Config{Region: "us-east-1"}, nil
	}

	u, err := NewS3Uploader(context.Background(), Config{
		Bucket:          "audio",
		Region:          "eu-central-1",
		Endpoint:        "http://minio:9000",
		UsePathStyle:    true,
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "audio", u.bucket)
	assert.Equal(t, "eu-central-1", loadOpts.Region)

	creds, err := loadOpts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)

	client, ok := u.client.(*s3.Client)
	require.True(t, ok)
	opts := client.Options()
	assert.Equal(t, "http://minio:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "eu-central-1", opts.Region)
}

func TestNewS3UploaderPropagatesLoadErrors(t *testing.T) {
	orig := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = orig })

	boom := errors.New("no profile")
	AWSDefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, boom
	}

	_, err := NewS3Uploader(context.Background(), Config{Bucket: "audio"}, nil)
	assert.ErrorIs(t, err, boom)
}
