package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by S3Store. The s3.Client
// type satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(
		ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

// S3Options describes how to reach an S3-compatible service.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds an s3.Client from static options. Without an access
// key the client signs nothing, which suits public or local test buckets.
func NewS3Client(opts S3Options) *s3.Client {
	var credentials aws.CredentialsProvider = aws.AnonymousCredentials{}

	if opts.AccessKeyID != "" {
		static := aws.Credentials{
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			Source:          "voice-render config",
		}
		credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return static, nil },
		))
	}

	return s3.New(s3.Options{
		Region:       opts.Region,
		Credentials:  credentials,
		BaseEndpoint: endpointOrNil(opts.Endpoint),
		UsePathStyle: opts.UsePathStyle,
	})
}

func endpointOrNil(endpoint string) *string {
	if endpoint == "" {
		return nil
	}

	return aws.String(endpoint)
}

// S3Store implements core.ObjectStore on an S3 bucket. Keys are placed
// under an optional prefix.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed store.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}

	return s.prefix + "/" + name
}

// Download implements core.ObjectStore.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, s.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload implements core.ObjectStore.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete implements core.ObjectStore.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}
