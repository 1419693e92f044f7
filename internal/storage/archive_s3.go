package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client captures the subset of the AWS SDK client used by S3Archive.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Archive stores build logs as objects named <prefix>/<namespace>/<key>.
type S3Archive struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Archive builds an SDK client from cfg. Static credentials are used
// when both keys are set; otherwise requests are sent anonymously.
func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, invalidArgument("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "swiftpkgindex",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}

	return NewS3ArchiveWithClient(s3.New(opts), cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiveWithClient wraps an existing client.
func NewS3ArchiveWithClient(client S3Client, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (a *S3Archive) objectKey(namespace, key string) string {
	return path.Join(a.prefix, namespace, key)
}

// Store uploads data.
func (a *S3Archive) Store(ctx context.Context, namespace, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(namespace, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return internalError("put object "+a.objectKey(namespace, key), err)
	}
	return nil
}

// Fetch downloads an object.
func (a *S3Archive) Fetch(ctx context.Context, namespace, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(namespace, key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, archiveMiss(namespace, key)
		}
		return nil, internalError("get object "+a.objectKey(namespace, key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, internalError("read object "+a.objectKey(namespace, key), err)
	}
	return data, nil
}

// Remove deletes an object. Missing objects are ignored.
func (a *S3Archive) Remove(ctx context.Context, namespace, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(namespace, key)),
	})
	if err != nil && !isNoSuchKey(err) {
		return internalError("delete object "+a.objectKey(namespace, key), err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (a *S3Archive) Close() error { return nil }

func isNoSuchKey(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}
