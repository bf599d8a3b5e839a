package state

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/siqueiraa/LiftFlow/pkg/config"
)

// S3Objects is an ObjectStore backed by an S3 (or S3-compatible) bucket.
type S3Objects struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Objects builds a client from static credentials. A custom endpoint
// switches to path-style addressing, as MinIO and LocalStack expect.
func NewS3Objects(ctx context.Context, cfg config.S3Config) (*S3Objects, error) {
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Objects{client: client, uploader: manager.NewUploader(client), bucket: cfg.Bucket}, nil
}

func (o *S3Objects) Put(ctx context.Context, key string, body io.Reader) (string, error) {
	res, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", err
	}
	return res.Location, nil
}

func (o *S3Objects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return resp.Body, nil
}
