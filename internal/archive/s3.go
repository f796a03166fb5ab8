// Package archive stores settlement statements of fully swept series in an
// S3-compatible object store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultPrefix is the key prefix used when the config leaves it empty.
const DefaultPrefix = "statements"

// Config locates the bucket. Endpoint is only set for S3-compatible
// providers (MinIO, R2); leave it empty for AWS.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// ObjectAPI is the subset of the S3 client the archiver needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Archiver writes one JSON object per series at <prefix>/<series>.json.
// Rewriting a statement overwrites the previous object.
type S3Archiver struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver builds an AWS SDK client from cfg. Static credentials are
// used when an access key is configured, otherwise the default chain.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3ArchiverWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func NewS3ArchiverWithClient(client ObjectAPI, bucket, prefix string) *S3Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key of a series' statement.
func (a *S3Archiver) Key(series common.Hash) string {
	return path.Join(a.prefix, series.Hex()+".json")
}

func (a *S3Archiver) PutStatement(ctx context.Context, st Statement) error {
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode statement %s: %w", st.SeriesID.Hex(), err)
	}
	key := a.Key(st.SeriesID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

func (a *S3Archiver) GetStatement(ctx context.Context, series common.Hash) (Statement, error) {
	key := a.Key(series)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Statement{}, fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var st Statement
	if err := json.NewDecoder(out.Body).Decode(&st); err != nil {
		return Statement{}, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return st, nil
}

// Health verifies the bucket is reachable with the configured credentials.
func (a *S3Archiver) Health(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("archive: bucket %s: %w", a.bucket, err)
	}
	return nil
}

func normaliseEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}
