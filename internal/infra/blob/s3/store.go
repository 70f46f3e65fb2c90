// Package s3 stores blob objects in one S3 or MinIO bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"usqutils/internal/blob/object"
)

// checksumKey is the user metadata entry carrying the content SHA-256.
const checksumKey = "sha256"

// Config holds the connection settings. Static keys are optional; the default
// AWS credential chain applies when they are empty.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of *s3.Client the store calls.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Presigner is the subset of *s3.PresignClient the store calls.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store implements object.Store on one bucket.
type Store struct {
	api       API
	presigner Presigner
	bucket    string
}

// New loads the AWS configuration and builds a client for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(cfg.Bucket, client, s3.NewPresignClient(client)), nil
}

// NewWithClient wraps an existing client. A nil presigner disables PresignURL.
func NewWithClient(bucket string, api API, presigner Presigner) *Store {
	return &Store{api: api, presigner: presigner, bucket: bucket}
}

// Driver implements object.Store.
func (*Store) Driver() object.Driver { return object.DriverS3 }

// Put uploads r with If-None-Match so an existing key is never replaced.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts object.PutOptions) (object.Info, error) {
	if err := object.CheckKey(key); err != nil {
		return object.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return object.Info{}, fmt.Errorf("read %s: %w", key, err)
	}
	sum := object.Checksum(data)
	meta := maps.Clone(opts.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta[checksumKey] = sum
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
		IfNoneMatch:   aws.String("*"),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return object.Info{}, s.translate(key, err)
	}
	return object.Info{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Checksum:    sum,
		Metadata:    maps.Clone(opts.Metadata),
		Modified:    time.Now().UTC(),
	}, nil
}

// Get implements object.Store. The caller closes the body.
func (s *Store) Get(ctx context.Context, key string) (object.Info, io.ReadCloser, error) {
	if err := object.CheckKey(key); err != nil {
		return object.Info{}, nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return object.Info{}, nil, s.translate(key, err)
	}
	return describe(key, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), out.Body, nil
}

// Head implements object.Store.
func (s *Store) Head(ctx context.Context, key string) (object.Info, error) {
	if err := object.CheckKey(key); err != nil {
		return object.Info{}, err
	}
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return object.Info{}, s.translate(key, err)
	}
	return describe(key, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), nil
}

// Delete heads the key first because DeleteObject succeeds on absent keys.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, s.translate(key, err)
	}
	return true, nil
}

// List pages through the bucket. Listed entries carry no content type or
// metadata; Head a key for those.
func (s *Store) List(ctx context.Context, prefix string) ([]object.Info, error) {
	pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var out []object.Info
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, object.Info{
				Key:      aws.ToString(obj.Key),
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	object.SortByKey(out)
	return out, nil
}

// PresignURL returns a time-limited GET URL.
func (s *Store) PresignURL(ctx context.Context, key string, opts object.PresignOptions) (string, error) {
	if err := object.CheckKey(key); err != nil {
		return "", err
	}
	if s.presigner == nil {
		return "", object.ErrUnsupported
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = object.DefaultPresignExpiry
	}
	req, err := s.presigner.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)},
		func(o *s3.PresignOptions) { o.Expires = expiry })
	if err != nil {
		return "", fmt.Errorf("s3: presign %s: %w", key, err)
	}
	return req.URL, nil
}

func describe(key string, size *int64, contentType *string, meta map[string]string, modified *time.Time) object.Info {
	md := maps.Clone(meta)
	sum := md[checksumKey]
	delete(md, checksumKey)
	if len(md) == 0 {
		md = nil
	}
	return object.Info{
		Key:         key,
		Size:        aws.ToInt64(size),
		ContentType: aws.ToString(contentType),
		Checksum:    sum,
		Metadata:    md,
		Modified:    aws.ToTime(modified),
	}
}

// translate maps S3 error codes onto the object sentinels.
func (s *Store) translate(key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return object.NotFound(key)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return object.Exists(key)
		}
	}
	return fmt.Errorf("s3: %s/%s: %w", s.bucket, key, err)
}
