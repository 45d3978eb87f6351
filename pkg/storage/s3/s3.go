// Package s3 reads traces from and uploads extraction outputs to S3 or
// S3-compatible stores (MinIO, LocalStack).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Scheme is the URI scheme handled by this package.
const Scheme = "s3://"

// ErrInvalidURI is returned for locations that are not s3://bucket/key.
var ErrInvalidURI = errors.New("s3: invalid uri")

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	OperationTimeout time.Duration
	DownloadTimeout  time.Duration
	UploadTimeout    time.Duration
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(region string) Config {
	return Config{
		Region:           region,
		OperationTimeout: 30 * time.Second,
		DownloadTimeout:  10 * time.Minute,
		UploadTimeout:    5 * time.Minute,
	}
}

// URI is a parsed s3://bucket/key location.
type URI struct {
	Bucket string
	Key    string
}

// String returns the s3:// form.
func (u URI) String() string {
	return Scheme + u.Bucket + "/" + u.Key
}

// Base returns the last path element of the key.
func (u URI) Base() string {
	return path.Base(u.Key)
}

// IsURI reports whether location uses the s3 scheme.
func IsURI(location string) bool {
	return strings.HasPrefix(location, Scheme)
}

// ParseURI splits s3://bucket/key. Both parts must be non-empty.
func ParseURI(location string) (URI, error) {
	if !IsURI(location) {
		return URI{}, fmt.Errorf("%w: %q", ErrInvalidURI, location)
	}
	rest := strings.TrimPrefix(location, Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return URI{}, fmt.Errorf("%w: %q", ErrInvalidURI, location)
	}
	return URI{Bucket: bucket, Key: key}, nil
}

// ContentType returns the upload content type for an output key.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// Client provides the S3 operations commtrace needs.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		cfg:    withDefaults(cfg),
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig(cfg.Region)
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	return cfg
}

// Open returns a reader for the object and its size. The caller must
// close the reader.
func (c *Client) Open(ctx context.Context, u URI) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)

	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(u.Key),
	})
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("failed to get object %s: %w", u, err)
	}

	// Wrap to cancel context on close
	return &cancelOnCloseReader{
		ReadCloser: output.Body,
		cancel:     cancel,
	}, aws.ToInt64(output.ContentLength), nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Stat returns the object's size and ETag.
func (c *Client) Stat(ctx context.Context, u URI) (int64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	output, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(u.Key),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to head object %s: %w", u, err)
	}
	return aws.ToInt64(output.ContentLength), aws.ToString(output.ETag), nil
}

// Upload stores body at u with a single PUT. Extraction outputs are one
// table per trace, so multipart uploads are not needed.
func (c *Client) Upload(ctx context.Context, u URI, body io.ReadSeeker, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(u.Key),
		Body:        body,
		ContentType: aws.String(ContentType(u.Key)),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", u, err)
	}
	return nil
}
