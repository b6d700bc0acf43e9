package s3

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	fcconfig "github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// API is the part of the S3 client the reader uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var _ types.ObjectReader = (*Reader)(nil)

// Reader fetches whole objects for image sources.
type Reader struct {
	client API
	logger *logrus.Entry

	mu    sync.Mutex
	stats ReaderStats
}

// ReaderStats counts reader activity
type ReaderStats struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// NewReader builds an S3 client from cfg and the default AWS credential chain. Static keys in
// cfg take precedence over the chain.
func NewReader(ctx context.Context, cfg fcconfig.S3Config, logger *logrus.Entry) (*Reader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "failed to load AWS config").
			WithComponent("s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewReaderWithClient(client, logger), nil
}

// NewReaderWithClient wraps an existing client.
func NewReaderWithClient(client API, logger *logrus.Entry) *Reader {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reader{client: client, logger: logger.WithField("component", "s3")}
}

// GetObject downloads a whole object.
func (r *Reader) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	start := time.Now()
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		r.record(time.Since(start), 0, err)
		return nil, translateError(err, "get_object", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	r.record(time.Since(start), int64(len(data)), err)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkError, err, "failed to read object body").
			WithComponent("s3").
			WithContext("bucket", bucket).
			WithContext("key", key)
	}

	r.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"size":   humanize.Bytes(uint64(len(data))),
	}).Debug("downloaded object")
	return data, nil
}

// HeadObject returns object metadata without downloading it.
func (r *Reader) HeadObject(ctx context.Context, bucket, key string) (*types.ObjectInfo, error) {
	start := time.Now()
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	r.record(time.Since(start), 0, err)
	if err != nil {
		return nil, translateError(err, "head_object", bucket, key)
	}

	return &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         aws.ToString(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// Stats returns a copy of the reader's counters.
func (r *Reader) Stats() ReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reader) record(latency time.Duration, bytes int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Requests++
	r.stats.BytesDownloaded += bytes
	if r.stats.Requests == 1 {
		r.stats.AverageLatency = latency
	} else {
		r.stats.AverageLatency = (r.stats.AverageLatency*time.Duration(r.stats.Requests-1) + latency) /
			time.Duration(r.stats.Requests)
	}
	if err != nil {
		r.stats.Errors++
		r.stats.LastError = err.Error()
		r.stats.LastErrorTime = time.Now()
	}
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri needs a bucket and a key: %q", uri)
	}
	return bucket, key, nil
}

func translateError(err error, operation, bucket, key string) error {
	var code errors.ErrorCode
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		code = errors.ErrCodeObjectNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		code = errors.ErrCodeObjectNotFound
	case apiErrorCode(err) == "AccessDenied" || apiErrorCode(err) == "Forbidden":
		code = errors.ErrCodeAccessDenied
	case stderr.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeConnectionTimeout
	default:
		code = errors.ErrCodeNetworkError
	}
	return errors.Wrap(code, err, fmt.Sprintf("%s failed", operation)).
		WithComponent("s3").
		WithOperation(operation).
		WithContext("bucket", bucket).
		WithContext("key", key)
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
