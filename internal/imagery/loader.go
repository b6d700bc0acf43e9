package imagery

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/internal/circuit"
	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/storage/s3"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/retry"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// Loader reads image bytes from local paths, http(s) URLs and s3://bucket/key objects. Reads
// through one loader are serialized. Remote reads are retried and guarded by a circuit breaker
// per host or bucket.
type Loader struct {
	client   *http.Client
	retryer  *retry.Retryer
	breakers *circuit.Registry
	logger   *logrus.Entry

	s3Config config.S3Config
	s3       types.ObjectReader

	mu sync.Mutex
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg retry.Config) LoaderOption {
	return func(l *Loader) { l.retryer = retry.New(cfg) }
}

// WithCircuitBreakers replaces the default breaker registry.
func WithCircuitBreakers(r *circuit.Registry) LoaderOption {
	return func(l *Loader) { l.breakers = r }
}

// WithObjectReader sets the reader for s3:// locations.
func WithObjectReader(r types.ObjectReader) LoaderOption {
	return func(l *Loader) { l.s3 = r }
}

// WithS3Config sets the configuration used to create an S3 reader on the first s3:// load.
func WithS3Config(cfg config.S3Config) LoaderOption {
	return func(l *Loader) { l.s3Config = cfg }
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *logrus.Entry) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader with a 30 second request timeout and the default retry policy.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		client:  &http.Client{Timeout: 30 * time.Second},
		retryer: retry.New(retry.DefaultConfig()),
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	l.logger = l.logger.WithField("component", "imagery")
	if l.breakers == nil {
		l.breakers = circuit.NewRegistry(circuit.Config{IsSuccessful: originAlive}, l.logger)
	}
	return l
}

// NewLoaderFromConfig creates a loader from the image section of the configuration.
func NewLoaderFromConfig(cfg config.ImageConfig, logger *logrus.Entry) *Loader {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	retryCfg := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay > 0 {
		retryCfg.InitialDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.Retry.MaxDelay
	}
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("retrying image load")
	}

	opts := []LoaderOption{
		WithRetry(retryCfg),
		WithS3Config(cfg.S3),
		WithLoaderLogger(logger),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	}
	if cfg.CircuitBreaker.Enabled {
		opts = append(opts, WithCircuitBreakers(circuit.NewRegistry(circuit.Config{
			FailureThreshold: uint32(cfg.CircuitBreaker.FailureThreshold),
			Timeout:          cfg.CircuitBreaker.Timeout,
			IsSuccessful:     originAlive,
		}, logger)))
	}
	l := NewLoader(opts...)
	if !cfg.CircuitBreaker.Enabled {
		l.breakers = nil
	}
	return l
}

// originAlive treats answers that prove the origin is up, such as a missing object, as
// successes for the circuit breaker.
func originAlive(err error) bool {
	if err == nil {
		return true
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeObjectNotFound, errors.ErrCodeAccessDenied:
		return true
	}
	return false
}

// Load returns the bytes at location.
func (l *Loader) Load(ctx context.Context, location string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(location, "s3://"):
		data, err = l.loadS3(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		data, err = l.loadHTTP(ctx, location)
	default:
		data, err = loadFile(strings.TrimPrefix(location, "file://"))
	}

	logger := l.logger.WithFields(logrus.Fields{"location": location, "duration": time.Since(start)})
	if err != nil {
		logger.WithError(err).Debug("image load failed")
		return nil, err
	}
	logger.WithField("size", humanize.Bytes(uint64(len(data)))).Debug("loaded image")
	return data, nil
}

// Breakers returns the loader's circuit breakers, or nil when they are disabled.
func (l *Loader) Breakers() *circuit.Registry {
	return l.breakers
}

func (l *Loader) remote(ctx context.Context, breaker string, fn func(context.Context) error) error {
	return l.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		if l.breakers == nil {
			return fn(ctx)
		}
		return l.breakers.Get(breaker).Execute(ctx, fn)
	})
}

func (l *Loader) loadHTTP(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidArgument, err, "invalid image URL").
			WithComponent("imagery").
			WithContext("location", location)
	}

	var data []byte
	err = l.remote(ctx, u.Host, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidArgument, err, "failed to build request").
				WithComponent("imagery")
		}
		resp, err := l.client.Do(req)
		if err != nil {
			code := errors.ErrCodeNetworkError
			if stderr.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				code = errors.ErrCodeConnectionTimeout
			}
			return errors.Wrap(code, err, "image request failed").
				WithComponent("imagery").
				WithContext("location", location)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return statusError(resp, location)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeNetworkError, err, "failed to read image body").
				WithComponent("imagery").
				WithContext("location", location)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func statusError(resp *http.Response, location string) error {
	status := resp.StatusCode
	var code errors.ErrorCode
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		code = errors.ErrCodeObjectNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errors.ErrCodeAccessDenied
	case status == http.StatusTooManyRequests || status >= 500:
		code = errors.ErrCodeNetworkError
	default:
		code = errors.ErrCodeBackendRead
	}
	err := errors.Newf(code, "unexpected HTTP status %d", status).
		WithComponent("imagery").
		WithContext("location", location).
		WithDetail("status", status)
	if after, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		err = err.WithDetail(retry.RetryAfterDetail, after)
	}
	return err
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now), true
	}
	return 0, false
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return stderr.As(err, &t) && t.Timeout()
}

func (l *Loader) loadS3(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := s3.ParseURI(location)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidArgument, err, "invalid s3 location").
			WithComponent("imagery")
	}
	if l.s3 == nil {
		reader, err := s3.NewReader(ctx, l.s3Config, l.logger)
		if err != nil {
			return nil, err
		}
		l.s3 = reader
	}

	var data []byte
	err = l.remote(ctx, "s3:"+bucket, func(ctx context.Context) error {
		var err error
		data, err = l.s3.GetObject(ctx, bucket, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func loadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	code := errors.ErrCodeBackendRead
	switch {
	case stderr.Is(err, fs.ErrNotExist):
		code = errors.ErrCodeObjectNotFound
	case stderr.Is(err, fs.ErrPermission):
		code = errors.ErrCodeAccessDenied
	}
	return nil, errors.Wrap(code, err, fmt.Sprintf("failed to read %s", path)).
		WithComponent("imagery")
}
