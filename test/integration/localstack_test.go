//go:build integration

package integration

import (
	"bytes"
	"context"
	stderr "errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/fieldcache/fieldcache/internal/config"
	"github.com/fieldcache/fieldcache/internal/field"
	"github.com/fieldcache/fieldcache/internal/imagery"
	s3reader "github.com/fieldcache/fieldcache/internal/storage/s3"
	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
	"github.com/fieldcache/fieldcache/pkg/utils"
)

// LocalStackSuite loads images from a LocalStack S3 bucket
type LocalStackSuite struct {
	suite.Suite
	ctx      context.Context
	client   *s3.Client
	s3cfg    config.S3Config
	bucket   string
	endpoint string
}

func TestLocalStack(t *testing.T) {
	if os.Getenv("AWS_ENDPOINT_URL") == "" {
		t.Skip("Skipping LocalStack integration tests - no endpoint configured")
	}
	suite.Run(t, new(LocalStackSuite))
}

func (s *LocalStackSuite) SetupSuite() {
	s.ctx = context.Background()
	s.bucket = "fieldcache-test"
	s.endpoint = os.Getenv("AWS_ENDPOINT_URL")
	s.s3cfg = config.S3Config{
		Region:          "us-east-1",
		Endpoint:        s.endpoint,
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxRetries:      1,
	}

	cfg, err := awsconfig.LoadDefaultConfig(s.ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		awsconfig.WithRegion("us-east-1"),
	)
	s.Require().NoError(err)
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.endpoint)
		o.UsePathStyle = true
	})

	// Ignore the error if the bucket already exists.
	_, _ = s.client.CreateBucket(s.ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
}

func (s *LocalStackSuite) put(key string, body []byte) {
	_, err := s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	s.Require().NoError(err)
}

func grayPNG(t *testing.T, v uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	img.Set(0, 0, color.Gray{Y: v / 2})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (s *LocalStackSuite) TestReader() {
	t := s.T()
	s.put("raw/blob", []byte("hello fieldcache"))

	reader, err := s3reader.NewReader(s.ctx, s.s3cfg, utils.DiscardLogger())
	require.NoError(t, err)

	data, err := reader.GetObject(s.ctx, s.bucket, "raw/blob")
	require.NoError(t, err)
	assert.Equal(t, "hello fieldcache", string(data))

	info, err := reader.HeadObject(s.ctx, s.bucket, "raw/blob")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)

	_, err = reader.GetObject(s.ctx, s.bucket, "raw/missing")
	assert.True(t, stderr.Is(err, errors.ErrObjectNotFound))
}

func (s *LocalStackSuite) TestImageField() {
	t := s.T()
	s.put("scenes/a.png", grayPNG(t, 200))

	mgr := field.NewManager(field.WithLogger(utils.DiscardLogger()), field.WithThreshold(4))
	require.NoError(t, mgr.SetCacheDirectory(t.TempDir()))

	cfg := config.NewDefault().Image
	cfg.S3 = s.s3cfg
	loader := imagery.NewLoaderFromConfig(cfg, utils.DiscardLogger())

	location := "s3://" + s.bucket + "/scenes/a.png"
	f, err := imagery.NewField(s.ctx, mgr, loader, location, imagery.DecodeOptions{Bands: imagery.Gray})
	require.NoError(t, err)
	assert.Equal(t, types.NewShape(1, 3, 4), f.Shape())
	assert.Equal(t, types.StateEvicted, f.State())

	ranges := f.GetRanges(s.ctx, false)
	require.Len(t, ranges, 1)
	assert.Equal(t, float32(100), ranges[0].Min)
	assert.Equal(t, float32(200), ranges[0].Max)

	s.put("scenes/a.png", grayPNG(t, 60))
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.Refresh(ctx))
	sample, err := f.GetElement(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []float32{60}, sample.Values)
}

func (s *LocalStackSuite) TestMissingImage() {
	t := s.T()
	mgr := field.NewManager(field.WithLogger(utils.DiscardLogger()))

	cfg := config.NewDefault().Image
	cfg.S3 = s.s3cfg
	loader := imagery.NewLoaderFromConfig(cfg, utils.DiscardLogger())

	_, err := imagery.NewField(s.ctx, mgr, loader, "s3://"+s.bucket+"/scenes/none.png", imagery.DecodeOptions{})
	assert.True(t, stderr.Is(err, errors.ErrFetchUnavailable))
}
