package upload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// s3TestTimeout bounds the connection test.
const s3TestTimeout = 30 * time.Second

// S3Config holds S3-compatible object store settings.
type S3Config struct {
	Endpoint        string // Empty for AWS, set for R2/MinIO
	Region          string
	Bucket          string
	Prefix          string // Optional key prefix
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string // Base URL clips are served from
}

// IsConfigured reports whether the bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// S3Store uploads clips and their metadata to an S3-compatible bucket.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Store creates a store for cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("s3: %w", ErrNotConfigured)
	}
	return &S3Store{cfg: cfg, client: newS3Client(&cfg)}, nil
}

// newS3Client creates an S3 client with the given configuration.
func newS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Mode implements Store.
func (s *S3Store) Mode() types.StorageMode { return types.StorageS3 }

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, req *types.UploadRequest) (*types.Receipt, error) {
	key := s.key(objectKey(req))

	meta, err := marshalSidecar(req)
	if err != nil {
		return nil, err
	}

	if err := s.put(ctx, key, req.Audio, req.MimeType); err != nil {
		return nil, fmt.Errorf("upload clip %s: %w", key, err)
	}
	if err := s.put(ctx, sidecarKey(key), meta, "application/json"); err != nil {
		return nil, fmt.Errorf("upload clip metadata %s: %w", key, err)
	}

	slog.Info("clip uploaded", "clip_id", req.ID, "bucket", s.cfg.Bucket, "key", key)

	return &types.Receipt{
		ClipID:     req.ID,
		ObjectKey:  key,
		URL:        s.publicURL(key),
		UploadedAt: time.Now(),
	}, nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	return err
}

func (s *S3Store) key(k string) string {
	if s.cfg.Prefix == "" {
		return k
	}
	return path.Join(strings.Trim(s.cfg.Prefix, "/"), k)
}

func (s *S3Store) publicURL(key string) string {
	if s.cfg.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/" + key
}

// TestConnection uploads and deletes a small object to verify access.
func (s *S3Store) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s3TestTimeout)
	defer cancel()

	testKey := s.key(fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	if err := s.put(ctx, testKey, []byte("ZuidWest FM voice recorder connection test"), "text/plain"); err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
