package imagestore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fleetup/fleetup/pkg/util"
)

// DefaultExpiry bounds how long a presigned image URL stays valid. It
// must outlast the slowest image copy.
const DefaultExpiry = 2 * time.Hour

// S3Options configures an S3-compatible image repository.
type S3Options struct {
	Endpoint        string        `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl" mapstructure:"use_ssl"`
	Bucket          string        `yaml:"bucket" mapstructure:"bucket"`
	Region          string        `yaml:"region" mapstructure:"region"`
	Prefix          string        `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Expiry          time.Duration `yaml:"expiry,omitempty" mapstructure:"expiry"`
}

// Enabled reports whether an S3 repository is configured.
func (o S3Options) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

// S3Source hands out presigned GET URLs for images stored in a bucket.
type S3Source struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration
}

// NewS3Source creates a source over the configured bucket. Setting Region
// avoids a bucket-location lookup on every presign.
func NewS3Source(opts S3Options) (*S3Source, error) {
	if !opts.Enabled() {
		return nil, fmt.Errorf("s3 image repository needs endpoint and bucket: %w", util.ErrInvalidConfig)
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &S3Source{client: client, bucket: opts.Bucket, prefix: opts.Prefix, expiry: expiry}, nil
}

func (s *S3Source) key(image string) string {
	if s.prefix == "" {
		return image
	}
	return path.Join(s.prefix, image)
}

// URL implements Source.
func (s *S3Source) URL(ctx context.Context, image string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.key(image), s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", image, err)
	}
	return u.String(), nil
}

// Check verifies that the bucket exists and holds image.
func (s *S3Source) Check(ctx context.Context, image string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s: %w", s.bucket, util.ErrNotFound)
	}
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(image), minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("image %s: %w", image, util.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", image, err)
	}
	return nil
}
