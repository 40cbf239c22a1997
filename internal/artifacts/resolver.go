package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storyloom/internal/config"
	"storyloom/internal/services"
)

const defaultPresignExpiry = 7 * 24 * time.Hour

// Artifact describes a resolved object.
type Artifact struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// Resolver turns an object key into an Artifact.
type Resolver interface {
	Resolve(ctx context.Context, key string) (Artifact, error)
	Check(ctx context.Context) error
}

// NewResolver returns a bucket-backed resolver when storage is configured and
// a passthrough resolver otherwise.
func NewResolver(cfg config.Storage) (Resolver, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Passthrough{}, nil
	}
	return NewBucket(cfg)
}

// Bucket resolves keys against an S3-compatible bucket.
type Bucket struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewBucket connects a minio client for cfg.
func NewBucket(cfg config.Storage) (*Bucket, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	expiry := time.Duration(cfg.PresignMinute) * time.Minute
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &Bucket{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// Resolve stats key and presigns a GET URL for it.
func (b *Bucket) Resolve(ctx context.Context, key string) (Artifact, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return Artifact{}, services.Wrap(services.ErrValidation, "", "resolve artifact", "object key is empty", nil)
	}
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Artifact{}, classifyStorageError(key, err)
	}
	presigned, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.expiry, url.Values{})
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrTransient, "", "presign artifact", key, err)
	}
	return Artifact{
		Key:         key,
		URL:         presigned.String(),
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// Check confirms the configured bucket exists and is reachable.
func (b *Bucket) Check(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return classifyStorageError(b.bucket, err)
	}
	if !exists {
		return services.Wrap(services.ErrFatalUpload, "", "check bucket", fmt.Sprintf("bucket %q does not exist", b.bucket), nil)
	}
	return nil
}

func classifyStorageError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return services.Wrap(services.ErrNotFound, "", "stat artifact", key, err)
	case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return services.Wrap(services.ErrFatalUpload, "", "stat artifact", key, err)
	default:
		return services.Wrap(services.ErrTransient, "", "stat artifact", key, err)
	}
}

// Passthrough returns keys unchanged.
type Passthrough struct{}

// Resolve echoes key as both key and URL.
func (Passthrough) Resolve(_ context.Context, key string) (Artifact, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Artifact{}, services.Wrap(services.ErrValidation, "", "resolve artifact", "object key is empty", nil)
	}
	return Artifact{Key: key, URL: key}, nil
}

// Check always succeeds.
func (Passthrough) Check(context.Context) error { return nil }
