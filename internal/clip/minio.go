package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSpool stores clips in an S3-compatible bucket.
type MinioSpool struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// NewMinioSpool connects to MinIO and ensures the bucket exists.
func NewMinioSpool(endpoint, accessKey, secretKey, bucket string, useSSL bool, maxBytes int64) (*MinioSpool, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioSpool{client: client, bucket: bucket, maxBytes: maxBytes}, nil
}

// Put buffers the upload to learn its size, then stores it as one object.
func (m *MinioSpool) Put(ctx context.Context, name string, r io.Reader) (*Clip, error) {
	var buf bytes.Buffer
	if _, err := limitedCopy(&buf, r, m.maxBytes); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read clip: %w", err)
	}
	key := objectName(name)
	size := int64(buf.Len())
	_, err := m.client.PutObject(ctx, m.bucket, key, &buf, size, minio.PutObjectOptions{ContentType: "video/webm"})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	return &Clip{
		Name: safeFilename(name),
		Size: size,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
			if err != nil {
				return nil, fmt.Errorf("get object: %w", err)
			}
			return obj, nil
		},
		remove: func(ctx context.Context) error {
			if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("delete object: %w", err)
			}
			return nil
		},
	}, nil
}
