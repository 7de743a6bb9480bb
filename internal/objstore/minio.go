package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// MinIOStore implements Store on any S3-compatible endpoint.
type MinIOStore struct {
	client *minio.Client
	config Config
}

// NewMinIOStore creates the client. No network call happens until the
// first operation; use Health or EnsureBucket to verify connectivity.
func NewMinIOStore(config Config) (*MinIOStore, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &MinIOStore{client: client, config: config}, nil
}

func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return conerrors.Unavailable("object store", err)
	}
	if exists {
		return nil
	}
	opts := minio.MakeBucketOptions{Region: s.config.Region}
	if err := s.client.MakeBucket(ctx, s.config.Bucket, opts); err != nil {
		return conerrors.Unavailable("object store", err)
	}
	slog.Info("bucket_created", slog.String("bucket", s.config.Bucket))
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    uint64(s.config.PartSize),
	}
	if _, err := s.client.PutObject(ctx, s.config.Bucket, key, r, size, opts); err != nil {
		return conerrors.New(conerrors.ErrCodeObjectStore,
			fmt.Sprintf("failed to upload %s", key), err)
	}
	slog.Debug("object_uploaded",
		slog.String("key", key),
		slog.Int64("size", size))
	return nil
}

func (s *MinIOStore) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, conerrors.New(conerrors.ErrCodeObjectStore,
			fmt.Sprintf("failed to get %s", key), err)
	}
	return obj, nil
}

func (s *MinIOStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, conerrors.NotFound(conerrors.ErrCodeObjectNotFound, "object", key)
		}
		return nil, conerrors.New(conerrors.ErrCodeObjectStore,
			fmt.Sprintf("failed to read %s", key), err)
	}
	return data, nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, conerrors.NotFound(conerrors.ErrCodeObjectNotFound, "object", key)
		}
		return nil, conerrors.New(conerrors.ErrCodeObjectStore,
			fmt.Sprintf("failed to stat %s", key), err)
	}
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
	}, nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.config.Bucket, opts) {
		if obj.Err != nil {
			return nil, conerrors.New(conerrors.ErrCodeObjectStore,
				fmt.Sprintf("failed to list %s", prefix), obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
			ETag:         obj.ETag,
		})
	}
	return objects, nil
}

func (s *MinIOStore) RemovePrefix(ctx context.Context, prefix string) error {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := s.client.RemoveObject(ctx, s.config.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return conerrors.New(conerrors.ErrCodeObjectStore,
				fmt.Sprintf("failed to remove %s", obj.Key), err)
		}
	}
	if len(objects) > 0 {
		slog.Info("prefix_removed",
			slog.String("prefix", prefix),
			slog.Int("objects", len(objects)))
	}
	return nil
}

func (s *MinIOStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.config.Bucket, key, ttl, url.Values{})
	if err != nil {
		return "", conerrors.New(conerrors.ErrCodeObjectStore,
			fmt.Sprintf("failed to sign %s", key), err)
	}
	return signed.String(), nil
}

func (s *MinIOStore) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.config.Bucket); err != nil {
		return conerrors.Unavailable("object store", err)
	}
	return nil
}

func (s *MinIOStore) Close() error { return nil }

// isNoSuchKey detects the S3 missing-object error code.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

var _ Store = (*MinIOStore)(nil)
