// Package s3 implements the storage backend on S3-compatible object
// storage. Containers map to buckets; capability URLs are presigned
// V4 requests.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/doctrans/internal/storage"
)

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Insecure       bool
	ForcePathStyle bool
	// CustomCreds overrides the default credential chain.
	CustomCreds *credentials.Credentials
	Transport   http.RoundTripper
}

// Store implements storage.Backend backed by S3-compatible object storage.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	return clone
}

// Client exposes the underlying MinIO client for diagnostics.
func (s *Store) Client() *minio.Client { return s.client }

func (s *Store) EnsureContainer(ctx context.Context, container string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, container)
	if err != nil {
		return false, fmt.Errorf("s3: head bucket: %w", err)
	}
	if exists {
		return false, nil
	}
	err = s.client.MakeBucket(ctx, container, minio.MakeBucketOptions{Region: s.cfg.Region})
	if err != nil {
		if isBucketExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: make bucket: %w", err)
	}
	return true, nil
}

func (s *Store) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	info, err := s.client.PutObject(ctx, container, name, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		if isBucketNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrContainerNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("s3: put object: %w", err)
	}
	out := storage.ObjectInfo{
		Container:   container,
		Name:        name,
		Size:        info.Size,
		ContentType: contentType,
		ETag:        info.ETag,
	}
	if !info.LastModified.IsZero() {
		out.LastModified = info.LastModified
	} else {
		out.LastModified = time.Now().UTC()
	}
	return out, nil
}

func (s *Store) StatObject(ctx context.Context, container, name string) (storage.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, container, name, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, s.convertError(err)
	}
	return storage.ObjectInfo{
		Container:    container,
		Name:         name,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		ETag:         info.ETag,
	}, nil
}

func (s *Store) ListObjects(ctx context.Context, container, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for obj := range s.client.ListObjects(ctx, container, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, s.convertError(obj.Err)
		}
		infos = append(infos, storage.ObjectInfo{
			Container:    container,
			Name:         obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		})
	}
	return infos, nil
}

func (s *Store) DeleteObject(ctx context.Context, container, name string) error {
	// RemoveObject is idempotent on S3, so probe first to keep the
	// not-found contract.
	if _, err := s.StatObject(ctx, container, name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, container, name, minio.RemoveObjectOptions{}); err != nil {
		return s.convertError(err)
	}
	return nil
}

func (s *Store) CopyObject(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (storage.ObjectInfo, error) {
	dst := minio.CopyDestOptions{Bucket: dstContainer, Object: dstName}
	src := minio.CopySrcOptions{Bucket: srcContainer, Object: srcName}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return storage.ObjectInfo{}, s.convertError(err)
	}
	// CopyObject's response lacks size and content type; stat the copy.
	return s.StatObject(ctx, dstContainer, dstName)
}

func (s *Store) SignObjectURL(ctx context.Context, container, name string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	method := http.MethodGet
	if perms.Write || perms.Create {
		method = http.MethodPut
	}
	u, err := s.client.Presign(ctx, method, container, name, ttl, url.Values{})
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("s3: presign object: %w", err)
	}
	return storage.SignedURL{
		URL:         u.String(),
		Permissions: perms,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) SignContainerURL(ctx context.Context, container string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	// S3 has no container-scope signature. The closest capability is a
	// presigned bucket listing.
	u, err := s.client.Presign(ctx, http.MethodGet, container, "", ttl, url.Values{})
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("s3: presign bucket: %w", err)
	}
	return storage.SignedURL{
		URL:         u.String(),
		Permissions: perms,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("s3: list buckets: %w", err)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the S3 client.
func (s *Store) Close() error { return nil }

func (s *Store) convertError(err error) error {
	if isBucketNotFound(err) {
		return storage.ErrContainerNotFound
	}
	if isNotFound(err) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("s3: %w", err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func isBucketNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchBucket"
}

func isBucketExists(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" ||
		strings.Contains(err.Error(), "already owned")
}
