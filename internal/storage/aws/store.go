// Package aws implements the storage backend on AWS S3 using the
// official SDK. Containers map to buckets; capability URLs are SigV4
// presigned requests.
package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"pkt.systems/doctrans/internal/storage"
)

// Config controls the behaviour of the AWS S3 storage backend.
type Config struct {
	Endpoint     string
	Region       string
	UsePathStyle bool
}

// Store implements storage.Backend backed by AWS S3.
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	awsCfg   aws.Config
	cfg      Config
	endpoint string
}

// New constructs a Store. Credentials resolve through the default AWS
// chain (env, shared config, IMDS).
func New(ctx context.Context, cfg Config) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		region := awsCfg.Region
		if region == "" {
			region = "us-east-1"
		}
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
	}
	return &Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		awsCfg:   awsCfg,
		cfg:      cfg,
		endpoint: endpoint,
	}, nil
}

func (s *Store) EnsureContainer(ctx context.Context, container string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)})
	if err == nil {
		return false, nil
	}
	// HeadBucket reports a missing bucket as a bare 404.
	if !isBucketNotFound(err) && !isNotFound(err) {
		return false, fmt.Errorf("aws: head bucket: %w", err)
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(container)}
	if region := s.awsCfg.Region; region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return false, nil
		}
		return false, fmt.Errorf("aws: create bucket: %w", err)
	}
	return true, nil
}

func (s *Store) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
		Body:   r,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	resp, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isBucketNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrContainerNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("aws: put object: %w", err)
	}
	info := storage.ObjectInfo{
		Container:    container,
		Name:         name,
		Size:         size,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(*resp.ETag, `"`)
	}
	return info, nil
}

func (s *Store) StatObject(ctx context.Context, container, name string) (storage.ObjectInfo, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return storage.ObjectInfo{}, s.convertError(err)
	}
	info := storage.ObjectInfo{Container: container, Name: name}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	if resp.ETag != nil {
		info.ETag = strings.Trim(*resp.ETag, `"`)
	}
	return info, nil
}

func (s *Store) ListObjects(ctx context.Context, container, prefix string) ([]storage.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(container)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	var infos []storage.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.convertError(err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			info := storage.ObjectInfo{Container: container, Name: *obj.Key}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			if obj.ETag != nil {
				info.ETag = strings.Trim(*obj.ETag, `"`)
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (s *Store) DeleteObject(ctx context.Context, container, name string) error {
	// DeleteObject succeeds on missing keys, probe first.
	if _, err := s.StatObject(ctx, container, name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return s.convertError(err)
	}
	return nil
}

func (s *Store) CopyObject(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (storage.ObjectInfo, error) {
	source := srcContainer + "/" + url.PathEscape(srcName)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstName),
		CopySource: aws.String(source),
	})
	if err != nil {
		return storage.ObjectInfo{}, s.convertError(err)
	}
	return s.StatObject(ctx, dstContainer, dstName)
}

func (s *Store) SignObjectURL(ctx context.Context, container, name string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	expires := s3.WithPresignExpires(ttl)
	var (
		u   string
		err error
	)
	if perms.Write || perms.Create {
		var req *v4.PresignedHTTPRequest
		req, err = s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(container),
			Key:    aws.String(name),
		}, expires)
		if err == nil {
			u = req.URL
		}
	} else {
		var req *v4.PresignedHTTPRequest
		req, err = s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(container),
			Key:    aws.String(name),
		}, expires)
		if err == nil {
			u = req.URL
		}
	}
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("aws: presign object: %w", err)
	}
	return storage.SignedURL{
		URL:         u,
		Permissions: perms,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}, nil
}

// SignContainerURL presigns a bucket listing. The SDK's presign client
// only covers object operations, so the request is signed directly.
func (s *Store) SignContainerURL(ctx context.Context, container string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	creds, err := s.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("aws: retrieve credentials: %w", err)
	}
	raw := s.bucketURL(container) + "?list-type=2&X-Amz-Expires=" + strconv.Itoa(int(ttl/time.Second))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("aws: build list request: %w", err)
	}
	region := s.awsCfg.Region
	if region == "" {
		region = "us-east-1"
	}
	signed, _, err := v4.NewSigner().PresignHTTP(ctx, creds, req, "UNSIGNED-PAYLOAD", "s3", region, time.Now().UTC())
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("aws: presign bucket: %w", err)
	}
	return storage.SignedURL{
		URL:         signed,
		Permissions: perms,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) bucketURL(container string) string {
	if s.cfg.UsePathStyle || s.cfg.Endpoint != "" {
		return s.endpoint + "/" + container
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return s.endpoint + "/" + container
	}
	u.Host = container + "." + u.Host
	return u.String()
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return fmt.Errorf("aws: list buckets: %w", err)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the AWS client.
func (s *Store) Close() error { return nil }

func (s *Store) convertError(err error) error {
	if isBucketNotFound(err) {
		return storage.ErrContainerNotFound
	}
	if isNotFound(err) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("aws: %w", err)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isBucketNotFound(err error) bool {
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchBucket"
	}
	return false
}
