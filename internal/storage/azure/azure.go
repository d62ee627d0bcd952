// Package azure implements the storage backend on Azure Blob Storage.
//
// Capability URLs are shared access signatures. Two signing strategies
// exist: shared-key signing from the account key, and user-delegation
// signing backed by an Entra identity. The strategy is fixed when the
// store is constructed.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/storage"
)

// Config controls the behaviour of the Azure storage backend.
type Config struct {
	// Account is the storage account name. Required.
	Account string
	// AccountKey enables shared-key authentication and shared-key SAS
	// signing. Leave empty to use the ambient Entra identity instead.
	AccountKey string
	// Endpoint overrides the service URL. Defaults to
	// https://<account>.blob.core.windows.net.
	Endpoint string
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
	// Clock drives SAS start/expiry times. Defaults to the real clock.
	Clock clock.Clock
}

// Store implements storage.Backend on an Azure Blob service client.
type Store struct {
	client *azblob.Client
	signer sasSigner
	cfg    Config
	clk    clock.Clock
}

// New constructs a Store. With an account key it authenticates via
// shared key and signs SAS tokens locally; without one it resolves the
// default Entra credential chain and signs via user delegation keys.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Account) == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	opts := defaultClientOptions(cfg.Transport)

	var (
		client *azblob.Client
		signer sasSigner
	)
	if cfg.AccountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("azure: shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
		signer = &sharedKeySigner{cred: cred}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure: default credential: %w", err)
		}
		client, err = azblob.NewClient(endpoint, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("azure: create client: %w", err)
		}
		signer = &delegationSigner{svc: client.ServiceClient()}
	}
	return &Store{client: client, signer: signer, cfg: cfg, clk: clk}, nil
}

func defaultClientOptions(transport http.RoundTripper) *azblob.ClientOptions {
	if transport == nil {
		transport = defaultTransport()
	}
	return &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: 4,
				TryTimeout: 2 * time.Minute,
			},
			Transport: &http.Client{Transport: transport},
		},
	}
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

// SigningStrategy names the SAS strategy in effect, for startup logging.
func (s *Store) SigningStrategy() string { return s.signer.Name() }

func (s *Store) EnsureContainer(ctx context.Context, container string) (bool, error) {
	_, err := s.client.CreateContainer(ctx, container, nil)
	if err != nil {
		if isContainerExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("azure: create container: %w", err)
	}
	return true, nil
}

func (s *Store) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	opts := &azblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	resp, err := s.client.UploadStream(ctx, container, name, r, opts)
	if err != nil {
		if isContainerNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrContainerNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("azure: upload: %w", err)
	}
	info := storage.ObjectInfo{
		Container:   container,
		Name:        name,
		Size:        size,
		ContentType: contentType,
	}
	if resp.ETag != nil {
		info.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	} else {
		info.LastModified = s.clk.Now().UTC()
	}
	return info, nil
}

func (s *Store) StatObject(ctx context.Context, container, name string) (storage.ObjectInfo, error) {
	bc := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		if isContainerNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrContainerNotFound
		}
		if isNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("azure: get properties: %w", err)
	}
	info := storage.ObjectInfo{Container: container, Name: name}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	return info, nil
}

func (s *Store) ListObjects(ctx context.Context, container, prefix string) ([]storage.ObjectInfo, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	pager := s.client.NewListBlobsFlatPager(container, opts)
	var infos []storage.ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if isContainerNotFound(err) {
				return nil, storage.ErrContainerNotFound
			}
			return nil, fmt.Errorf("azure: list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := storage.ObjectInfo{Container: container, Name: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.ContentType != nil {
					info.ContentType = *p.ContentType
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (s *Store) DeleteObject(ctx context.Context, container, name string) error {
	_, err := s.client.DeleteBlob(ctx, container, name, nil)
	if err != nil {
		if isContainerNotFound(err) {
			return storage.ErrContainerNotFound
		}
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("azure: delete blob: %w", err)
	}
	return nil
}

func (s *Store) SignObjectURL(ctx context.Context, container, name string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	return s.sign(ctx, container, name, perms, ttl)
}

func (s *Store) SignContainerURL(ctx context.Context, container string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	return s.sign(ctx, container, "", perms, ttl)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.ServiceClient().GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("azure: service properties: %w", err)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the Azure client.
func (s *Store) Close() error { return nil }

func (s *Store) sign(ctx context.Context, container, name string, perms storage.Permissions, ttl time.Duration) (storage.SignedURL, error) {
	now := s.clk.Now().UTC()
	expiry := now.Add(ttl)
	query, err := s.signer.Sign(ctx, sasRequest{
		container: container,
		blob:      name,
		perms:     perms,
		// Start slightly in the past to absorb clock skew between us
		// and the service.
		start:  now.Add(-5 * time.Minute),
		expiry: expiry,
	})
	if err != nil {
		return storage.SignedURL{}, err
	}
	u := s.client.URL() + "/" + container
	u = strings.TrimRight(u, "/")
	if name != "" {
		u += "/" + name
	}
	return storage.SignedURL{
		URL:         u + "?" + query,
		Permissions: perms,
		ExpiresAt:   expiry,
	}, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists"
}

func isContainerNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == "ContainerNotFound"
}
