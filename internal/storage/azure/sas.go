package azure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"pkt.systems/doctrans/internal/storage"
)

type sasRequest struct {
	container string
	blob      string // empty for container scope
	perms     storage.Permissions
	start     time.Time
	expiry    time.Time
}

// sasSigner produces the query string for a shared access signature.
// Implementations differ only in how the signature is computed.
type sasSigner interface {
	Name() string
	Sign(ctx context.Context, req sasRequest) (string, error)
}

func signatureValues(req sasRequest) sas.BlobSignatureValues {
	return sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     req.start,
		ExpiryTime:    req.expiry,
		Permissions:   req.perms.String(),
		ContainerName: req.container,
		BlobName:      req.blob,
	}
}

// sharedKeySigner signs with the storage account key. No round trip is
// needed; the signature is computed locally.
type sharedKeySigner struct {
	cred *azblob.SharedKeyCredential
}

func (s *sharedKeySigner) Name() string { return "shared-key" }

func (s *sharedKeySigner) Sign(_ context.Context, req sasRequest) (string, error) {
	qp, err := signatureValues(req).SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("azure: sign sas (shared key): %w", err)
	}
	return qp.Encode(), nil
}

// delegationSigner signs with a user delegation key obtained through
// the service's Entra identity. A key lives no longer than the SAS it
// signs plus a small skew allowance; it is cached and reused while it
// still covers the requested expiry.
type delegationSigner struct {
	svc *service.Client

	mu        sync.Mutex
	key       *service.UserDelegationCredential
	keyExpiry time.Time
}

// delegationKeySkew extends the key past the SAS expiry so a token
// issued at the key's edge stays verifiable despite clock drift.
const delegationKeySkew = 5 * time.Minute

func (s *delegationSigner) Name() string { return "user-delegation" }

func (s *delegationSigner) Sign(ctx context.Context, req sasRequest) (string, error) {
	udc, err := s.credential(ctx, req.expiry)
	if err != nil {
		return "", err
	}
	qp, err := signatureValues(req).SignWithUserDelegation(udc)
	if err != nil {
		return "", fmt.Errorf("azure: sign sas (user delegation): %w", err)
	}
	return qp.Encode(), nil
}

func (s *delegationSigner) credential(ctx context.Context, needUntil time.Time) (*service.UserDelegationCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if s.key != nil && !needUntil.After(s.keyExpiry.Add(-delegationKeySkew)) && s.keyExpiry.After(now) {
		return s.key, nil
	}
	start := now.Add(-5 * time.Minute)
	expiry := needUntil.Add(delegationKeySkew)
	info := service.KeyInfo{
		Start:  to.Ptr(start.UTC().Format(sas.TimeFormat)),
		Expiry: to.Ptr(expiry.UTC().Format(sas.TimeFormat)),
	}
	key, err := s.svc.GetUserDelegationCredential(ctx, info, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: get user delegation key: %w", err)
	}
	s.key = key
	s.keyExpiry = expiry
	return key, nil
}
