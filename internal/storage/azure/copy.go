package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"pkt.systems/doctrans/internal/storage"
)

// copyPollInterval paces the copy status polls after StartCopyFromURL.
const copyPollInterval = time.Second

// CopyObject performs a server-side copy and waits for the copy to
// reach a terminal status. The source is addressed through a short
// read SAS so the copy works under both signing strategies.
func (s *Store) CopyObject(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (storage.ObjectInfo, error) {
	if _, err := s.StatObject(ctx, srcContainer, srcName); err != nil {
		return storage.ObjectInfo{}, err
	}
	src, err := s.sign(ctx, srcContainer, srcName, storage.PermDownload, 15*time.Minute)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	dst := s.client.ServiceClient().NewContainerClient(dstContainer).NewBlobClient(dstName)
	resp, err := dst.StartCopyFromURL(ctx, src.URL, nil)
	if err != nil {
		if isContainerNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrContainerNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("azure: start copy: %w", err)
	}
	status := blob.CopyStatusTypePending
	if resp.CopyStatus != nil {
		status = *resp.CopyStatus
	}
	for status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			return storage.ObjectInfo{}, ctx.Err()
		case <-s.clk.After(copyPollInterval):
		}
		props, err := dst.GetProperties(ctx, nil)
		if err != nil {
			return storage.ObjectInfo{}, fmt.Errorf("azure: copy status: %w", err)
		}
		if props.CopyStatus != nil {
			status = *props.CopyStatus
		}
	}
	if status != blob.CopyStatusTypeSuccess {
		return storage.ObjectInfo{}, fmt.Errorf("%w: status %s", storage.ErrCopyFailed, status)
	}
	return s.StatObject(ctx, dstContainer, dstName)
}
