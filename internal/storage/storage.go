// Package storage defines the object-store contract the service runs on.
// Implementations live in the sibling azure, s3, aws and memory packages.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrContainerNotFound indicates the requested container does not exist.
	ErrContainerNotFound = errors.New("storage: container not found")
	// ErrCopyFailed indicates a server-side copy reached a terminal
	// state other than success.
	ErrCopyFailed = errors.New("storage: copy failed")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Container    string
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// Permissions is the set of capabilities a signed URL grants.
type Permissions struct {
	Read   bool
	Write  bool
	Create bool
	Add    bool
	List   bool
	Delete bool
}

// String renders the permission set in its canonical short form,
// e.g. "racwl" for a batch-target grant.
func (p Permissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.Add {
		b.WriteByte('a')
	}
	if p.Create {
		b.WriteByte('c')
	}
	if p.Write {
		b.WriteByte('w')
	}
	if p.Delete {
		b.WriteByte('d')
	}
	if p.List {
		b.WriteByte('l')
	}
	return b.String()
}

// Common permission profiles.
var (
	// PermDownload grants read on a single object.
	PermDownload = Permissions{Read: true}
	// PermUpload grants read, create and write on a single object.
	PermUpload = Permissions{Read: true, Create: true, Write: true}
	// PermBatchSource grants read and list on a container handed to the
	// translation service as input.
	PermBatchSource = Permissions{Read: true, List: true}
	// PermBatchTarget grants read, add, create, write and list on a
	// container the translation service writes results into.
	PermBatchTarget = Permissions{Read: true, Add: true, Create: true, Write: true, List: true}
)

// SignedURL is a scoped, expiring capability for an object or container.
type SignedURL struct {
	URL         string
	Permissions Permissions
	ExpiresAt   time.Time
}

// Backend is the storage substrate: container and object lifecycle plus
// capability URL issuance. All operations honour ctx cancellation.
type Backend interface {
	// EnsureContainer creates the container when missing. A concurrent
	// create by another party resolves to success.
	EnsureContainer(ctx context.Context, container string) (created bool, err error)
	// PutObject stores the object, replacing any previous version.
	PutObject(ctx context.Context, container, name string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	// StatObject returns metadata for the object or ErrNotFound.
	StatObject(ctx context.Context, container, name string) (ObjectInfo, error)
	// ListObjects returns the objects in container whose names start
	// with prefix. An empty prefix lists everything.
	ListObjects(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
	// DeleteObject removes the object or returns ErrNotFound.
	DeleteObject(ctx context.Context, container, name string) error
	// CopyObject copies an object server-side and returns the metadata
	// of the new copy. The source must exist (ErrNotFound otherwise)
	// and the destination container must exist.
	CopyObject(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (ObjectInfo, error)
	// SignObjectURL issues a capability URL scoped to one object.
	SignObjectURL(ctx context.Context, container, name string, perms Permissions, ttl time.Duration) (SignedURL, error)
	// SignContainerURL issues a capability URL scoped to a container.
	SignContainerURL(ctx context.Context, container string, perms Permissions, ttl time.Duration) (SignedURL, error)
	// Ping verifies the backend is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error
	Close() error
}
