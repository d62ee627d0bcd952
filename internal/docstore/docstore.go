// Package docstore holds the document lifecycle on top of a storage
// backend: validation, sanitized unique naming, uploads, capability
// URL issuance and retention cleanup.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"pkt.systems/doctrans/internal/audit"
	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/storage"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/pslog"
)

// Default containers for the translation pipeline.
const (
	DefaultSourceContainer = "document-source"
	DefaultTargetContainer = "document-target"
)

const (
	// DefaultMaxFileSize caps uploads at 100 MiB.
	DefaultMaxFileSize = 100 << 20
	// DefaultURLTTL is the capability URL lifetime.
	DefaultURLTTL = time.Hour
)

// Validation is the outcome of checking a document before storage.
type Validation struct {
	Valid            bool
	FormatSupported  bool
	SizeWithinLimits bool
	Errors           []string
}

// ValidationError carries a failed Validation as an error.
type ValidationError struct {
	Report Validation
}

func (e *ValidationError) Error() string {
	return "docstore: validation failed: " + strings.Join(e.Report.Errors, "; ")
}

// Config controls a Store.
type Config struct {
	SourceContainer string
	TargetContainer string
	MaxFileSize     int64
	URLTTL          time.Duration
	Clock           clock.Clock
	Logger          pslog.Logger
	Audit           *audit.Log
}

// Store implements the document lifecycle.
type Store struct {
	backend storage.Backend
	cfg     Config
	clk     clock.Clock
	logger  pslog.Logger
	audit   *audit.Log
}

// New constructs a Store over backend, applying config defaults.
func New(backend storage.Backend, cfg Config) *Store {
	if cfg.SourceContainer == "" {
		cfg.SourceContainer = DefaultSourceContainer
	}
	if cfg.TargetContainer == "" {
		cfg.TargetContainer = DefaultTargetContainer
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Store{
		backend: backend,
		cfg:     cfg,
		clk:     cfg.Clock,
		logger:  svcfields.WithSubsystem(cfg.Logger, "doctrans.docstore"),
		audit:   cfg.Audit,
	}
}

// SourceContainer returns the configured source container name.
func (s *Store) SourceContainer() string { return s.cfg.SourceContainer }

// TargetContainer returns the configured target container name.
func (s *Store) TargetContainer() string { return s.cfg.TargetContainer }

// URLTTL returns the configured capability URL lifetime.
func (s *Store) URLTTL() time.Duration { return s.cfg.URLTTL }

// EnsureContainers creates the source and target containers when
// missing, auditing actual creations.
func (s *Store) EnsureContainers(ctx context.Context) error {
	for _, c := range []string{s.cfg.SourceContainer, s.cfg.TargetContainer} {
		created, err := s.backend.EnsureContainer(ctx, c)
		if err != nil {
			return fmt.Errorf("ensure container %q: %w", c, err)
		}
		if created {
			s.record(ctx, audit.ActionContainerCreated, "container", c)
		}
	}
	return nil
}

// ValidateDocument checks the filename and size against the format
// registry and the size limit without touching storage.
func (s *Store) ValidateDocument(filename string, size int64) Validation {
	v := Validation{
		FormatSupported:  FormatSupported(filename),
		SizeWithinLimits: size >= 0 && size <= s.cfg.MaxFileSize,
	}
	if !v.FormatSupported {
		v.Errors = append(v.Errors, fmt.Sprintf("unsupported format %q, accepted: %s",
			filepath.Ext(filename), strings.Join(SupportedFormats(), " ")))
	}
	if !v.SizeWithinLimits {
		v.Errors = append(v.Errors, fmt.Sprintf("size %d exceeds limit %d", size, s.cfg.MaxFileSize))
	}
	if strings.TrimSpace(filename) == "" {
		v.Errors = append(v.Errors, "filename is empty")
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// Upload validates the document and stores it in container under a
// sanitized unique name. An empty container selects the source
// container.
func (s *Store) Upload(ctx context.Context, container, filename string, r io.Reader, size int64) (storage.ObjectInfo, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	if v := s.ValidateDocument(filename, size); !v.Valid {
		return storage.ObjectInfo{}, &ValidationError{Report: v}
	}
	name := s.uniqueName(filename)
	info, err := s.backend.PutObject(ctx, container, name, io.LimitReader(r, s.cfg.MaxFileSize+1), size, ContentTypeFor(filename))
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("docstore: upload: %w", err)
	}
	s.record(ctx, audit.ActionDocumentUploaded,
		"container", container, "blob", name, "size", size, "original_filename", filename)
	if s.logger != nil {
		s.logger.Info("docstore.uploaded", "container", container, "blob", name, "size", size)
	}
	return info, nil
}

// DownloadURL verifies the blob exists and issues a read-only
// capability URL for it, returning the blob metadata alongside.
func (s *Store) DownloadURL(ctx context.Context, container, name string) (storage.SignedURL, storage.ObjectInfo, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	info, err := s.backend.StatObject(ctx, container, name)
	if err != nil {
		return storage.SignedURL{}, storage.ObjectInfo{}, err
	}
	s.record(ctx, audit.ActionDownloadRequested, "container", container, "blob", name)
	signed, err := s.signObject(ctx, "download", container, name, storage.PermDownload)
	if err != nil {
		return storage.SignedURL{}, storage.ObjectInfo{}, fmt.Errorf("docstore: sign download url: %w", err)
	}
	s.record(ctx, audit.ActionDownloadURLGenerated,
		"container", container, "blob", name, "expires_at", signed.ExpiresAt)
	return signed, info, nil
}

// UploadURL issues a capability URL the caller can use to replace the
// uploaded blob directly, e.g. to re-upload a corrected revision.
func (s *Store) UploadURL(ctx context.Context, container, name string) (storage.SignedURL, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	signed, err := s.signObject(ctx, "upload", container, name, storage.PermUpload)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("docstore: sign upload url: %w", err)
	}
	return signed, nil
}

// TranslationPair issues the per-blob capability URLs one translation
// needs: read on the source blob and write on the target blob the
// results land in. Scoping to single blobs keeps the grant no wider
// than the job.
func (s *Store) TranslationPair(ctx context.Context, sourceBlob, targetBlob string) (source, target storage.SignedURL, err error) {
	source, err = s.signObject(ctx, "translation-source", s.cfg.SourceContainer, sourceBlob, storage.PermDownload)
	if err != nil {
		return storage.SignedURL{}, storage.SignedURL{}, fmt.Errorf("docstore: sign source blob: %w", err)
	}
	target, err = s.signObject(ctx, "translation-target", s.cfg.TargetContainer, targetBlob, storage.PermUpload)
	if err != nil {
		return storage.SignedURL{}, storage.SignedURL{}, fmt.Errorf("docstore: sign target blob: %w", err)
	}
	return source, target, nil
}

// Ping probes the underlying backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Stat returns metadata for one stored document.
func (s *Store) Stat(ctx context.Context, container, name string) (storage.ObjectInfo, error) {
	return s.backend.StatObject(ctx, container, name)
}

// List returns the documents in container.
func (s *Store) List(ctx context.Context, container string) ([]storage.ObjectInfo, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	return s.backend.ListObjects(ctx, container, "")
}

// Copy duplicates a document server-side and audits the copy. Empty
// containers select the source container. It reports false without an
// error when the copy reached a terminal state other than success.
func (s *Store) Copy(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (bool, error) {
	if srcContainer == "" {
		srcContainer = s.cfg.SourceContainer
	}
	if dstContainer == "" {
		dstContainer = srcContainer
	}
	if _, err := s.backend.CopyObject(ctx, srcContainer, srcName, dstContainer, dstName); err != nil {
		if errors.Is(err, storage.ErrCopyFailed) {
			if s.logger != nil {
				s.logger.Warn("docstore.copy_failed",
					"source_container", srcContainer, "source_blob", srcName,
					"target_container", dstContainer, "target_blob", dstName, "error", err)
			}
			return false, nil
		}
		return false, err
	}
	s.record(ctx, audit.ActionBlobCopied,
		"source_container", srcContainer, "source_blob", srcName,
		"target_container", dstContainer, "target_blob", dstName)
	return true, nil
}

// Delete removes a document and audits the deletion. Deleting a blob
// that is already gone is not an error; it reports whether anything
// was removed.
func (s *Store) Delete(ctx context.Context, container, name string) (bool, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	if err := s.backend.DeleteObject(ctx, container, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.record(ctx, audit.ActionBlobDeleted, "container", container, "blob", name)
	return true, nil
}

// Cleanup deletes documents last modified before the retention window
// and returns how many were removed. Individual delete failures are
// logged and skipped so one stuck blob does not block retention.
func (s *Store) Cleanup(ctx context.Context, container string, olderThan time.Duration) (int, error) {
	if container == "" {
		container = s.cfg.SourceContainer
	}
	cutoff := s.clk.Now().UTC().Add(-olderThan)
	infos, err := s.backend.ListObjects(ctx, container, "")
	if err != nil {
		return 0, fmt.Errorf("docstore: cleanup list: %w", err)
	}
	removed := 0
	for _, info := range infos {
		if info.LastModified.IsZero() || !info.LastModified.Before(cutoff) {
			continue
		}
		if err := s.backend.DeleteObject(ctx, container, info.Name); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if s.logger != nil {
				s.logger.Warn("docstore.cleanup.delete_failed", "container", container, "blob", info.Name, "error", err)
			}
			continue
		}
		s.record(ctx, audit.ActionBlobDeleted, "container", container, "blob", info.Name, "reason", "retention")
		removed++
	}
	return removed, nil
}

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename replaces path and shell hostile characters with
// underscores. An empty result becomes "document".
func SanitizeFilename(filename string) string {
	clean := unsafeChars.ReplaceAllString(filename, "_")
	clean = strings.TrimSpace(clean)
	if clean == "" || strings.Trim(clean, "_.") == "" {
		return "document"
	}
	return clean
}

// uniqueName builds <timestamp>_<8 hex>_<sanitized base><ext>.
func (s *Store) uniqueName(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	stamp := s.clk.Now().UTC().Format("20060102_150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s%s", stamp, suffix, SanitizeFilename(base), strings.ToLower(ext))
}

// signObject signs a blob-scoped capability URL and records the
// issuance: scope, location, permissions and expiry — never the URL
// itself. Backends that expose a signing strategy get an extra
// lower-trust entry and warning when issuance ran on the shared
// account key instead of a delegated identity.
func (s *Store) signObject(ctx context.Context, scope, container, name string, perms storage.Permissions) (storage.SignedURL, error) {
	signed, err := s.backend.SignObjectURL(ctx, container, name, perms, s.cfg.URLTTL)
	if err != nil {
		return storage.SignedURL{}, err
	}
	s.record(ctx, audit.ActionURLIssued,
		"scope", scope, "container", container, "blob", name,
		"permissions", signed.Permissions.String(), "expires_at", signed.ExpiresAt)
	if strategist, ok := s.backend.(interface{ SigningStrategy() string }); ok {
		if strategy := strategist.SigningStrategy(); strategy == "shared-key" {
			s.record(ctx, audit.ActionSharedKeySigning,
				"scope", scope, "container", container, "blob", name)
			if s.logger != nil {
				s.logger.Warn("docstore.shared_key_signing",
					"scope", scope, "container", container, "blob", name)
			}
		}
	}
	return signed, nil
}

func (s *Store) record(ctx context.Context, action audit.Action, details ...any) {
	if s.audit != nil {
		s.audit.Record(ctx, action, details...)
	}
}
