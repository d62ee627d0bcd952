package s3

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/doctrans/internal/storage"
)

func setupFakeS3(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	endpoint := strings.TrimPrefix(server.URL, "http://")
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Insecure:       true,
		ForcePathStyle: true,
	}
	return server, cfg
}

func TestS3ObjectLifecycle(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	created, err := store.EnsureContainer(ctx, "document-source")
	if err != nil {
		t.Fatalf("ensure container: %v", err)
	}
	if !created {
		t.Fatalf("expected container to be created")
	}
	created, err = store.EnsureContainer(ctx, "document-source")
	if err != nil {
		t.Fatalf("ensure container again: %v", err)
	}
	if created {
		t.Fatalf("expected second ensure to be a no-op")
	}

	payload := []byte("%PDF-1.7 fake invoice")
	info, err := store.PutObject(ctx, "document-source", "20240101_010203_deadbeef_invoice.pdf", bytes.NewReader(payload), int64(len(payload)), "application/pdf")
	if err != nil {
		t.Fatalf("put object: %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), info.Size)
	}

	got, err := store.StatObject(ctx, "document-source", "20240101_010203_deadbeef_invoice.pdf")
	if err != nil {
		t.Fatalf("stat object: %v", err)
	}
	if got.Size != int64(len(payload)) {
		t.Fatalf("stat size mismatch: %d", got.Size)
	}

	infos, err := store.ListObjects(ctx, "document-source", "20240101_")
	if err != nil {
		t.Fatalf("list objects: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 object, got %d", len(infos))
	}

	if _, err := store.EnsureContainer(ctx, "document-target"); err != nil {
		t.Fatalf("ensure target container: %v", err)
	}
	copied, err := store.CopyObject(ctx, "document-source", "20240101_010203_deadbeef_invoice.pdf", "document-target", "copy_invoice.pdf")
	if err != nil {
		t.Fatalf("copy object: %v", err)
	}
	if copied.Size != int64(len(payload)) {
		t.Fatalf("copy size mismatch: %d", copied.Size)
	}
	if _, err := store.CopyObject(ctx, "document-source", "missing.pdf", "document-target", "x.pdf"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found copying missing source, got %v", err)
	}

	if err := store.DeleteObject(ctx, "document-source", "20240101_010203_deadbeef_invoice.pdf"); err != nil {
		t.Fatalf("delete object: %v", err)
	}
	if err := store.DeleteObject(ctx, "document-source", "20240101_010203_deadbeef_invoice.pdf"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := store.StatObject(ctx, "document-source", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestS3Presign(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.EnsureContainer(ctx, "document-target"); err != nil {
		t.Fatalf("ensure container: %v", err)
	}

	signed, err := store.SignObjectURL(ctx, "document-target", "translated_report.docx", storage.PermDownload, time.Hour)
	if err != nil {
		t.Fatalf("sign object url: %v", err)
	}
	if !strings.Contains(signed.URL, "X-Amz-Signature=") {
		t.Fatalf("expected presigned query in %q", signed.URL)
	}
	if remaining := time.Until(signed.ExpiresAt); remaining < 55*time.Minute || remaining > time.Hour {
		t.Fatalf("unexpected expiry window: %v", remaining)
	}

	container, err := store.SignContainerURL(ctx, "document-target", storage.PermBatchTarget, 30*time.Minute)
	if err != nil {
		t.Fatalf("sign container url: %v", err)
	}
	if !strings.Contains(container.URL, "X-Amz-Signature=") {
		t.Fatalf("expected presigned query in %q", container.URL)
	}
	if container.Permissions != storage.PermBatchTarget {
		t.Fatalf("permissions not carried through")
	}
}
