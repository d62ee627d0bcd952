package doctrans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"pkt.systems/doctrans/api"
	"pkt.systems/doctrans/internal/storage/memory"
	"pkt.systems/doctrans/internal/translate"
)

type stubTranslator struct{}

func (stubTranslator) Start(context.Context, translate.BatchRequest) (translate.OperationRef, error) {
	return translate.OperationRef{ID: "stub"}, nil
}

func (stubTranslator) Status(_ context.Context, id string) (translate.OperationStatus, error) {
	return translate.OperationStatus{ID: id, State: "Succeeded", Done: true, Succeeded: true}, nil
}

func (stubTranslator) Languages(context.Context) (map[string]translate.Language, error) {
	return map[string]translate.Language{"sv": {Name: "Swedish", NativeName: "svenska", Direction: "ltr"}}, nil
}

func (stubTranslator) Ping(context.Context) error { return nil }

func TestStartServerServesAndShutsDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := Config{Listen: "127.0.0.1:0", Store: "memory://"}
	srv, stop, err := StartServer(ctx, cfg,
		WithBackend(memory.New()),
		WithTranslator(stubTranslator{}),
	)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer func() {
		if err := stop(context.Background()); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	base := fmt.Sprintf("http://%s", srv.ListenerAddr())
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != api.HealthHealthy {
		t.Fatalf("expected healthy server, got %+v", health)
	}

	// startup must have created the default containers
	tail := srv.AuditTail(0)
	if len(tail) < 2 {
		t.Fatalf("expected container creation audit entries, got %d", len(tail))
	}

	resp2, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	io.Copy(io.Discard, resp2.Body)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp2.StatusCode)
	}
}

func TestNewServerRequiresTranslator(t *testing.T) {
	_, err := NewServer(Config{Store: "memory://"}, WithBackend(memory.New()))
	if err == nil {
		t.Fatal("expected error without translator endpoint")
	}
}

func TestServerShutdownIdempotent(t *testing.T) {
	srv, err := NewServer(Config{Listen: "127.0.0.1:0", Store: "memory://"},
		WithBackend(memory.New()),
		WithTranslator(stubTranslator{}),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("serve returned %v", err)
	}
}

func TestOpenBackendSchemes(t *testing.T) {
	ctx := context.Background()
	if _, err := openBackend(ctx, Config{Store: "memory://"}); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := openBackend(ctx, Config{Store: "ftp://nope"}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := openBackend(ctx, Config{Store: "azure://"}); err == nil {
		t.Fatal("expected error for azure store without account")
	}
	if _, err := openBackend(ctx, Config{Store: "s3://"}); err == nil {
		t.Fatal("expected error for s3 store without host")
	}
	if _, err := openBackend(ctx, Config{Store: "aws://"}); err == nil {
		t.Fatal("expected error for aws store without region")
	}
}

func TestBuildGenericS3Config(t *testing.T) {
	cfg, err := buildGenericS3Config(Config{
		Store:             "s3://localhost:9000?insecure=1&path-style=1",
		S3AccessKeyID:     "minioadmin",
		S3SecretAccessKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Endpoint != "localhost:9000" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint)
	}
	if !cfg.Insecure || !cfg.ForcePathStyle {
		t.Fatalf("expected insecure path-style config, got %+v", cfg)
	}
	if cfg.CustomCreds == nil {
		t.Fatal("expected static credentials")
	}

	if _, err := buildGenericS3Config(Config{Store: "s3://host", S3AccessKeyID: "only-key"}); err == nil {
		t.Fatal("expected error for incomplete credentials")
	}
}

func TestBuildAzureConfig(t *testing.T) {
	cfg, err := buildAzureConfig(Config{
		Store:           "azure://myaccount?endpoint=http://127.0.0.1:10000/myaccount",
		AzureAccountKey: "c2VjcmV0",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Account != "myaccount" {
		t.Fatalf("unexpected account %q", cfg.Account)
	}
	if cfg.Endpoint != "http://127.0.0.1:10000/myaccount" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint)
	}
	if cfg.AccountKey != "c2VjcmV0" {
		t.Fatalf("unexpected key %q", cfg.AccountKey)
	}
}

func TestBuildAWSConfig(t *testing.T) {
	cfg, err := buildAWSConfig(Config{Store: "aws://eu-north-1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Region != "eu-north-1" {
		t.Fatalf("unexpected region %q", cfg.Region)
	}
	cfg, err = buildAWSConfig(Config{Store: "aws://?region=us-west-2&endpoint=http://127.0.0.1:4566&path-style=1"})
	if err != nil {
		t.Fatalf("build with query: %v", err)
	}
	if cfg.Region != "us-west-2" || cfg.Endpoint != "http://127.0.0.1:4566" || !cfg.UsePathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
