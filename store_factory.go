package doctrans

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/doctrans/internal/storage"
	awsstore "pkt.systems/doctrans/internal/storage/aws"
	azurestore "pkt.systems/doctrans/internal/storage/azure"
	"pkt.systems/doctrans/internal/storage/memory"
	s3store "pkt.systems/doctrans/internal/storage/s3"
)

func openBackend(ctx context.Context, cfg Config) (storage.Backend, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem", "":
		return memory.New(), nil
	case "azure":
		azureCfg, err := buildAzureConfig(cfg)
		if err != nil {
			return nil, err
		}
		return azurestore.New(azureCfg)
	case "s3":
		s3cfg, err := buildGenericS3Config(cfg)
		if err != nil {
			return nil, err
		}
		return s3store.New(s3cfg)
	case "aws":
		awsCfg, err := buildAWSConfig(cfg)
		if err != nil {
			return nil, err
		}
		return awsstore.New(ctx, awsCfg)
	default:
		return nil, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

// buildAzureConfig derives the Azure backend configuration from
// azure://account[?endpoint=...] plus config fields and environment.
func buildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return azurestore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	account := strings.TrimSpace(u.Host)
	if account == "" {
		account = strings.TrimSpace(cfg.AzureAccount)
	}
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME", "AZURE_ACCOUNT_NAME")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account or AZURE_STORAGE_ACCOUNT)")
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("DOCTRANS_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
	}, nil
}

// buildGenericS3Config parses s3://host[:port][?insecure=1&path-style=1]
// URLs targeting S3-compatible services (MinIO, etc.). Containers map to
// buckets, so the URL names only the endpoint.
func buildGenericS3Config(cfg Config) (s3store.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return s3store.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3store.Config{}, fmt.Errorf("s3 store missing host (expected s3://host[:port])")
	}
	query := u.Query()
	secure := true
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil && ok {
			secure = false
		}
	}
	if v := query.Get("tls"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			secure = ok
		}
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	cred, err := resolveGenericS3Credentials(cfg)
	if err != nil {
		return s3store.Config{}, err
	}
	return s3store.Config{
		Endpoint:       endpoint,
		Insecure:       !secure,
		ForcePathStyle: forcePath,
		CustomCreds:    cred,
	}, nil
}

// buildAWSConfig parses aws://region[?endpoint=...] URLs targeting AWS S3.
func buildAWSConfig(cfg Config) (awsstore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return awsstore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	region := strings.TrimSpace(u.Host)
	if region == "" {
		region = strings.TrimSpace(cfg.AWSRegion)
	}
	query := u.Query()
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	if region == "" {
		return awsstore.Config{}, fmt.Errorf("aws store requires region (set aws://region, --aws-region, or DOCTRANS_AWS_REGION)")
	}
	pathStyle := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			pathStyle = ok
		}
	}
	return awsstore.Config{
		Region:       region,
		Endpoint:     strings.TrimSpace(query.Get("endpoint")),
		UsePathStyle: pathStyle,
	}, nil
}

func resolveGenericS3Credentials(cfg Config) (*minioCredentials.Credentials, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("DOCTRANS_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("DOCTRANS_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("DOCTRANS_S3_SESSION_TOKEN")
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		// fall through to the default chain (env AWS_*, shared config, IAM)
		return nil, nil
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
