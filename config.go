package doctrans

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8472"
	// DefaultListenProto controls the listener network when none is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultStore points the server at the in-memory backend when no store is provided.
	DefaultStore = "memory://"
	// DefaultMaxFileSize bounds uploaded document size.
	DefaultMaxFileSize = int64(100 << 20)
	// DefaultURLTTL is the lifetime of issued capability URLs.
	DefaultURLTTL = time.Hour
	// DefaultWorkers sizes the translation worker pool.
	DefaultWorkers = 4
	// DefaultQueueDepth bounds the translation admission queue.
	DefaultQueueDepth = 32
	// DefaultJobTimeout is the wall-clock deadline granted to each translation job.
	DefaultJobTimeout = 30 * time.Minute
	// DefaultPollInterval controls how often running jobs poll the translation service.
	DefaultPollInterval = 5 * time.Second
	// DefaultLanguagesTTL caches the supported-language catalogue for this long.
	DefaultLanguagesTTL = 6 * time.Hour
	// DefaultRetention keeps stored documents indefinitely (0 disables the sweeper).
	DefaultRetention = time.Duration(0)
	// DefaultSweeperInterval sets the cadence of retention sweeps when retention is set.
	DefaultSweeperInterval = time.Hour
	// DefaultShutdownTimeout caps graceful shutdown duration.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the tunables for a doctrans.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":8472").
	Listen string
	// ListenProto selects listener type (for example "tcp").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics enables runtime profiling metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// Store is the backend DSN (memory://, azure://account, s3://host[:port], aws://region).
	Store string
	// SourceContainer overrides the container uploads land in.
	SourceContainer string
	// TargetContainer overrides the container translated documents land in.
	TargetContainer string
	// MaxFileSize caps uploaded document size in bytes.
	MaxFileSize int64
	// URLTTL is the lifetime of issued capability URLs.
	URLTTL time.Duration
	// Workers sizes the translation worker pool.
	Workers int
	// QueueDepth bounds the translation admission queue.
	QueueDepth int
	// JobTimeout is the wall-clock deadline granted to each translation job.
	JobTimeout time.Duration
	// PollInterval controls how often running jobs poll the translation service.
	PollInterval time.Duration

	// TranslatorEndpoint is the document translation service base URL.
	TranslatorEndpoint string
	// TranslatorTextEndpoint overrides the text endpoint used for the
	// language catalogue; defaults to the global text translation endpoint.
	TranslatorTextEndpoint string
	// TranslatorAPIKey authenticates against the translation service.
	TranslatorAPIKey string
	// TranslatorRegion is sent alongside the key for regional resources.
	TranslatorRegion string
	// LanguagesTTL caches the supported-language catalogue for this long.
	LanguagesTTL time.Duration

	// Retention deletes stored documents older than this; 0 keeps them forever.
	Retention time.Duration
	// SweeperInterval sets retention sweep cadence when Retention is set.
	SweeperInterval time.Duration
	// ShutdownTimeout caps total graceful shutdown duration.
	ShutdownTimeout time.Duration

	// OTLPEndpoint enables OTLP trace export to the given collector endpoint.
	OTLPEndpoint string
	// DisableHTTPTracing disables OpenTelemetry spans for HTTP handlers.
	DisableHTTPTracing bool

	// AzureAccount is the Azure storage account name for azure:// stores.
	AzureAccount string
	// AzureAccountKey is the shared-key credential for Azure Blob; empty
	// selects the ambient Entra identity and user-delegation SAS signing.
	AzureAccountKey string
	// AzureEndpoint overrides the Azure Blob endpoint URL.
	AzureEndpoint string

	// AWSRegion sets the region for aws:// stores.
	AWSRegion string
	// S3AccessKeyID sets a static S3 access key credential.
	S3AccessKeyID string
	// S3SecretAccessKey sets a static S3 secret credential.
	S3SecretAccessKey string
	// S3SessionToken sets an optional session token for temporary S3 credentials.
	S3SessionToken string
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("config: max file size must be >= 0")
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.URLTTL < 0 {
		return fmt.Errorf("config: url ttl must be >= 0")
	}
	if c.URLTTL == 0 {
		c.URLTTL = DefaultURLTTL
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("config: queue depth must be >= 0")
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LanguagesTTL <= 0 {
		c.LanguagesTTL = DefaultLanguagesTTL
	}
	if c.Retention < 0 {
		return fmt.Errorf("config: retention must be >= 0")
	}
	if c.SweeperInterval <= 0 {
		c.SweeperInterval = DefaultSweeperInterval
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
