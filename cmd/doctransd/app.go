package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/doctrans"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("DOCTRANS_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "doctransd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg doctrans.Config

	cmd := &cobra.Command{
		Use:           "doctransd",
		Short:         "doctransd serves secure document transfer and asynchronous batch translation over capability URLs",
		SilenceErrors: true,
		Example: `
  # Azure Blob backend with a shared account key
  DOCTRANS_STORE=azure://myaccount DOCTRANS_AZURE_ACCOUNT_KEY=... \
  DOCTRANS_TRANSLATOR_ENDPOINT=https://mytranslator.cognitiveservices.azure.com \
  DOCTRANS_TRANSLATOR_API_KEY=... doctransd

  # MinIO backend (TLS on by default; append ?insecure=1 for HTTP)
  DOCTRANS_STORE=s3://localhost:9000?insecure=1 DOCTRANS_S3_ACCESS_KEY_ID=minioadmin \
  DOCTRANS_S3_SECRET_ACCESS_KEY=minioadmin doctransd --translator-endpoint https://...

  # AWS S3 backend (expects AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY)
  doctransd --store aws://eu-north-1 --translator-endpoint https://...

  # In-memory storage (tests/dev only)
  doctransd --store memory:// --translator-endpoint https://...
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"starting doctransd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := doctrans.NewServer(cfg, doctrans.WithLogger(logger))
			if err != nil {
				return err
			}

			shutdownTimeout := cfg.ShutdownTimeout
			if shutdownTimeout <= 0 {
				shutdownTimeout = doctrans.DefaultShutdownTimeout
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file")

	flags := cmd.Flags()
	flags.String("listen", doctrans.DefaultListen, "listen address")
	flags.String("listen-proto", doctrans.DefaultListenProto, "listen network (tcp, tcp4, tcp6)")
	flags.String("metrics-listen", doctrans.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", doctrans.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	flags.String("store", doctrans.DefaultStore, "storage backend URL (memory://, azure://account, s3://host[:port], aws://region)")
	flags.String("source-container", "", "container uploaded documents land in (default document-source)")
	flags.String("target-container", "", "container translated documents land in (default document-target)")
	flags.String("max-file-size", humanizeBytes(doctrans.DefaultMaxFileSize), "maximum uploaded document size")
	flags.Duration("url-ttl", doctrans.DefaultURLTTL, "lifetime of issued download/upload URLs")
	flags.Int("workers", doctrans.DefaultWorkers, "translation worker pool size")
	flags.Int("queue-depth", doctrans.DefaultQueueDepth, "translation admission queue depth")
	flags.Duration("job-timeout", doctrans.DefaultJobTimeout, "wall-clock deadline per translation job")
	flags.Duration("poll-interval", doctrans.DefaultPollInterval, "poll cadence for running translation operations")
	flags.String("translator-endpoint", "", "document translation service base URL")
	flags.String("translator-text-endpoint", "", "text translation endpoint used for the language catalogue (optional)")
	flags.String("translator-api-key", "", "translation service API key (or DOCTRANS_TRANSLATOR_API_KEY)")
	flags.String("translator-region", "", "translation resource region sent with the API key")
	flags.Duration("languages-ttl", doctrans.DefaultLanguagesTTL, "cache lifetime for the supported-language catalogue")
	flags.Duration("retention", doctrans.DefaultRetention, "delete stored documents older than this (0 keeps them forever)")
	flags.Duration("sweeper-interval", doctrans.DefaultSweeperInterval, "retention sweep cadence (only used when retention is set)")
	flags.Duration("shutdown-timeout", doctrans.DefaultShutdownTimeout, "overall graceful shutdown timeout")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for trace export (empty disables tracing)")
	flags.Bool("disable-http-tracing", false, "disable OpenTelemetry spans for HTTP handlers")
	flags.String("azure-account", "", "Azure Storage account name (overrides azure:// host)")
	flags.String("azure-key", "", "Azure Storage account key (or use DOCTRANS_AZURE_ACCOUNT_KEY)")
	flags.String("azure-endpoint", "", "Azure Blob service endpoint (defaults to https://<account>.blob.core.windows.net)")
	flags.String("aws-region", "", "AWS region for aws:// backends")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("DOCTRANS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)
	_ = viper.BindPFlags(persistentFlags)

	return cmd
}

func bindConfig(cfg *doctrans.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.Store = viper.GetString("store")
	cfg.SourceContainer = viper.GetString("source-container")
	cfg.TargetContainer = viper.GetString("target-container")
	if maxSize := viper.GetString("max-file-size"); maxSize != "" {
		size, err := humanize.ParseBytes(maxSize)
		if err != nil {
			return fmt.Errorf("parse max-file-size: %w", err)
		}
		cfg.MaxFileSize = int64(size)
	}
	cfg.URLTTL = viper.GetDuration("url-ttl")
	cfg.Workers = viper.GetInt("workers")
	cfg.QueueDepth = viper.GetInt("queue-depth")
	cfg.JobTimeout = viper.GetDuration("job-timeout")
	cfg.PollInterval = viper.GetDuration("poll-interval")
	cfg.TranslatorEndpoint = viper.GetString("translator-endpoint")
	cfg.TranslatorTextEndpoint = viper.GetString("translator-text-endpoint")
	cfg.TranslatorAPIKey = viper.GetString("translator-api-key")
	cfg.TranslatorRegion = viper.GetString("translator-region")
	cfg.LanguagesTTL = viper.GetDuration("languages-ttl")
	cfg.Retention = viper.GetDuration("retention")
	cfg.SweeperInterval = viper.GetDuration("sweeper-interval")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.DisableHTTPTracing = viper.GetBool("disable-http-tracing")
	cfg.AzureAccount = viper.GetString("azure-account")
	cfg.AzureAccountKey = viper.GetString("azure-key")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AWSRegion = viper.GetString("aws-region")
	return nil
}
