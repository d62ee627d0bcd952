package doctrans

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/doctrans/internal/audit"
	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/docstore"
	"pkt.systems/doctrans/internal/httpapi"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/orchestrator"
	"pkt.systems/doctrans/internal/storage"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/doctrans/internal/translate"
	"pkt.systems/pslog"
)

// Server wraps the HTTP server, storage backend, translation
// orchestrator, and supporting components.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	backend      storage.Backend
	store        *docstore.Store
	registry     *jobs.Registry
	orchestra    *orchestrator.Orchestrator
	translator   translate.Translator
	auditLog     *audit.Log
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	clock        clock.Clock
	telemetry    *telemetryBundle
	ownedBackend bool
	lastServeErr error

	mu          sync.Mutex
	shutdown    bool
	sweeperStop chan struct{}
	sweeperDone sync.WaitGroup
	readyOnce   sync.Once
	readyCh     chan struct{}
}

// Option adjusts how NewServer assembles a Server.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Backend      storage.Backend
	Translator   translate.Translator
	Clock        clock.Clock
	Audit        *audit.Log
	OTLPEndpoint string
}

// WithLogger sets the logger the server and its subsystems log through.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithBackend injects a pre-built storage backend (useful for tests).
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.Backend = b
	}
}

// WithTranslator injects a translation service client.
func WithTranslator(t translate.Translator) Option {
	return func(o *options) {
		o.Translator = t
	}
}

// WithClock substitutes the clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithAudit injects a pre-built audit log.
func WithAudit(a *audit.Log) Option {
	return func(o *options) {
		o.Audit = a
	}
}

// WithOTLPEndpoint points tracing at an OTLP collector, overriding the config.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a doctrans server according to cfg.
// Example:
//
//	cfg := doctrans.Config{
//	    Store:              "azure://myaccount",
//	    TranslatorEndpoint: "https://mytranslator.cognitiveservices.azure.com",
//	    TranslatorAPIKey:   os.Getenv("TRANSLATOR_KEY"),
//	}
//	srv, err := doctrans.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	var telemetry *telemetryBundle
	var err error
	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	if otlpEndpoint != "" || cfg.MetricsListen != "" || cfg.PprofListen != "" {
		telemetry, err = setupTelemetry(context.Background(), otlpEndpoint, cfg.MetricsListen, cfg.PprofListen, cfg.EnableProfilingMetrics, svcfields.WithSubsystem(logger, "telemetry"))
		if err != nil {
			return nil, err
		}
	}
	teardown := func() {
		if telemetry != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = telemetry.Shutdown(shutdownCtx)
			cancel()
		}
	}
	backend := o.Backend
	ownedBackend := false
	if backend == nil {
		backend, err = openBackend(context.Background(), cfg)
		if err != nil {
			teardown()
			return nil, err
		}
		ownedBackend = true
	}
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}
	auditLog := o.Audit
	if auditLog == nil {
		auditLog = audit.New(logger)
	}
	store := docstore.New(backend, docstore.Config{
		SourceContainer: cfg.SourceContainer,
		TargetContainer: cfg.TargetContainer,
		MaxFileSize:     cfg.MaxFileSize,
		URLTTL:          cfg.URLTTL,
		Clock:           serverClock,
		Logger:          logger,
		Audit:           auditLog,
	})
	translator := o.Translator
	if translator == nil {
		if cfg.TranslatorEndpoint == "" {
			if ownedBackend {
				_ = backend.Close()
			}
			teardown()
			return nil, fmt.Errorf("config: translator endpoint is required")
		}
		client, err := translate.NewClient(translate.Config{
			Endpoint:     cfg.TranslatorEndpoint,
			TextEndpoint: cfg.TranslatorTextEndpoint,
			APIKey:       cfg.TranslatorAPIKey,
			Region:       cfg.TranslatorRegion,
			LanguagesTTL: cfg.LanguagesTTL,
			Logger:       logger,
		})
		if err != nil {
			if ownedBackend {
				_ = backend.Close()
			}
			teardown()
			return nil, err
		}
		translator = client
	}
	registry := jobs.NewRegistry(serverClock)
	orchestra := orchestrator.New(store, translator, registry, orchestrator.Config{
		Workers:      cfg.Workers,
		QueueDepth:   cfg.QueueDepth,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		Clock:        serverClock,
		Logger:       logger,
		Audit:        auditLog,
	})
	handler := httpapi.New(httpapi.Config{
		Store:          store,
		Registry:       registry,
		Orchestrator:   orchestra,
		Translator:     translator,
		Logger:         logger,
		Clock:          serverClock,
		TracingEnabled: otlpEndpoint != "" && !cfg.DisableHTTPTracing,
	})
	mux := http.NewServeMux()
	handler.Register(mux)
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	return &Server{
		cfg:          cfg,
		logger:       svcfields.WithSubsystem(logger, "server"),
		backend:      backend,
		store:        store,
		registry:     registry,
		orchestra:    orchestra,
		translator:   translator,
		auditLog:     auditLog,
		handler:      handler,
		httpSrv:      httpSrv,
		clock:        serverClock,
		telemetry:    telemetry,
		ownedBackend: ownedBackend,
		readyCh:      make(chan struct{}),
	}, nil
}

// Handler returns the underlying HTTP handler so doctrans can be mounted
// inside an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Store exposes the document store for embedding programs.
func (s *Server) Store() *docstore.Store {
	return s.store
}

// AuditTail returns the most recent audit entries, oldest first.
func (s *Server) AuditTail(n int) []audit.Entry {
	return s.auditLog.Tail(n)
}

// Start begins serving requests and blocks until the server stops. The
// default containers are created on first start when missing.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := s.store.EnsureContainers(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure containers: %w", err)
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.listener = ln
	s.signalReady()
	s.logger.Info("listening",
		"network", s.cfg.ListenProto,
		"address", ln.Addr().String(),
		"store", s.cfg.Store,
		"workers", s.cfg.Workers,
		"queue_depth", s.cfg.QueueDepth,
	)
	s.startSweeper()
	defer s.stopSweeper()
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown stops the HTTP listener, drains the orchestrator and closes the
// translator and backend. Safe to call more than once; nil on a clean stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	s.stopSweeper()
	s.orchestra.Close()
	if closer, ok := s.translator.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if s.ownedBackend {
		if err := s.backend.Close(); err != nil {
			return err
		}
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close is Shutdown with a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until Start has bound the listener, or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr reports the bound address, nil before Start.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) startSweeper() {
	if s.cfg.Retention <= 0 || s.cfg.SweeperInterval <= 0 {
		return
	}
	s.mu.Lock()
	if s.sweeperStop != nil {
		s.mu.Unlock()
		return
	}
	s.sweeperStop = make(chan struct{})
	s.sweeperDone.Add(1)
	stopCh := s.sweeperStop
	interval := s.cfg.SweeperInterval
	sweeperCtx := context.Background()
	s.mu.Unlock()
	go func() {
		defer s.sweeperDone.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-s.clock.After(interval):
				if err := s.sweepRetention(sweeperCtx); err != nil {
					s.logger.Warn("retention sweep failed", "error", err)
				}
			}
		}
	}()
}

func (s *Server) stopSweeper() {
	s.mu.Lock()
	stopCh := s.sweeperStop
	if stopCh != nil {
		close(stopCh)
		s.sweeperStop = nil
	}
	s.mu.Unlock()
	if stopCh != nil {
		s.sweeperDone.Wait()
	}
}

func (s *Server) sweepRetention(ctx context.Context) error {
	var errs []error
	for _, container := range []string{s.store.SourceContainer(), s.store.TargetContainer()} {
		removed, err := s.store.Cleanup(ctx, container, s.cfg.Retention)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", container, err))
			continue
		}
		if removed > 0 {
			s.logger.Info("retention sweep removed documents", "container", container, "removed", removed)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server. It is primarily useful for diagnostics; Shutdown already
// reports any fatal serve/shutdown errors to callers.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a doctrans server in a background goroutine and waits
// until it is ready to accept connections. It returns the running server
// alongside a stop function that gracefully shuts it down.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
