// Package httpapi exposes the document and translation-job REST
// surface. Handlers return errors; wrap funnels them through a single
// error writer and attaches tracing, correlation and a context logger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/doctrans/api"
	"pkt.systems/doctrans/internal/clock"
	"pkt.systems/doctrans/internal/docstore"
	"pkt.systems/doctrans/internal/jobs"
	"pkt.systems/doctrans/internal/orchestrator"
	"pkt.systems/doctrans/internal/svcfields"
	"pkt.systems/doctrans/internal/translate"
	"pkt.systems/pslog"
)

const headerCorrelationID = "X-Correlation-ID"

// Config assembles a Handler.
type Config struct {
	Store        *docstore.Store
	Registry     *jobs.Registry
	Orchestrator *orchestrator.Orchestrator
	Translator   translate.Translator
	Logger       pslog.Logger
	Clock        clock.Clock
	// TracingEnabled turns on per-request OTel spans.
	TracingEnabled bool
	// MaxUploadBytes caps multipart request bodies. Defaults to the
	// store's document size limit plus form overhead.
	MaxUploadBytes int64
}

// Handler serves the REST surface.
type Handler struct {
	store      *docstore.Store
	registry   *jobs.Registry
	orch       *orchestrator.Orchestrator
	translator translate.Translator
	logger     pslog.Logger
	clk        clock.Clock
	tracer     trace.Tracer
	tracing    bool
	maxUpload  int64
}

// handlerFunc is an endpoint that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// New constructs a Handler.
func New(cfg Config) *Handler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = docstore.DefaultMaxFileSize + (1 << 20)
	}
	return &Handler{
		store:      cfg.Store,
		registry:   cfg.Registry,
		orch:       cfg.Orchestrator,
		translator: cfg.Translator,
		logger:     cfg.Logger,
		clk:        clk,
		tracer:     otel.Tracer("pkt.systems/doctrans/httpapi"),
		tracing:    cfg.TracingEnabled,
		maxUpload:  maxUpload,
	}
}

// Register installs all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /upload", h.wrap("upload", h.handleUpload))
	mux.Handle("POST /translate", h.wrap("translate", h.handleTranslate))
	mux.Handle("GET /job/{id}", h.wrap("job.get", h.handleJobGet))
	mux.Handle("DELETE /job/{id}", h.wrap("job.cancel", h.handleJobCancel))
	mux.Handle("GET /jobs", h.wrap("jobs.list", h.handleJobs))
	mux.Handle("GET /download/{blob_name}", h.wrap("download", h.handleDownload))
	mux.Handle("GET /documents", h.wrap("documents.list", h.handleDocuments))
	mux.Handle("POST /validate", h.wrap("validate", h.handleValidate))
	mux.Handle("GET /languages", h.wrap("languages", h.handleLanguages))
	mux.Handle("GET /health", h.wrap("health", h.handleHealth))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealthz))
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	spanName := "doctrans.http." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		var span trace.Span
		if h.tracing {
			ctx, span = h.tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("doctrans.operation", operation),
					attribute.String("doctrans.route", r.URL.Path),
				),
			)
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}

		corr := strings.TrimSpace(r.Header.Get(headerCorrelationID))
		if corr == "" {
			corr = xid.New().String()
		}
		logger := svcfields.WithSubsystem(h.logger, "doctrans.http").With(
			svcfields.KeyCorrelationID, corr,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)
		w.Header().Set(headerCorrelationID, corr)

		if err := fn(w, r); err != nil {
			if h.tracing {
				span.RecordError(err)
				span.SetStatus(codes.Error, "handler_error")
			}
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(ctx, w, err)
			return
		}
		if h.tracing {
			span.SetStatus(codes.Ok, "")
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})

	if !h.tracing {
		return handler
	}
	return otelhttp.NewHandler(handler, spanName)
}

type httpError struct {
	Status     int
	Code       string
	Detail     string
	RetryAfter int64
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	var httpErr httpError
	if !errors.As(err, &httpErr) {
		httpErr = convertError(err)
	}
	headers := map[string]string{}
	if httpErr.RetryAfter > 0 {
		headers["Retry-After"] = fmt.Sprintf("%d", httpErr.RetryAfter)
	}
	if httpErr.Status >= http.StatusInternalServerError {
		if logger := pslog.LoggerFromContext(ctx); logger != nil {
			logger.Error("http.request.failed", "code", httpErr.Code, "error", err)
		}
	}
	h.writeJSON(w, httpErr.Status, api.ErrorResponse{
		ErrorCode: httpErr.Code,
		Detail:    httpErr.Detail,
	}, headers)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && h.logger != nil {
		h.logger.Debug("http.response.encode_error", "error", err)
	}
}
