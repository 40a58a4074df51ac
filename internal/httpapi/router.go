// Package httpapi exposes the submission service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/vk/dapgrid/internal/assembler"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/metrics"
	"github.com/vk/dapgrid/internal/modspace"
	"github.com/vk/dapgrid/internal/service"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// DefaultMaxBodyBytes caps submission bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Detail lines for envelopes produced by the HTTP layer itself.
const (
	DetailTooLarge        = "Request body is too large"
	DetailUnreadable      = "Request body could not be read"
	DetailTooManyRequests = "Too many requests"
	DetailInternal        = "An unexpected error occurred"
)

// Submitter runs one submission.
type Submitter interface {
	Submit(ctx context.Context, body []byte, contentType string) service.Envelope
}

// Pipeline describes the loaded assembly pipeline.
type Pipeline interface {
	Pipeline() modspace.Pipeline
	Roles() []assembler.Role
}

// Contract lists the request operations the service validates against.
type Contract interface {
	Operations() []string
}

// Config wires the router. Namespace, Pipeline and Contract are optional;
// without a namespace the models endpoint answers 404.
type Config struct {
	Service        Submitter
	Namespace      *modspace.Namespace
	Pipeline       Pipeline
	Contract       Contract
	Metrics        *metrics.Metrics
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

type server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *clientLimiter
}

// NewRouter builds the HTTP handler. The logger in ctx is attached to every
// request.
func NewRouter(ctx context.Context, cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &server{
		cfg:     cfg,
		logger:  ctxlog.FromContext(ctx).With("component", "httpapi"),
		limiter: newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestContext)
	r.Use(s.recoverer)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	r.Route("/api", func(api chi.Router) {
		api.With(s.rateLimit).Post("/request", s.submit)
		api.Get("/models", s.models)
	})
	return r
}

// requestContext assigns the request id and attaches a request-scoped logger.
func (s *server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := ctxlog.WithLogger(r.Context(), s.logger)
		ctx = service.WithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer turns a handler panic into a processing envelope.
func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("Handler panicked.", "path", r.URL.Path, "panic", fmt.Sprint(rec))
			writeEnvelope(w, errorEnvelope(r.Context(), http.StatusInternalServerError, service.CodeProcessing, service.MessageProcessing, DetailInternal))
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r), time.Now()) {
			s.cfg.Metrics.RateLimited()
			s.logger.Warn("Request rate limited.", "client", clientKey(r))
			w.Header().Set("Retry-After", "1")
			writeEnvelope(w, errorEnvelope(r.Context(), http.StatusTooManyRequests, service.CodeProcessing, service.MessageProcessing, DetailTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		detail := DetailUnreadable
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail = DetailTooLarge
		}
		ctxlog.FromContext(r.Context()).Warn("Failed to read request body.", "error", err)
		writeEnvelope(w, errorEnvelope(r.Context(), http.StatusBadRequest, service.CodeValidation, service.MessageValidation, detail))
		return
	}

	env := s.cfg.Service.Submit(r.Context(), body, r.Header.Get("Content-Type"))
	if err := env.Err(); err != nil {
		ctxlog.FromContext(r.Context()).Debug("Submission answered with an error envelope.", "request_id", env.RequestID, "status", env.Status, "error", err)
	}
	writeEnvelope(w, env)
}

type locationView struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

type roleView struct {
	Tag       string `json:"tag"`
	Operation string `json:"operation"`
}

type pipelineView struct {
	Name        string     `json:"name"`
	RequestInfo string     `json:"requestInfo"`
	Target      string     `json:"target"`
	Mapper      string     `json:"mapper"`
	Entity      string     `json:"entity"`
	Roles       []roleView `json:"roles"`
}

type modelsView struct {
	Namespace  string         `json:"namespace"`
	Locations  []locationView `json:"locations"`
	Symbols    []string       `json:"symbols"`
	Operations []string       `json:"operations,omitempty"`
	Pipeline   *pipelineView  `json:"pipeline,omitempty"`
}

func (s *server) models(w http.ResponseWriter, r *http.Request) {
	ns := s.cfg.Namespace
	if ns == nil || ns.Released() {
		http.NotFound(w, r)
		return
	}

	view := modelsView{
		Namespace: ns.ID(),
		Locations: []locationView{},
		Symbols:   ns.Names(),
	}
	for _, loc := range ns.Locations() {
		view.Locations = append(view.Locations, locationView{Path: loc.Path, Source: string(loc.Source)})
	}
	if s.cfg.Contract != nil {
		view.Operations = s.cfg.Contract.Operations()
	}
	if s.cfg.Pipeline != nil {
		p := s.cfg.Pipeline.Pipeline()
		pv := &pipelineView{
			Name:        p.Name,
			RequestInfo: p.RequestInfo,
			Target:      p.Target,
			Mapper:      p.Mapper,
			Entity:      p.Entity,
			Roles:       []roleView{},
		}
		for _, role := range s.cfg.Pipeline.Roles() {
			pv.Roles = append(pv.Roles, roleView{Tag: role.Tag, Operation: role.Operation})
		}
		view.Pipeline = pv
	}
	writeJSON(w, http.StatusOK, view)
}

func errorEnvelope(ctx context.Context, status int, code, message, detail string) service.Envelope {
	return service.Envelope{
		Message:   message,
		Code:      code,
		Details:   []string{detail},
		RequestID: service.RequestIDFrom(ctx),
		Status:    status,
	}
}

func writeEnvelope(w http.ResponseWriter, env service.Envelope) {
	status := env.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
