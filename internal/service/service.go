// Package service implements the submit-request operation: it validates a
// raw body, runs the assembler and turns every outcome into an Envelope.
// No per-request error escapes Submit.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/dapgrid/internal/assembler"
	"github.com/vk/dapgrid/internal/contract"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/invoke"
	"github.com/vk/dapgrid/internal/metrics"
	"github.com/vk/dapgrid/internal/model"
	"github.com/vk/dapgrid/internal/notify"
)

// ErrValidation marks a body rejected before processing.
var ErrValidation = errors.New("validation failed")

// ContractPath is the contract operation submissions are validated against.
const ContractPath = "/request"

// Validator checks a raw body against the request contract.
type Validator interface {
	Validate(path, method string, body []byte, contentType string) contract.Result
}

// Processor decodes and processes request bodies.
type Processor interface {
	Decode(body []byte) (*invoke.Instance, error)
	Process(ctx context.Context, requestInfo *invoke.Instance) (*invoke.Instance, error)
	Decision(target *invoke.Instance) (*model.RulesResponse, error)
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes an event for every successful decision.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithNotifyTimeout bounds each notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// WithMetrics records submissions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRequestIDFunc replaces the request id generator.
func WithRequestIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service is safe for concurrent use.
type Service struct {
	validator     Validator
	processor     Processor
	notifier      notify.Notifier
	notifyTimeout time.Duration
	metrics       *metrics.Metrics
	newID         func() string

	mu       sync.Mutex
	draining bool
	inFlight sync.WaitGroup
}

// New creates a Service.
func New(v Validator, p Processor, opts ...Option) *Service {
	s := &Service{
		validator:     v,
		processor:     p,
		notifier:      notify.Nop{},
		notifyTimeout: 2 * time.Second,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type requestIDKey struct{}

// WithRequestID attaches a caller-supplied request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// enter registers a submission unless draining has begun.
func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inFlight.Add(1)
	return true
}

// Submit processes one raw request body.
func (s *Service) Submit(ctx context.Context, body []byte, contentType string) (env Envelope) {
	id := RequestIDFrom(ctx)
	if id == "" {
		id = s.newID()
	}
	ctx = ctxlog.With(ctx, "request_id", id)
	logger := ctxlog.FromContext(ctx)

	end := s.metrics.Begin()
	defer func() { end(env.Code) }()

	if !s.enter() {
		logger.Warn("Submission refused, service is draining.")
		return processingFailed(id, MessageProcessing, MessageShuttingDown, http.StatusServiceUnavailable)
	}
	defer s.inFlight.Done()

	if !json.Valid(body) {
		logger.Warn("Rejected malformed JSON payload.")
		return validationFailed(id, MessageInvalidJSON, []string{MessageInvalidJSON})
	}

	if res := s.validator.Validate(ContractPath, http.MethodPost, body, contentType); res.HasErrors {
		logger.Warn("Request failed contract validation.", "violations", len(res.Messages))
		return validationFailed(id, MessageValidation, res.Messages)
	}

	info, err := s.processor.Decode(body)
	if err != nil {
		if errors.Is(err, assembler.ErrDecode) {
			logger.Warn("Request body could not be decoded.", "error", err)
			return validationFailed(id, MessageInvalidJSON, []string{MessageInvalidJSON})
		}
		return s.failed(ctx, id, err)
	}

	target, err := s.processor.Process(ctx, info)
	if err != nil {
		return s.failed(ctx, id, err)
	}

	decision, err := s.processor.Decision(target)
	if err != nil {
		return s.failed(ctx, id, &assembler.Error{Stage: assembler.StageEvaluate, Err: err})
	}

	s.publish(ctx, id, info, decision)
	logger.Info("Request processed.")
	return success(id, decision)
}

func (s *Service) failed(ctx context.Context, id string, err error) Envelope {
	message, detail := summarize(err)
	stage := string(assembler.StageInput)
	var pe *assembler.Error
	if errors.As(err, &pe) {
		stage = string(pe.Stage)
	}
	s.metrics.ProcessingFailed(stage)
	ctxlog.FromContext(ctx).Error("Request processing failed.", "stage", stage, "error", err)
	return processingFailed(id, message, detail, http.StatusInternalServerError)
}

// publish notifies listeners of a decision. Failures are logged only.
func (s *Service) publish(ctx context.Context, id string, info *invoke.Instance, decision *model.RulesResponse) {
	if decision == nil {
		return
	}
	ev := notify.Event{RequestID: id, Decision: decision.Decision, At: time.Now().UTC()}
	if a, ok := info.Value().(interface{ GetActivityID() string }); ok {
		ev.ActivityID = a.GetActivityID()
	}

	nctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	err := s.notifier.Notify(nctx, ev)
	s.metrics.Notified(err == nil)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Decision notification failed.", "error", err)
	}
}

// Drain stops accepting submissions and waits for in-flight ones to finish
// or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		ctxlog.FromContext(ctx).Info("All in-flight submissions finished.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
