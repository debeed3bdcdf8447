// Package gateway dispatches inference requests to backend services.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/registry"
	"github.com/nulzo/inference-gateway/internal/task"
	"github.com/nulzo/inference-gateway/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/nulzo/inference-gateway/internal/gateway"

	DefaultTimeout      = 30 * time.Second
	DefaultStreamBuffer = 16
)

var errShuttingDown = &inference.Error{Kind: inference.KindCancelled, Message: "Streaming task cancelled: server is shutting down", Err: task.ErrShutdown}

type Options struct {
	// DefaultTimeout applies to requests that carry no timeout.
	DefaultTimeout time.Duration
	// StreamBuffer is the capacity of the channel handed to streaming consumers.
	StreamBuffer int
}

// Response holds either a complete result or a stream of chunks with its task handle.
type Response struct {
	InferenceID string
	Service     string
	TaskType    inference.TaskType

	Result inference.Results

	// Stream is closed after the terminal event. The consumer must drain it or cancel the
	// context passed to Dispatch.
	Stream <-chan inference.StreamEvent
	Task   *task.Task
}

func (r *Response) Streaming() bool { return r.Stream != nil }

// Service is the dispatch coordinator.
type Service struct {
	log      *zap.Logger
	models   registry.ModelRegistry
	services *backend.Registry
	checker  backend.Checker
	tasks    *task.Manager
	sink     telemetry.Sink
	tracer   trace.Tracer
	opts     Options
	now      func() time.Time
}

func NewService(log *zap.Logger, models registry.ModelRegistry, services *backend.Registry, tasks *task.Manager, sink telemetry.Sink, opts Options) *Service {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Service{
		log:      log,
		models:   models,
		services: services,
		tasks:    tasks,
		sink:     sink,
		tracer:   otel.Tracer(tracerName),
		opts:     opts,
		now:      time.Now,
	}
}

// Tasks exposes the streaming task manager for inspection and cancellation.
func (s *Service) Tasks() *task.Manager { return s.tasks }

// Dispatch resolves the endpoint, checks task-type compatibility and runs the inference. Every
// error it returns is an *inference.Error. Telemetry is recorded exactly once per call, after the
// terminal outcome: on return for single-shot calls, when the stream ends otherwise.
func (s *Service) Dispatch(ctx context.Context, req *inference.Request) (*Response, error) {
	if req == nil {
		req = &inference.Request{}
	}
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "inference.dispatch", trace.WithAttributes(
		attribute.String("inference.id", req.InferenceID),
		attribute.String("inference.task_type", string(req.TaskType)),
		attribute.Bool("inference.stream", req.Stream),
	))

	client := telemetry.ClientInfoFrom(ctx)
	rec := &recorder{
		sink: s.sink,
		span: span,
		rec: telemetry.Record{
			RequestID:   client.RequestID,
			InferenceID: req.InferenceID,
			TaskType:    req.TaskType,
			Inputs:      len(req.Input),
			ClientIP:    client.IP,
			UserAgent:   client.UserAgent,
		},
		start: start,
		now:   s.now,
	}

	resp, err := s.dispatch(ctx, req, rec)
	if err != nil {
		err = s.normalize(ctx, err)
		s.logFailure(req, rec, err)
		rec.finish(ctx, err)
		return nil, err
	}
	if !resp.Streaming() {
		rec.finish(ctx, nil)
	}
	return resp, nil
}

func (s *Service) dispatch(ctx context.Context, req *inference.Request, rec *recorder) (*Response, error) {
	r, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	rec.rec.TaskType = r.TaskType

	unparsed, err := s.models.Resolve(ctx, r.InferenceID)
	if err != nil {
		return nil, err
	}
	rec.rec.Service = unparsed.Service
	if r.TaskType == inference.TaskAny {
		rec.rec.TaskType = unparsed.TaskType
	}

	svc, err := s.services.Lookup(unparsed.Service)
	if err != nil {
		return nil, inference.ServiceUnavailable(unparsed.InferenceID, unparsed.Service, nil)
	}

	model, err := svc.Parse(unparsed)
	if err != nil {
		return nil, inference.ServiceUnavailable(unparsed.InferenceID, unparsed.Service, err)
	}

	if !s.checker.IsCompatible(svc, model, r.TaskType) {
		return nil, inference.TaskTypeMismatch(s.checker.Explain(svc, model, r.TaskType))
	}

	r.TaskSettings = inference.MergeSettings(model.TaskSettings, r.TaskSettings)

	resp := &Response{
		InferenceID: model.InferenceID,
		Service:     svc.Name(),
		TaskType:    rec.rec.TaskType,
	}

	if r.Stream {
		effective := effectiveTaskType(model, r)
		if streamer, ok := backend.CanStream(svc, effective); ok {
			return s.stream(ctx, streamer, svc, model, r, resp, rec)
		}
		s.log.Debug("service cannot stream this task type, answering in a single shot",
			zap.String("inference_id", model.InferenceID),
			zap.String("service", svc.Name()),
			zap.String("task_type", string(effective)))
	}

	callCtx, cancel := context.WithTimeoutCause(ctx, r.Timeout, inference.TimeoutError(r.Timeout))
	defer cancel()

	result, err := svc.Infer(callCtx, model, r)
	if err != nil {
		return nil, s.backendError(callCtx, ctx, svc.Name(), err)
	}
	resp.Result = result
	return resp, nil
}

// effectiveTaskType is the task the backend will perform: the requested one when concrete,
// otherwise the endpoint's own.
func effectiveTaskType(model inference.Model, r *inference.Request) inference.TaskType {
	if r.TaskType.IsConcrete() {
		return r.TaskType
	}
	return model.TaskType
}

// prepare validates the request shape and returns a normalized copy.
func (s *Service) prepare(req *inference.Request) (*inference.Request, error) {
	if req.InferenceID == "" {
		return nil, inference.ValidationError("[inference_id] is required")
	}

	r := *req
	tt, err := inference.ParseTaskType(string(req.TaskType))
	if err != nil {
		return nil, inference.ValidationError("%v", err)
	}
	r.TaskType = tt

	it, err := inference.ParseInputType(string(req.InputType))
	if err != nil {
		return nil, inference.ValidationError("%v", err)
	}
	r.InputType = it

	switch {
	case req.Timeout < 0:
		return nil, inference.ValidationError("[timeout] must not be negative, found [%s]", req.Timeout)
	case req.Timeout == 0:
		r.Timeout = s.opts.DefaultTimeout
	}
	return &r, nil
}

// backendError maps a failed backend call. Deadline and cancellation causes win over whatever
// error the backend produced while being interrupted.
func (s *Service) backendError(callCtx, reqCtx context.Context, service string, err error) error {
	if callCtx.Err() != nil {
		cause := context.Cause(callCtx)
		var ie *inference.Error
		switch {
		case errors.As(cause, &ie):
			return ie
		case errors.Is(cause, task.ErrShutdown):
			return errShuttingDown
		case reqCtx.Err() != nil:
			return &inference.Error{Kind: inference.KindCancelled, Message: "Request cancelled by the caller", Err: cause}
		}
	}
	return inference.BackendError(service, err)
}

// normalize guarantees every returned error carries a kind.
func (s *Service) normalize(ctx context.Context, err error) error {
	var ie *inference.Error
	if errors.As(err, &ie) {
		return err
	}
	if ctx.Err() != nil {
		return &inference.Error{Kind: inference.KindCancelled, Message: "Request cancelled by the caller", Err: err}
	}
	return &inference.Error{Kind: inference.KindInternal, Message: fmt.Sprintf("Inference dispatch failed: %v", err), Err: err}
}

func (s *Service) logFailure(req *inference.Request, rec *recorder, err error) {
	kind := inference.KindOf(err)
	fields := []zap.Field{
		zap.String("inference_id", req.InferenceID),
		zap.String("service", rec.rec.Service),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	}
	switch {
	case kind.ServerSide():
		s.log.Error("inference dispatch failed", fields...)
	case kind == inference.KindBackendInference || kind == inference.KindTimeout:
		s.log.Warn("inference dispatch failed", fields...)
	default:
		s.log.Debug("inference request rejected", fields...)
	}
}

// recorder reports a request to the telemetry sink and closes its span, once.
type recorder struct {
	once  sync.Once
	sink  telemetry.Sink
	span  trace.Span
	rec   telemetry.Record
	start time.Time
	now   func() time.Time
}

func (r *recorder) finish(ctx context.Context, err error) {
	r.once.Do(func() {
		end := r.now()
		r.rec.Latency = end.Sub(r.start)
		r.rec.At = end
		r.rec.Kind = inference.KindOf(err)
		if err != nil {
			r.rec.Status = r.rec.Kind.Status()
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, string(r.rec.Kind))
		} else {
			r.rec.Status = 200
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.SetAttributes(
			attribute.String("inference.service", r.rec.Service),
			attribute.Int("inference.chunks", r.rec.Chunks),
		)
		r.span.End()

		// the request context may already be gone for streams
		r.sink.Record(context.WithoutCancel(ctx), r.rec)
	})
}
