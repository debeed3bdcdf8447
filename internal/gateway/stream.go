package gateway

import (
	"context"
	"errors"

	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/task"
	"go.uber.org/zap"
)

func (s *Service) stream(ctx context.Context, streamer backend.Streamer, svc backend.Service, model inference.Model, r *inference.Request, resp *Response, rec *recorder) (*Response, error) {
	t, err := s.tasks.Register(ctx, "", task.Meta{
		InferenceID: model.InferenceID,
		Service:     svc.Name(),
		TaskType:    model.TaskType,
	})
	if err != nil {
		return nil, err
	}
	rec.rec.Streamed = true
	rec.rec.TaskID = t.ID

	// the task context follows the request, so a disconnecting client cancels the task
	streamCtx, cancel := context.WithTimeoutCause(t.Context(), r.Timeout, inference.TimeoutError(r.Timeout))

	src, err := streamer.Stream(streamCtx, model, r)
	if err != nil {
		mapped := s.backendError(streamCtx, ctx, svc.Name(), err)
		cancel()
		s.complete(t, mapped)
		return nil, mapped
	}

	out := make(chan inference.StreamEvent, s.opts.StreamBuffer)
	resp.Stream = out
	resp.Task = t

	go s.forward(ctx, streamCtx, cancel, t, svc.Name(), src, out, rec)
	return resp, nil
}

// forward relays backend events to the consumer in order, performs the single terminal
// transition of the task and records telemetry.
func (s *Service) forward(reqCtx, streamCtx context.Context, cancel context.CancelFunc, t *task.Task, service string,
	src <-chan inference.StreamEvent, out chan<- inference.StreamEvent, rec *recorder) {
	defer close(out)
	// releases the producer if it is still blocked on a send
	defer cancel()

	var streamErr error
	completed := false

loop:
	for {
		select {
		case ev, ok := <-src:
			if !ok {
				break loop
			}
			if ev.Err != nil {
				streamErr = ev.Err
				break loop
			}
			if ev.Chunk == nil {
				continue
			}
			if rec.rec.Chunks == 0 {
				rec.rec.TTFT = s.now().Sub(rec.start)
			}

			if ev.Chunk.Final {
				// leave the live set before the consumer can observe the final chunk
				if err := s.tasks.Complete(t.ID, task.Completed()); err != nil {
					streamErr = err
					break loop
				}
				completed = true
				rec.rec.Chunks++
				t.RecordChunk()
				select {
				case out <- ev:
				case <-reqCtx.Done():
				}
				break loop
			}

			select {
			case out <- ev:
				rec.rec.Chunks++
				t.RecordChunk()
			case <-streamCtx.Done():
				streamErr = context.Cause(streamCtx)
				break loop
			}
		case <-streamCtx.Done():
			streamErr = context.Cause(streamCtx)
			break loop
		}
	}

	if completed {
		rec.finish(reqCtx, nil)
		return
	}

	var surfaced error
	if streamErr != nil {
		surfaced = s.streamError(streamCtx, reqCtx, service, streamErr)
	}
	if defect := s.complete(t, surfaced); defect != nil && surfaced == nil {
		surfaced = defect
	}

	if surfaced != nil {
		s.logFailure(&inference.Request{InferenceID: t.Meta.InferenceID}, rec, surfaced)
		select {
		case out <- inference.StreamEvent{Err: surfaced}:
		case <-reqCtx.Done():
		}
	}
	rec.finish(reqCtx, surfaced)
}

func (s *Service) streamError(streamCtx, reqCtx context.Context, service string, err error) error {
	var ie *inference.Error
	if errors.As(err, &ie) && ie.Kind == inference.KindStreamingTaskDefect {
		return err
	}
	return s.backendError(streamCtx, reqCtx, service, err)
}

// complete picks the terminal state matching err and applies it.
func (s *Service) complete(t *task.Task, err error) error {
	var outcome task.Outcome
	switch inference.KindOf(err) {
	case "":
		outcome = task.Completed()
	case inference.KindTimeout, inference.KindCancelled:
		outcome = task.Cancelled(err)
	default:
		outcome = task.Failed(err)
	}
	if cerr := s.tasks.Complete(t.ID, outcome); cerr != nil {
		s.log.Error("streaming task could not be completed",
			zap.String("task_id", t.ID),
			zap.Error(cerr))
		return cerr
	}
	return nil
}
