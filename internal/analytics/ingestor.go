package analytics

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"github.com/nulzo/inference-gateway/internal/telemetry"
	"go.uber.org/zap"
)

// Ingestor handles the asynchronous persistence of request logs. It is a telemetry.Sink.
type Ingestor interface {
	telemetry.Sink
	Log(log *model.RequestLog)
	Start(ctx context.Context)
	// Stop flushes buffered logs and waits for the worker to exit.
	Stop()
}

type IngestorOptions struct {
	BufferSize int
	BatchSize  int
	FlushTime  time.Duration
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	logChan   chan *model.RequestLog
	batchSize int
	flushTime time.Duration

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.Repository, opts IngestorOptions) Ingestor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushTime <= 0 {
		opts.FlushTime = 5 * time.Second
	}
	return &ingestor{
		logger:    logger,
		repo:      repo,
		logChan:   make(chan *model.RequestLog, opts.BufferSize),
		batchSize: opts.BatchSize,
		flushTime: opts.FlushTime,
		done:      make(chan struct{}),
	}
}

// Record converts a telemetry record into a request log row.
func (i *ingestor) Record(_ context.Context, rec telemetry.Record) {
	id := rec.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	log := &model.RequestLog{
		ID:          id,
		InferenceID: rec.InferenceID,
		Service:     rec.Service,
		TaskType:    string(rec.TaskType),
		Outcome:     rec.Outcome(),
		ErrorKind:   string(rec.Kind),
		StatusCode:  rec.Status,
		InputCount:  rec.Inputs,
		ChunkCount:  rec.Chunks,
		LatencyMS:   rec.Latency.Milliseconds(),
		IsStreamed:  rec.Streamed,
		TaskID:      rec.TaskID,
		IPAddress:   rec.ClientIP,
		UserAgent:   rec.UserAgent,
		CreatedAt:   at.UTC(),
	}
	if rec.TTFT > 0 {
		log.TTFTMS = sql.NullInt64{Int64: rec.TTFT.Milliseconds(), Valid: true}
	}
	i.Log(log)
}

func (i *ingestor) Log(log *model.RequestLog) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.stopped {
		i.logger.Warn("Analytics ingestor stopped, dropping log", zap.String("request_id", log.ID))
		return
	}

	select {
	case i.logChan <- log:
	default:
		i.logger.Warn("Analytics buffer full, dropping log", zap.String("request_id", log.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	i.mu.Lock()
	if !i.stopped {
		i.stopped = true
		close(i.logChan)
	}
	i.mu.Unlock()
	<-i.done
}

func (i *ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*model.RequestLog, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// detached from ctx so the final flush still lands during shutdown
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := i.repo.WithTx(flushCtx, func(tx store.Repository) error {
			for _, log := range batch {
				if err := tx.Requests().Log(flushCtx, log); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			i.logger.Error("Failed to persist request log batch", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-i.logChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// drain what is already buffered
			for {
				select {
				case log, ok := <-i.logChan:
					if !ok {
						flush()
						return
					}
					batch = append(batch, log)
				default:
					flush()
					return
				}
			}
		}
	}
}
