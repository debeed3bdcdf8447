package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink exports request outcomes as Prometheus metrics.
type PrometheusSink struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	ttft     *prometheus.HistogramVec
	chunks   *prometheus.CounterVec
}

// NewPrometheusSink registers the inference metrics with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inference_requests_total",
				Help: "Inference requests by service, task type and outcome.",
			},
			[]string{"service", "task_type", "outcome", "streamed"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inference_request_duration_seconds",
				Help:    "Histogram of inference request latency (seconds) until the terminal outcome.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service", "outcome"},
		),
		ttft: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inference_time_to_first_chunk_seconds",
				Help:    "Histogram of the delay before the first streamed chunk.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		chunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inference_stream_chunks_total",
				Help: "Chunks delivered to streaming consumers.",
			},
			[]string{"service"},
		),
	}
}

func (p *PrometheusSink) Record(_ context.Context, rec Record) {
	service := rec.Service
	if service == "" {
		service = "unknown"
	}
	taskType := string(rec.TaskType)
	if taskType == "" {
		taskType = "unknown"
	}
	streamed := "false"
	if rec.Streamed {
		streamed = "true"
	}

	p.requests.WithLabelValues(service, taskType, rec.Outcome(), streamed).Inc()
	p.latency.WithLabelValues(service, rec.Outcome()).Observe(rec.Latency.Seconds())
	if rec.Streamed {
		if rec.TTFT > 0 {
			p.ttft.WithLabelValues(service).Observe(rec.TTFT.Seconds())
		}
		p.chunks.WithLabelValues(service).Add(float64(rec.Chunks))
	}
}

// RegisterActiveStreams exports the number of live streaming tasks as a gauge.
func RegisterActiveStreams(reg prometheus.Registerer, live func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "inference_active_streams",
			Help: "Streaming inference tasks currently in flight.",
		},
		func() float64 { return float64(live()) },
	)
}
