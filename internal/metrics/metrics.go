package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_http_responses_total",
		Help: "Responses served by the metrics endpoint, by path and status code",
	}, []string{"endpoint", "status_code"})

	// Tuning Metrics
	TuneDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemm_tune_duration_ms",
		Help:    "Duration of heuristic algorithm searches in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10µs to ~5s
	}, []string{"backend"})

	TuneResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_tune_results_total",
		Help: "Total number of tuning requests by outcome (found, empty, timeout, unsupported, error)",
	}, []string{"backend", "outcome"})

	TuneCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_tune_candidates",
		Help: "Number of candidates returned by the last tuning request",
	})

	TuningCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_tuning_cache_total",
		Help: "Tuning cache lookups by result (hit, miss)",
	}, []string{"result"})

	// Execution Metrics
	MatMulDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gemm_matmul_duration_ms",
		Help:    "Duration of tuned matrix multiplications in milliseconds, including synchronization",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 24), // 10µs to ~84s
	})

	MatMulExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_matmul_executions_total",
		Help: "Total number of tuned matrix multiplications by backend and result",
	}, []string{"backend", "result"})

	MatMulGFLOPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_matmul_gflops",
		Help: "Performance of the last tuned matrix multiplication in GFLOPS",
	})

	WorkspaceBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_workspace_bytes",
		Help: "Workspace allocated for the last tuned matrix multiplication in bytes",
	})

	VerifyMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemm_verify_mismatches_total",
		Help: "Total number of output elements differing from the reference GEMM",
	})

	// Device Metrics
	DeviceMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_device_memory_used_bytes",
		Help: "Device memory currently in use in bytes",
	})
)
