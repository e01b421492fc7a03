package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "runs_total",
			Help:      "Total number of sentinel passes, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "run_seconds",
			Help:      "Wall-clock duration of a sentinel pass in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 90, 120, 180, 240, 300},
		},
	)

	captureSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "capture_samples",
			Help:      "Latency samples recorded by the most recent capture.",
		},
	)

	captureSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "capture_seconds",
			Help:      "Duration of the most recent capture window in seconds.",
		},
	)

	effectiveThreshold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "effective_threshold_seconds",
			Help:      "Latency above which a worker was classified slow in the most recent pass.",
		},
	)

	slowWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "slow_workers",
			Help:      "Workers classified slow in the most recent pass.",
		},
	)

	workerAverageSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "worker_average_latency_seconds",
			Help:      "Average latency per classified worker in the most recent pass.",
		},
		[]string{"worker"},
	)

	workersStoppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "workers_stopped_total",
			Help:      "Workers stopped by remediation.",
		},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		captureSamples,
		captureSeconds,
		effectiveThreshold,
		slowWorkers,
		workerAverageSeconds,
		workersStoppedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records the outcome of a finished pass.
func ObserveRun(report models.Report) {
	runsTotal.WithLabelValues(string(report.Outcome)).Inc()

	duration := report.FinishedAt.Sub(report.StartedAt)
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())

	if report.Capture != nil {
		captureSamples.Set(float64(report.Capture.TotalSamples))
		captureSeconds.Set(report.Capture.Elapsed.Seconds())
	}
	if report.Thresholds != nil {
		effectiveThreshold.Set(report.Thresholds.Effective)
	}

	workerAverageSeconds.Reset()
	for _, v := range report.Verdicts {
		workerAverageSeconds.WithLabelValues(string(v.Worker)).Set(v.Average)
	}
	slowWorkers.Set(float64(len(report.Slow)))

	if report.Outcome == models.OutcomeStopped {
		workersStoppedTotal.Inc()
	}
}

// Push sends everything in gatherer to a Pushgateway under job.
func Push(ctx context.Context, url, job string, gatherer prometheus.Gatherer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return push.New(url, job).Gatherer(gatherer).PushContext(ctx)
}
