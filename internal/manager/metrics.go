package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diffusiond",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Records waiting in the admission queue",
	})

	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "queue",
			Name:      "admissions_total",
			Help:      "Admission attempts by result",
		},
		[]string{"result"},
	)

	queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diffusiond",
		Subsystem: "queue",
		Name:      "wait_seconds",
		Help:      "Time records spent queued before dispatch",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "diffusiond",
		Subsystem: "worker",
		Name:      "batch_size",
		Help:      "Number of records per dequeued batch",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diffusiond",
			Subsystem: "worker",
			Name:      "generation_duration_seconds",
			Help:      "Model generate call duration per record",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"outcome"},
	)

	adapterLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffusiond",
			Subsystem: "worker",
			Name:      "adapter_loads_total",
			Help:      "Adapter switches by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, admissionsTotal, queueWait, batchSize, generationDuration, adapterLoadsTotal)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
