package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "photos_processed_total",
		Help:      "Total number of photos processed, by terminal outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "racepix",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages (download, derivative, ocr, face)",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "stage_failures_total",
		Help:      "Total number of stage-local failures",
	}, []string{"stage"})

	BibsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "bibs_detected_total",
		Help:      "Total number of bib candidates accepted after validation",
	})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "faces_detected_total",
		Help:      "Total number of face embeddings stored",
	})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "job_retries_total",
		Help:      "Total number of job delivery retries, per queue",
	}, []string{"queue"})

	RecoveryReenqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "recovery_reenqueued_total",
		Help:      "Photos re-enqueued by recovery sweeps",
	}, []string{"sweep"})

	RecoveryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "recovery_errors_total",
		Help:      "Per-item errors encountered during recovery sweeps",
	}, []string{"sweep"})

	DownloadCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "download_cache_hits_total",
		Help:      "Downloads served from the in-memory cache",
	})

	DownloadFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racepix",
		Name:      "download_fetches_total",
		Help:      "Downloads that went to the object store",
	})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "racepix",
		Name:      "search_duration_seconds",
		Help:      "Duration of search requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})
)
