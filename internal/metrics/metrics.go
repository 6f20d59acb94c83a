// Package metrics exposes the Prometheus collectors for uploads, redirects
// and analytics caching.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "rosterwatch"

	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeDecode  = "decode_error"
	OutcomeStorage = "storage_error"
)

var (
	// UploadsTotal counts roster uploads by outcome.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "uploads_total",
		Help:      "Total roster uploads by outcome.",
	}, []string{"outcome"})

	// ReconciledMembers counts member transitions applied by reconciliation.
	ReconciledMembers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "reconciled_members_total",
		Help:      "Members classified by reconciliation, by kind (new, updated, churned, reactivated, purged).",
	}, []string{"kind"})

	// UploadDuration tracks parse-to-commit latency.
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "upload_duration_seconds",
		Help:      "Roster upload processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// HistoryRecordFailures counts uploads whose history row could not be written.
	HistoryRecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "history_record_failures_total",
		Help:      "Committed uploads that could not be recorded in upload history.",
	})

	// ActiveMembers reports the active member count after the last upload.
	ActiveMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "roster",
		Name:      "active_members",
		Help:      "Active (non-placeholder) members after the last recorded upload.",
	})

	// RedirectClicksTotal counts redirects by whether the channel had a tracking link.
	RedirectClicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "links",
		Name:      "redirect_clicks_total",
		Help:      "Redirect lookups by link kind (tracked, untracked).",
	}, []string{"kind"})

	// CacheLookups counts analytics cache lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analytics",
		Name:      "cache_lookups_total",
		Help:      "Analytics cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	// HTTPRequestsTotal counts API requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern and status code.",
	}, []string{"route", "status"})
)
