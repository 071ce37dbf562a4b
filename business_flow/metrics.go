package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_sweeps_total",
			Help: "Number of dispatcher sweeps that ran",
		},
	)

	// result is sent, retry, failed, stale or released
	dispatchEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_emails_total",
			Help: "Campaign emails handled by the dispatcher partitioned by outcome",
		},
		[]string{"result"},
	)

	// result is ok, retry or exhausted
	contentGenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_generation_total",
			Help: "Calls to the content generation collaborator partitioned by outcome",
		},
		[]string{"result"},
	)

	trackingClicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_clicks_total",
			Help: "Recorded tracking link clicks partitioned by first-click",
		},
		[]string{"first"},
	)

	trackingReportsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_reports_total",
			Help: "Phishing reports submitted from the warning page",
		},
	)
)
