package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidatureCreateMetric = promauto.NewSummary(prometheus.SummaryOpts{Name: "candidature_create", Help: "Candidature creations"})

	candidatureAcceptedMetric = promauto.NewCounter(prometheus.CounterOpts{Name: "candidature_accepted", Help: "Candidatures accepted"})
	candidatureRejectedMetric = promauto.NewCounter(prometheus.CounterOpts{Name: "candidature_rejected", Help: "Candidatures rejected"})

	documentUploadMetric = promauto.NewSummary(prometheus.SummaryOpts{Name: "document_upload", Help: "Document uploads"})
)
