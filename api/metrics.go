package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagelens_documents_ingested_total",
		Help: "Documents ingested, duplicates excluded.",
	})

	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagelens_searches_total",
		Help: "Search requests by mode.",
	}, []string{"mode"})
)
