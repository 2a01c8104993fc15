package collect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylark_collect_pages_total",
		Help: "Pages fetched from providers.",
	}, []string{"provider"})

	insertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylark_collect_posts_inserted_total",
		Help: "Posts inserted into the canonical store.",
	}, []string{"provider"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylark_collect_conflicts_total",
		Help: "Duplicate posts skipped during ingest.",
	}, []string{"provider"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skylark_collect_jobs_total",
		Help: "Fetch jobs by terminal status.",
	}, []string{"provider", "status"})
)
